package gateway

import "testing"

type fakeClientConn struct {
	sent   []Message
	closed bool
}

func (f *fakeClientConn) Send(msg Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeClientConn) Close() error {
	f.closed = true
	return nil
}

func TestRegistry_InsertGet(t *testing.T) {
	r := NewRegistry()
	s := &SessionState{ID: "s1", Client: &fakeClientConn{}}
	r.Insert(s)

	got, ok := r.Get("s1")
	if !ok || got != s {
		t.Fatalf("expected to find inserted session")
	}
	if r.Len() != 1 {
		t.Fatalf("expected len 1, got %d", r.Len())
	}

	if _, ok := r.Get("missing"); ok {
		t.Fatalf("expected missing session to be absent")
	}
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry()
	s := &SessionState{ID: "s1", Client: &fakeClientConn{}}
	r.Insert(s)

	r.Remove("s1")
	if _, ok := r.Get("s1"); ok {
		t.Fatalf("expected session to be removed")
	}
	if !s.IsTornDown() {
		t.Fatalf("expected session to be marked torn down")
	}

	// Second call must be a no-op, not a panic on nil channels/transport.
	r.Remove("s1")
}

func TestRegistry_RemoveUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	r.Remove("never-existed")
}

func TestRegistry_UploadFilteredBySession(t *testing.T) {
	r := NewRegistry()
	u := &ActiveUpload{UploadID: "u1", SessionID: "s1"}
	r.InsertUpload(u)

	if _, ok := r.GetUpload("u1", "s2"); ok {
		t.Fatalf("expected upload lookup from wrong session to fail")
	}
	got, ok := r.GetUpload("u1", "s1")
	if !ok || got != u {
		t.Fatalf("expected upload lookup from owning session to succeed")
	}

	r.RemoveUpload("u1")
	if _, ok := r.GetUpload("u1", "s1"); ok {
		t.Fatalf("expected upload to be gone after RemoveUpload")
	}
}

func TestRegistry_RemoveCancelsSessionUploads(t *testing.T) {
	r := NewRegistry()
	s := &SessionState{ID: "s1", Client: &fakeClientConn{}}
	r.Insert(s)
	u := &ActiveUpload{UploadID: "u1", SessionID: "s1", stream: nopWriteCloser{}}
	r.InsertUpload(u)

	r.Remove("s1")

	if _, ok := r.GetUpload("u1", "s1"); ok {
		t.Fatalf("expected upload belonging to removed session to be cancelled")
	}
	if !u.done {
		t.Fatalf("expected upload to be marked done on session teardown")
	}
}
