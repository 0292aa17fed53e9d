package gateway

import "testing"

func newTestRouter() (*Router, *Registry) {
	reg := NewRegistry()
	return &Router{Registry: reg, Bus: NewEventBus(nil), Keeper: NewKeeper(reg)}, reg
}

func TestRequiresLiveSession(t *testing.T) {
	cases := map[string]bool{
		"ssh:input":     true,
		"ssh:resize":    true,
		"sftp:stat":     true,
		"docker:command": true,
		"ssh:connect":   false,
		"pong":          false,
	}
	for msgType, want := range cases {
		if got := requiresLiveSession(msgType); got != want {
			t.Errorf("requiresLiveSession(%q) = %v, want %v", msgType, got, want)
		}
	}
}

func TestRequiresRequestID(t *testing.T) {
	if !requiresRequestID("sftp:readdir") {
		t.Errorf("expected sftp:* to require a requestId")
	}
	if requiresRequestID("docker:get_status") {
		t.Errorf("expected docker:* to not require a requestId")
	}
}

func TestDispatch_MalformedJSON(t *testing.T) {
	rt, reg := newTestRouter()
	conn := &fakeClientConn{}
	reg.Insert(&SessionState{ID: "s1", Client: conn})

	rt.Dispatch("s1", []byte("{not json"))

	if len(conn.sent) != 1 || conn.sent[0].Type != "error" {
		t.Fatalf("expected a single error reply, got %+v", conn.sent)
	}
}

func TestDispatch_UnknownSessionForLiveOp(t *testing.T) {
	rt, _ := newTestRouter()
	// No session registered for "ghost" — ssh:input requires one.
	rt.Dispatch("ghost", []byte(`{"type":"ssh:input"}`))
	// replyGenericError looks the session back up and finds nothing, so it
	// silently no-ops rather than panicking.
}

func TestDispatch_SFTPWithoutRequestID(t *testing.T) {
	rt, reg := newTestRouter()
	conn := &fakeClientConn{}
	reg.Insert(&SessionState{ID: "s1", Client: conn})

	rt.Dispatch("s1", []byte(`{"type":"sftp:stat","payload":{"path":"/tmp"}}`))

	if len(conn.sent) != 1 || conn.sent[0].Type != "sftp_error" {
		t.Fatalf("expected sftp_error reply, got %+v", conn.sent)
	}
	if conn.sent[0].Payload != "requestId is required for sftp operations" {
		t.Fatalf("expected bare string payload, got %#v", conn.sent[0].Payload)
	}
}

func TestDispatch_UnsupportedType(t *testing.T) {
	rt, reg := newTestRouter()
	conn := &fakeClientConn{}
	reg.Insert(&SessionState{ID: "s1", Client: conn})

	rt.Dispatch("s1", []byte(`{"type":"bogus:type"}`))

	if len(conn.sent) != 1 || conn.sent[0].Type != "error" {
		t.Fatalf("expected error reply for unsupported type, got %+v", conn.sent)
	}
}

func TestDispatch_ConnectWithoutResolver(t *testing.T) {
	rt, reg := newTestRouter()
	conn := &fakeClientConn{}
	s := &SessionState{ID: "s1", Client: conn}
	reg.Insert(s)

	rt.Dispatch("s1", []byte(`{"type":"ssh:connect","payload":{"connectionId":1}}`))

	var sawError bool
	for _, m := range conn.sent {
		if m.Type == "ssh:error" {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("expected ssh:error when no ResolveConnection is configured, got %+v", conn.sent)
	}
	if !s.IsTornDown() {
		t.Fatalf("expected session to be torn down after a failed connect")
	}
}

func TestDispatch_ConnectNegativeConnectionID(t *testing.T) {
	rt, reg := newTestRouter()
	conn := &fakeClientConn{}
	s := &SessionState{ID: "s1", Client: conn}
	reg.Insert(s)
	rt.ResolveConnection = func(int) (ConnectSpec, string, error) {
		t.Fatalf("resolver should not be called for an invalid connectionId")
		return ConnectSpec{}, "", nil
	}

	rt.Dispatch("s1", []byte(`{"type":"ssh:connect","payload":{"connectionId":-1}}`))

	if len(conn.sent) == 0 || conn.sent[0].Type != "ssh:error" {
		t.Fatalf("expected ssh:error for negative connectionId, got %+v", conn.sent)
	}
}

func TestPayloadHelpers(t *testing.T) {
	m := payloadMap(Message{Payload: map[string]any{"path": "/tmp", "size": float64(3)}})
	if stringField(m, "path") != "/tmp" {
		t.Errorf("expected path field /tmp")
	}
	if intField(m, "size") != 3 {
		t.Errorf("expected size field 3")
	}
	if stringField(m, "missing") != "" {
		t.Errorf("expected empty string for missing field")
	}
	if intField(m, "missing") != 0 {
		t.Errorf("expected zero for missing field")
	}

	empty := payloadMap(Message{Payload: "not a map"})
	if len(empty) != 0 {
		t.Errorf("expected empty map for non-map payload")
	}
}
