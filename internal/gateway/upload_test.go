package gateway

import (
	"bytes"
	"encoding/base64"
	"testing"
)

type nopWriteCloser struct{}

func (nopWriteCloser) Write(p []byte) (int, error) { return len(p), nil }
func (nopWriteCloser) Close() error                { return nil }

type bufWriteCloser struct {
	buf    bytes.Buffer
	closed bool
}

func (b *bufWriteCloser) Write(p []byte) (int, error) { return b.buf.Write(p) }
func (b *bufWriteCloser) Close() error                { b.closed = true; return nil }

func TestHandleUploadChunk_UnknownUpload(t *testing.T) {
	r := NewRegistry()
	_, err := HandleUploadChunk(r, "s1", "missing", "", nil)
	if err == nil {
		t.Fatalf("expected error for unknown upload")
	}
}

func TestHandleUploadChunk_BadBase64(t *testing.T) {
	r := NewRegistry()
	stream := &bufWriteCloser{}
	r.InsertUpload(&ActiveUpload{UploadID: "u1", SessionID: "s1", TotalSize: 10, stream: stream})

	_, err := HandleUploadChunk(r, "s1", "u1", "not-valid-base64!!", nil)
	if err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestHandleUploadChunk_PartialThenComplete(t *testing.T) {
	r := NewRegistry()
	stream := &bufWriteCloser{}
	r.InsertUpload(&ActiveUpload{UploadID: "u1", SessionID: "s1", TotalSize: 5, stream: stream})

	chunk1 := base64.StdEncoding.EncodeToString([]byte("ab"))
	res, err := HandleUploadChunk(r, "s1", "u1", chunk1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Complete {
		t.Fatalf("expected incomplete after 2 of 5 bytes")
	}
	if res.BytesWritten != 2 {
		t.Fatalf("expected 2 bytes written, got %d", res.BytesWritten)
	}

	chunk2 := base64.StdEncoding.EncodeToString([]byte("cde"))
	res, err = HandleUploadChunk(r, "s1", "u1", chunk2, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Complete {
		t.Fatalf("expected complete after 5 of 5 bytes")
	}
	if !stream.closed {
		t.Fatalf("expected stream to be closed on completion")
	}
	if res.Entry != nil {
		t.Fatalf("expected nil Entry when sftp client is nil")
	}
	if _, ok := r.GetUpload("u1", "s1"); ok {
		t.Fatalf("expected upload bookkeeping to be removed on completion")
	}
	if stream.buf.String() != "abcde" {
		t.Fatalf("expected written bytes %q, got %q", "abcde", stream.buf.String())
	}
}

func TestHandleUploadChunk_AlreadyFinished(t *testing.T) {
	r := NewRegistry()
	stream := &bufWriteCloser{}
	u := &ActiveUpload{UploadID: "u1", SessionID: "s1", TotalSize: 1, stream: stream, done: true}
	r.InsertUpload(u)

	_, err := HandleUploadChunk(r, "s1", "u1", base64.StdEncoding.EncodeToString([]byte("a")), nil)
	if err == nil {
		t.Fatalf("expected error writing to an already-finished upload")
	}
}

func TestCancelUpload_ClosesAndRemoves(t *testing.T) {
	r := NewRegistry()
	stream := &bufWriteCloser{}
	r.InsertUpload(&ActiveUpload{UploadID: "u1", SessionID: "s1", stream: stream})

	if err := CancelUpload(r, "s1", "u1", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stream.closed {
		t.Fatalf("expected stream to be closed on cancel")
	}
	if _, ok := r.GetUpload("u1", "s1"); ok {
		t.Fatalf("expected upload bookkeeping to be removed on cancel")
	}
}

func TestCancelUpload_Unknown(t *testing.T) {
	r := NewRegistry()
	if err := CancelUpload(r, "s1", "missing", nil); err == nil {
		t.Fatalf("expected error for unknown upload")
	}
}
