package gateway

import (
	"errors"
	"testing"
)

func TestError_FormatWithoutCause(t *testing.T) {
	err := New(KindPrecondition, "sftp not open")
	want := "precondition: sftp not open"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestError_FormatWithCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(KindTransport, "connect", cause)
	want := "transport: connect: dial tcp: refused"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(KindIO, "upload:chunk write", cause)
	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to find the wrapped cause")
	}
}
