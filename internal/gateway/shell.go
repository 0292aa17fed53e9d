package gateway

import (
	"encoding/base64"
	"io"
	"log"

	"github.com/nexsess/gateway/internal/terminal"
)

const (
	defaultTermCols = 80
	defaultTermRows = 24
)

// OpenShell implements the Shell Channel (C3): open a PTY on the session's
// already-connected SSH transport, emit ssh:connected exactly once, and
// start the PTY->client forwarding worker. teardown is invoked exactly once
// when the shell ends, whatever the cause.
func OpenShell(s *SessionState, bus *EventBus, teardown func(reason string)) error {
	sh, err := terminal.NewShellSession(s.Transport(), "")
	if err != nil {
		bus.Emit(Event{Type: EventSSHShellFailure, UserID: s.UserID, Username: s.Username,
			Details: map[string]any{"sessionId": s.ID, "error": err.Error()}})
		return Wrap(KindShell, "open pty", err)
	}
	s.SetShell(sh)

	if err := s.Client.Send(Message{Type: "ssh:connected", Payload: map[string]any{
		"connectionId": s.ConnectionID,
		"sessionId":    s.ID,
	}}); err != nil {
		log.Printf("[gateway] session %s: send ssh:connected: %v", s.ID, err)
	}

	go forwardShellOutput(s, sh, teardown)
	return nil
}

// forwardShellOutput is the one PTY-reader worker per session (§5). Every
// PTY data frame — stdout interleaved with stderr, per §4.3 — is
// base64-encoded and forwarded as ssh:output. On read error or EOF it emits
// ssh:disconnected and triggers teardown exactly once.
func forwardShellOutput(s *SessionState, sh terminal.Session, teardown func(reason string)) {
	buf := make([]byte, 32*1024)
	for {
		n, err := sh.Read(buf)
		if n > 0 {
			payload := base64.StdEncoding.EncodeToString(buf[:n])
			if sendErr := s.Client.Send(Message{Type: "ssh:output", Payload: map[string]any{
				"payload":  payload,
				"encoding": "base64",
			}}); sendErr != nil {
				log.Printf("[gateway] session %s: send ssh:output: %v", s.ID, sendErr)
			}
		}
		if err != nil {
			reason := "closed"
			if err != io.EOF {
				reason = err.Error()
			}
			if sendErr := s.Client.Send(Message{Type: "ssh:disconnected", Payload: reason}); sendErr != nil {
				log.Printf("[gateway] session %s: send ssh:disconnected: %v", s.ID, sendErr)
			}
			teardown(reason)
			return
		}
	}
}

// HandleInput implements ssh:input admission (§4.3): accepted only once
// shellReady, otherwise silently dropped with a warning log.
func HandleInput(s *SessionState, data string) error {
	if !s.ShellReady() {
		log.Printf("[gateway] session %s: ssh:input dropped, shell not ready", s.ID)
		return nil
	}
	sh := s.Shell()
	if sh == nil {
		return New(KindPrecondition, "shell not open")
	}
	_, err := sh.Write([]byte(data))
	if err != nil {
		return Wrap(KindShell, "write pty", err)
	}
	return nil
}

// HandleResize implements ssh:resize (§4.3): rejects non-positive integers.
func HandleResize(s *SessionState, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return New(KindProtocol, "resize requires positive cols and rows")
	}
	sh := s.Shell()
	if sh == nil {
		return New(KindPrecondition, "shell not open")
	}
	if err := sh.Resize(uint16(rows), uint16(cols)); err != nil {
		return Wrap(KindShell, "resize pty", err)
	}
	return nil
}
