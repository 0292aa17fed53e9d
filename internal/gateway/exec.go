package gateway

import (
	"bytes"
	"context"

	cryptossh "golang.org/x/crypto/ssh"
)

// ExecResult is the (stdout, stderr, exit code) triple the Remote-Exec
// Helper (C4) always resolves with, regardless of exit code — callers
// interpret exit codes per use-case (§4.4).
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Exec runs one non-PTY command on client and collects stdout/stderr
// separately. It rejects only on unexpected channel errors (session
// creation failure, context cancellation) — a non-zero remote exit status
// is reported via ExitCode, not as a Go error.
func Exec(ctx context.Context, client *cryptossh.Client, command string) (ExecResult, error) {
	session, err := client.NewSession()
	if err != nil {
		return ExecResult{}, Wrap(KindRemoteCommand, "open session", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return ExecResult{}, Wrap(KindTimeout, "remote exec", ctx.Err())
	case err := <-done:
		result := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if err == nil {
			return result, nil
		}
		if exitErr, ok := err.(*cryptossh.ExitError); ok {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return ExecResult{}, Wrap(KindRemoteCommand, "remote exec", err)
	}
}
