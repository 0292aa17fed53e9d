package terminal

import cryptossh "golang.org/x/crypto/ssh"

// sharedTransportSession wraps an sshSession opened on a transport the
// caller owns independently (the gateway's SessionState). Close ends only
// the PTY session, not the underlying SSH client — the session registry is
// responsible for tearing down sshTransport once, after shell/sftp/timers
// have all been stopped (§4.1).
type sharedTransportSession struct {
	*sshSession
}

func (s *sharedTransportSession) Close() error {
	_ = s.stdin.Close()
	return s.session.Close()
}

// NewShellSession opens an interactive PTY (xterm-256color, 80x24 per §4.3)
// on an already-connected SSH client without taking ownership of it.
func NewShellSession(client *cryptossh.Client, shell string) (Session, error) {
	sess, err := newSSHSession(client, shell)
	if err != nil {
		return nil, err
	}
	return &sharedTransportSession{sshSession: sess}, nil
}

var _ Session = (*sharedTransportSession)(nil)
