package terminal

import (
	"fmt"
	"io"
	"sync"

	cryptossh "golang.org/x/crypto/ssh"
)

// sshSession wraps an SSH client + session + remote PTY. It does not own
// the client (see shell_ext.go's sharedTransportSession): Close ends the
// session and PTY and leaves the client open.
type sshSession struct {
	client  *cryptossh.Client
	session *cryptossh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	mu      sync.Mutex
}

// newSSHSession opens a PTY (xterm-256color, 80x24) on client, starting
// shell when set or the server's login shell otherwise.
func newSSHSession(client *cryptossh.Client, shell string) (*sshSession, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh: new session: %w", err)
	}

	modes := cryptossh.TerminalModes{
		cryptossh.ECHO:          1,
		cryptossh.TTY_OP_ISPEED: 14400,
		cryptossh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", 24, 80, modes); err != nil {
		sess.Close()
		return nil, fmt.Errorf("ssh: request pty: %w", err)
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("ssh: stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("ssh: stdout pipe: %w", err)
	}

	// sess.Shell() is correct for the default case — sess.Start("$SHELL")
	// would send the literal string "$SHELL", which most servers don't expand.
	if shell != "" {
		if err := sess.Start(shell); err != nil {
			if err2 := sess.Shell(); err2 != nil {
				sess.Close()
				return nil, fmt.Errorf("ssh: start shell %q (fallback also failed: %v): %w", shell, err2, err)
			}
		}
	} else {
		if err := sess.Shell(); err != nil {
			sess.Close()
			return nil, fmt.Errorf("ssh: start login shell: %w", err)
		}
	}

	return &sshSession{
		client:  client,
		session: sess,
		stdin:   stdin,
		stdout:  stdout,
	}, nil
}

func (s *sshSession) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdin.Write(p)
}

func (s *sshSession) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *sshSession) Resize(rows, cols uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.WindowChange(int(rows), int(cols))
}

func (s *sshSession) Close() error {
	_ = s.stdin.Close()
	return s.session.Close()
}

var _ Session = (*sshSession)(nil)
