package gateway

import (
	"io"
	"sync"
	"time"

	cryptossh "golang.org/x/crypto/ssh"

	"github.com/nexsess/gateway/internal/terminal"
)

// Message is the common client<->server envelope (§6.1): {type, payload?, requestId?}.
type Message struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// ClientConn is the one message channel a session is bound to. Send must be
// safe for concurrent callers (timers, pollers, and the router all write to
// it) — implementations serialize sends internally, the way the teacher's
// terminal.go serializes websocket writes under a mutex.
type ClientConn interface {
	Send(msg Message) error
	Close() error
}

// NetworkRateCache holds the previous status-sampler poll's counters for one
// session, used to compute Δbytes/Δsec (§4.6). Wiped on session teardown.
type NetworkRateCache struct {
	RxBytes uint64
	TxBytes uint64
	At      time.Time
}

// ActiveUpload tracks one in-flight chunked upload (§4.5.5), keyed by
// uploadId but always filtered by sessionId at lookup time.
type ActiveUpload struct {
	UploadID     string
	SessionID    string
	RemotePath   string
	RelativePath string
	TotalSize    int64

	mu           sync.Mutex
	bytesWritten int64
	stream       io.WriteCloser
	done         bool
}

// BytesWritten returns the current write offset.
func (u *ActiveUpload) BytesWritten() int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.bytesWritten
}

// SessionState is the per-client, per-connection runtime state described in
// §3. shell, sftp, and the two timers are created only once sshTransport is
// Connected, and are torn down together on any terminal transition.
type SessionState struct {
	ID             string
	Client         ClientConn
	UserID         string
	Username       string
	IP             string
	ConnectionID   int
	ConnectionName string

	mu          sync.Mutex
	transport   *cryptossh.Client
	shell       terminal.Session
	shellReady  bool
	sftp        *terminal.SFTPClient
	statusStop  chan struct{}
	dockerStop  chan struct{}
	netRate     NetworkRateCache
	torndown    bool
}

// SetTransport installs the connected SSH transport (Authenticating -> Connected).
func (s *SessionState) SetTransport(c *cryptossh.Client) {
	s.mu.Lock()
	s.transport = c
	s.mu.Unlock()
}

// Transport returns the session's SSH transport, or nil before connect.
func (s *SessionState) Transport() *cryptossh.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transport
}

// SetShell installs the opened PTY session and flips shellReady (ShellOpening -> Ready).
func (s *SessionState) SetShell(sh terminal.Session) {
	s.mu.Lock()
	s.shell = sh
	s.shellReady = sh != nil
	s.mu.Unlock()
}

// Shell returns the session's shell handle, or nil if not yet open.
func (s *SessionState) Shell() terminal.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shell
}

// ShellReady reports whether ssh:input/ssh:resize are currently admitted.
func (s *SessionState) ShellReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shellReady
}

// SetSFTP installs the session's SFTP subchannel.
func (s *SessionState) SetSFTP(c *terminal.SFTPClient) {
	s.mu.Lock()
	s.sftp = c
	s.mu.Unlock()
}

// SFTP returns the session's SFTP subchannel, or nil if not initialized.
func (s *SessionState) SFTP() *terminal.SFTPClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sftp
}

// NetRate returns the cached network-rate snapshot, used by the status
// sampler to compute Δbytes/Δsec (§4.6); SetNetRate stores the next one.
func (s *SessionState) NetRate() NetworkRateCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.netRate
}

// SetNetRate stores the latest network-rate snapshot.
func (s *SessionState) SetNetRate(c NetworkRateCache) {
	s.mu.Lock()
	s.netRate = c
	s.mu.Unlock()
}

// SetStatusStop installs the stop channel for the status sampler (§4.6).
func (s *SessionState) SetStatusStop(stop chan struct{}) {
	s.mu.Lock()
	s.statusStop = stop
	s.mu.Unlock()
}

// SetDockerStop installs the stop channel for the docker inspector (§4.7).
func (s *SessionState) SetDockerStop(stop chan struct{}) {
	s.mu.Lock()
	s.dockerStop = stop
	s.mu.Unlock()
}

// IsTornDown reports whether teardown has already run for this session.
func (s *SessionState) IsTornDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.torndown
}
