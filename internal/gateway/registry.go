package gateway

import (
	"log"
	"sync"
)

// Registry is the single process-wide session table described in §4.1. It
// is the only shared mutable structure in the concurrency model (§5); all
// other per-session state is owned by that session's own workers.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*SessionState
	uploads  map[string]*ActiveUpload
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*SessionState),
		uploads:  make(map[string]*ActiveUpload),
	}
}

// Insert adds a newly created session.
func (r *Registry) Insert(s *SessionState) {
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
}

// Get returns the session for id, or (nil, false).
func (r *Registry) Get(id string) (*SessionState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Iterate calls fn for a snapshot of all currently registered sessions. fn
// is called outside the registry lock.
func (r *Registry) Iterate(fn func(*SessionState)) {
	r.mu.RLock()
	snapshot := make([]*SessionState, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()
	for _, s := range snapshot {
		fn(s)
	}
}

// Len reports the number of currently registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// InsertUpload registers an in-flight chunked upload.
func (r *Registry) InsertUpload(u *ActiveUpload) {
	r.mu.Lock()
	r.uploads[u.UploadID] = u
	r.mu.Unlock()
}

// GetUpload returns the upload for uploadId, filtered by sessionId — an
// upload belonging to a different session is treated as not found, per §5
// ("Upload state is keyed by uploadId but always filtered by sessionId").
func (r *Registry) GetUpload(uploadID, sessionID string) (*ActiveUpload, bool) {
	r.mu.RLock()
	u, ok := r.uploads[uploadID]
	r.mu.RUnlock()
	if !ok || u.SessionID != sessionID {
		return nil, false
	}
	return u, true
}

// RemoveUpload drops upload bookkeeping for uploadId.
func (r *Registry) RemoveUpload(uploadID string) {
	r.mu.Lock()
	delete(r.uploads, uploadID)
	r.mu.Unlock()
}

// Remove tears down and deletes the session for id. Per §4.1, it: stops the
// status/docker timers deterministically, ends the shell, closes SFTP, ends
// the SSH transport, and cancels every ActiveUpload belonging to the
// session. It tolerates partially initialized sessions and is idempotent —
// calling it twice for the same id is a no-op on the second call (§8).
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, id)
	var uploadsToCancel []*ActiveUpload
	for uploadID, u := range r.uploads {
		if u.SessionID == id {
			uploadsToCancel = append(uploadsToCancel, u)
			delete(r.uploads, uploadID)
		}
	}
	r.mu.Unlock()

	s.mu.Lock()
	if s.torndown {
		s.mu.Unlock()
		return
	}
	s.torndown = true
	statusStop, dockerStop := s.statusStop, s.dockerStop
	shell := s.shell
	sftpClient := s.sftp
	transport := s.transport
	s.mu.Unlock()

	if statusStop != nil {
		close(statusStop)
	}
	if dockerStop != nil {
		close(dockerStop)
	}
	if shell != nil {
		if err := shell.Close(); err != nil {
			log.Printf("[gateway] session %s: shell close: %v", id, err)
		}
	}
	if sftpClient != nil {
		if err := sftpClient.Close(); err != nil {
			log.Printf("[gateway] session %s: sftp close: %v", id, err)
		}
	}
	if transport != nil {
		if err := transport.Close(); err != nil {
			log.Printf("[gateway] session %s: transport close: %v", id, err)
		}
	}
	for _, u := range uploadsToCancel {
		u.mu.Lock()
		if !u.done && u.stream != nil {
			_ = u.stream.Close()
		}
		u.done = true
		u.mu.Unlock()
	}
}
