package gateway

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// livenessInterval is the ping cadence of §4.11.
const livenessInterval = 5 * time.Second

// pingBurst sizes the token bucket (Keeper.limiter) that bounds how many
// pings Keeper issues per tick when many sessions are registered, the same
// rate-limiting idiom the teacher's reverse-tunnel server applies to inbound
// connections (internal/tunnel/server.go's defaultRateLimit), here applied
// to outbound ping fan-out. Pings within one tick are sent one after
// another, so a slow ping on one client delays the pings that follow it.
var pingBurst = 200

// Pinger is the subset of ClientConn the Keeper drives directly, split out
// so tests can supply a fake without a real transport.
type Pinger interface {
	Ping() error
}

// Keeper implements the Liveness Keeper (C11): every 5s it iterates all
// client channels; a channel whose prior ping went unacknowledged is
// terminated and its session torn down through the Registry, otherwise a
// new ping is sent and marked unacknowledged. Pongs re-mark acknowledged.
type Keeper struct {
	registry *Registry

	mu     sync.Mutex
	states map[string]*livenessState
	limiter *rate.Limiter

	stop chan struct{}
}

type livenessState struct {
	acked bool
	ping  func() error
	kill  func()
}

// NewKeeper returns a Keeper bound to registry. Call Start to begin ticking.
func NewKeeper(registry *Registry) *Keeper {
	return &Keeper{
		registry: registry,
		states:   make(map[string]*livenessState),
		limiter:  rate.NewLimiter(rate.Every(livenessInterval/time.Duration(pingBurst)), pingBurst),
		stop:     make(chan struct{}),
	}
}

// Track registers sessionID for heartbeat supervision. ping sends a ping
// frame on the session's client channel; kill closes that channel and
// removes the session from the registry.
func (k *Keeper) Track(sessionID string, ping func() error, kill func()) {
	k.mu.Lock()
	k.states[sessionID] = &livenessState{acked: true, ping: ping, kill: kill}
	k.mu.Unlock()
}

// Untrack stops heartbeat supervision for sessionID (called from teardown).
func (k *Keeper) Untrack(sessionID string) {
	k.mu.Lock()
	delete(k.states, sessionID)
	k.mu.Unlock()
}

// Pong marks sessionID's outstanding ping as acknowledged.
func (k *Keeper) Pong(sessionID string) {
	k.mu.Lock()
	if s, ok := k.states[sessionID]; ok {
		s.acked = true
	}
	k.mu.Unlock()
}

// Start runs the 5s tick loop until Stop is called.
func (k *Keeper) Start() {
	ticker := time.NewTicker(livenessInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-k.stop:
				return
			case <-ticker.C:
				k.tick()
			}
		}
	}()
}

// Stop ends the tick loop.
func (k *Keeper) Stop() {
	close(k.stop)
}

func (k *Keeper) tick() {
	k.mu.Lock()
	type work struct {
		id   string
		st   *livenessState
	}
	due := make([]work, 0, len(k.states))
	for id, st := range k.states {
		due = append(due, work{id, st})
	}
	k.mu.Unlock()

	for _, w := range due {
		if !w.st.acked {
			w.st.kill()
			k.Untrack(w.id)
			continue
		}
		_ = k.limiter.Wait(context.Background())
		w.st.acked = false
		if err := w.st.ping(); err != nil {
			w.st.kill()
			k.Untrack(w.id)
		}
	}
}
