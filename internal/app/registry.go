package app

import (
	"context"
	"sync"
	"time"

	"github.com/anurag-chakravarti/peerjs-video-call/internal/core"
	"github.com/anurag-chakravarti/peerjs-video-call/internal/domain"
	"github.com/rs/zerolog/log"
)

const maxRegisterAttempts = 8

// ReleaseHook runs after an identity has been deregistered.
type ReleaseHook func(sid domain.SessionID)

type sessionEntry struct {
	Conn      core.SignalConnection
	Cancel    context.CancelFunc
	CreatedAt time.Time
}

// Registry hands out one identity per connected client and tracks it until disconnect.
type Registry struct {
	mu       sync.RWMutex
	max      int
	newID    func() domain.SessionID
	sessions map[domain.SessionID]*sessionEntry
	hooks    []ReleaseHook
}

type RegistryOption func(*Registry)

// WithMaxIdentities caps concurrently registered identities. Zero means unlimited.
func WithMaxIdentities(n int) RegistryOption {
	return func(r *Registry) {
		if n > 0 {
			r.max = n
		}
	}
}

func WithIDGenerator(fn func() domain.SessionID) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.newID = fn
		}
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		newID:    domain.NewSessionID,
		sessions: make(map[domain.SessionID]*sessionEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register assigns a fresh identity. A generated id that is already live is
// thrown away and regenerated.
func (r *Registry) Register() (domain.SessionID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.max > 0 && len(r.sessions) >= r.max {
		log.Warn().Str("module", "app.registry").Int("max", r.max).Msg("identity capacity reached")
		return "", domain.ErrCapacityExceeded
	}
	for attempt := 0; attempt < maxRegisterAttempts; attempt++ {
		sid := r.newID()
		if sid == "" {
			continue
		}
		if _, taken := r.sessions[sid]; taken {
			log.Warn().Str("module", "app.registry").Str("sid", string(sid)).Msg("identity collision, regenerating")
			continue
		}
		r.sessions[sid] = &sessionEntry{CreatedAt: time.Now().UTC()}
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Int("count", len(r.sessions)).Msg("registered identity")
		return sid, nil
	}
	return "", domain.ErrIdentityExhausted
}

// Bind attaches the client's signaling connection to a registered identity.
func (r *Registry) Bind(sid domain.SessionID, conn core.SignalConnection, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return false
	}
	e.Conn = conn
	e.Cancel = cancel
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound signal")
	return true
}

func (r *Registry) Connection(sid domain.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok && e.Conn != nil {
		return e.Conn, true
	}
	return nil, false
}

func (r *Registry) Has(sid domain.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sid]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Max() int { return r.max }

// IDs returns a snapshot of the live identities.
func (r *Registry) IDs() []domain.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.SessionID, 0, len(r.sessions))
	for sid := range r.sessions {
		out = append(out, sid)
	}
	return out
}

// OnRelease adds a hook run on every Deregister, in registration order.
func (r *Registry) OnRelease(h ReleaseHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, h)
}

// Deregister releases sid and runs the release hooks outside the lock.
func (r *Registry) Deregister(sid domain.SessionID) bool {
	r.mu.Lock()
	_, ok := r.sessions[sid]
	if ok {
		delete(r.sessions, sid)
	}
	hooks := append([]ReleaseHook(nil), r.hooks...)
	r.mu.Unlock()
	if !ok {
		return false
	}

	for _, h := range hooks {
		h(sid)
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("deregistered identity")
	return true
}

func (r *Registry) Cancel(sid domain.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
