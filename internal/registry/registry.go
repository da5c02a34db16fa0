// Package registry implements the Session Registry: creation, lookup, and
// idle-sweep retirement of per-call Sessions.
package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/logging"
	"github.com/salil-cloudek/twilio-novasonic-starter-sub001/internal/session"
)

// ErrAlreadyExists is returned by Create when sessionID is already
// registered.
var ErrAlreadyExists = errors.New("registry: session already exists")

// DefaultStaleSessionTimeout is the default idle ceiling before the
// background sweep retires a session.
const DefaultStaleSessionTimeout = 30 * time.Minute

// Registry tracks active Sessions by id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	cleanup  map[string]bool

	staleTimeout time.Duration
	log          logging.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithStaleSessionTimeout overrides the default 30-minute idle ceiling.
func WithStaleSessionTimeout(d time.Duration) Option {
	return func(r *Registry) { r.staleTimeout = d }
}

// WithLogger attaches a Logger; defaults to a no-op logger.
func WithLogger(l logging.Logger) Option { return func(r *Registry) { r.log = l } }

// New constructs a Registry and starts its background sweep goroutine.
func New(opts ...Option) *Registry {
	r := &Registry{
		sessions:     make(map[string]*session.Session),
		cleanup:      make(map[string]bool),
		staleTimeout: DefaultStaleSessionTimeout,
		log:          logging.NewNop(),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Create registers a new Session for sessionID, failing with
// ErrAlreadyExists if one is already registered.
func (r *Registry) Create(sessionID string, cfg session.InferenceConfig, opts ...session.Option) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sessionID]; exists {
		return nil, ErrAlreadyExists
	}

	s := session.New(sessionID, cfg, opts...)
	r.sessions[sessionID] = s
	return s, nil
}

// Get returns the Session for sessionID, if any.
func (r *Registry) Get(sessionID string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}

// Remove retires sessionID: closes the session and clears it from the
// registry. A second Remove for the same id is a no-op.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, sessionID)
	delete(r.cleanup, sessionID)
	r.mu.Unlock()

	s.Close()
}

// ListActive returns the ids of every currently registered session.
func (r *Registry) ListActive() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// IsActive reports whether sessionID is currently registered.
func (r *Registry) IsActive(sessionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[sessionID]
	return ok
}

// Touch records activity on sessionID, resetting its idle clock.
func (r *Registry) Touch(sessionID string) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		s.Touch()
	}
}

// MarkForCleanup flags sessionID for removal by the next sweep pass rather
// than removing it synchronously — used by the Carrier Link on `stop` so
// in-flight RPC teardown can finish first.
func (r *Registry) MarkForCleanup(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; ok {
		r.cleanup[sessionID] = true
	}
}

// Count returns the number of currently registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) sweepLoop() {
	defer close(r.done)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	r.mu.RLock()
	var stale []string
	for id, s := range r.sessions {
		if r.cleanup[id] || s.IdleSince() > r.staleTimeout {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.log.Infow("registry: retiring stale session", "session_id", id)
		r.Remove(id)
	}
}

// Stop halts the background sweep goroutine. Safe to call once; subsequent
// calls are no-ops.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}
