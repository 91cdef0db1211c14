package rooms

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Seednode/elements/elements"
)

// Registry maps session identifiers to sessions. Creating and evicting
// sessions takes the registry lock; play within a session only takes that
// session's lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	out    Broadcaster
	rules  *elements.Rules
	target int
	newID  func() string
	now    func() time.Time
}

type Option func(*Registry)

// WithIDGenerator replaces the default identifier source.
func WithIDGenerator(f func() string) Option {
	return func(r *Registry) { r.newID = f }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithRules(rules *elements.Rules) Option {
	return func(r *Registry) { r.rules = rules }
}

// WithTargetScore finishes a match once a player has won n rounds. Zero,
// the default, plays rounds indefinitely.
func WithTargetScore(n int) Option {
	return func(r *Registry) { r.target = n }
}

func NewRegistry(out Broadcaster, opts ...Option) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		out:      out,
		rules:    elements.Standard,
		newID:    newGameID,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// newGameID returns the first 8 hex digits of a random UUID.
func newGameID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Create registers a new waiting session. An identifier that is already in
// use fails the creation; the existing session is left untouched.
func (r *Registry) Create(capacity int) (*Session, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, capacity)
	}

	id := r.newID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %q", ErrIdentifierCollision, id)
	}

	s := newSession(id, capacity, r.target, r.rules, r.out, r.now)
	r.sessions[id] = s
	return s, nil
}

func (r *Registry) Lookup(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return s, nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Reap removes sessions idle since before cutoff and returns their
// identifiers.
func (r *Registry) Reap(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for id, s := range r.sessions {
		if s.LastActive().Before(cutoff) {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Close drops every session.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.sessions)
	return nil
}
