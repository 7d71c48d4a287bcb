package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	model "github.com/zhouzirui/mora-bot/backend/internal/model/session"
)

var ErrSessionNotFound = errors.New("session not found")

type entry struct {
	mu      sync.Mutex
	session model.Session
	// evicted is set by Sweep under mu; holders of a stale pointer treat
	// the session as gone.
	evicted bool
}

// Store keeps negotiation sessions in memory for the process lifetime.
// The map is guarded by one RWMutex; each entry serialises its own
// read-modify-write cycles.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	idleTTL  time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithIdleTTL enables eviction of sessions untouched for longer than ttl.
func WithIdleTTL(ttl time.Duration) Option {
	return func(s *Store) { s.idleTTL = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used by the sweeper.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore bootstraps an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*entry),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create allocates a fresh session seeded with a clamped copy of initial.
func (s *Store) Create(initial model.FinancialContext) model.Session {
	now := s.now()
	session := model.Session{
		ID:        uuid.NewString(),
		Context:   initial.Clamped(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = &entry{session: session}
	s.mu.Unlock()

	return session
}

// Get returns a snapshot of the session.
func (s *Store) Get(sessionID string) (model.Session, error) {
	e, ok := s.lookup(sessionID)
	if !ok {
		return model.Session{}, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return model.Session{}, ErrSessionNotFound
	}
	return e.session, nil
}

// ApplyUpdate replaces each provided field, clamped to zero.
func (s *Store) ApplyUpdate(sessionID string, update model.ContextUpdate) (model.FinancialContext, error) {
	return s.WithSession(sessionID, func(fc *model.FinancialContext) error {
		update.Apply(fc)
		return nil
	})
}

// WithSession runs fn against the live context while holding the session
// lock. Changes made by fn are kept even when fn returns an error, so fn
// should only mutate once it has succeeded.
func (s *Store) WithSession(sessionID string, fn func(*model.FinancialContext) error) (model.FinancialContext, error) {
	e, ok := s.lookup(sessionID)
	if !ok {
		return model.FinancialContext{}, ErrSessionNotFound
	}
	return s.withEntry(e, fn)
}

func (s *Store) withEntry(e *entry, fn func(*model.FinancialContext) error) (model.FinancialContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Sweep may have removed the entry between lookup and Lock.
	if e.evicted {
		return model.FinancialContext{}, ErrSessionNotFound
	}

	err := fn(&e.session.Context)
	e.session.Context = e.session.Context.Clamped()
	e.session.UpdatedAt = s.now()
	return e.session.Context, err
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes sessions idle for longer than the configured TTL and
// returns how many were evicted. A zero TTL disables eviction.
func (s *Store) Sweep(now time.Time) int {
	if s.idleTTL <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, e := range s.sessions {
		// Sessions mid-turn hold their lock; skip them rather than block.
		if !e.mu.TryLock() {
			continue
		}
		if now.Sub(e.session.UpdatedAt) > s.idleTTL {
			e.evicted = true
			delete(s.sessions, id)
			evicted++
		}
		e.mu.Unlock()
	}
	return evicted
}

// Run sweeps idle sessions every interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if s.idleTTL <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				s.logger.Info("evicted idle sessions", zap.Int("count", n), zap.Int("remaining", s.Len()))
			}
		}
	}
}

func (s *Store) lookup(sessionID string) (*entry, bool) {
	if sessionID == "" {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[sessionID]
	return e, ok
}
