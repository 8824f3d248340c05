// Package session provides cached, read-only access to tutoring sessions
// for the relay and the hub.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"learnbridge/pkg/interfaces"
	"learnbridge/pkg/types"
)

// DefaultTTL bounds how long a session record is served from memory
const DefaultTTL = 60 * time.Second

type cachedSession struct {
	session  types.TutoringSession
	loadedAt time.Time
}

// Manager is a read-through cache over a SessionDirectory.
// ARCHITECTURAL DISCOVERY: sessions are owned by the booking surface, so
// the realtime core only reads them and drops entries on sessionUpdate
type Manager struct {
	directory interfaces.SessionDirectory
	ttl       time.Duration
	now       func() time.Time
	logger    zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*cachedSession
}

// NewManager wraps directory. A non-positive ttl selects DefaultTTL.
func NewManager(directory interfaces.SessionDirectory, ttl time.Duration, logger zerolog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		directory: directory,
		ttl:       ttl,
		now:       time.Now,
		logger:    logger.With().Str("component", "sessions").Logger(),
		cache:     make(map[string]*cachedSession),
	}
}

// GetTutoringSession returns a copy of the session, loading it from the
// directory on a miss or after the entry expired. Lookup failures are not
// cached.
func (m *Manager) GetTutoringSession(ctx context.Context, id string) (*types.TutoringSession, error) {
	if !types.IsValidUserID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSessionID, id)
	}

	m.mu.RLock()
	entry, ok := m.cache[id]
	m.mu.RUnlock()
	if ok && m.now().Sub(entry.loadedAt) < m.ttl {
		s := entry.session
		return &s, nil
	}

	loaded, err := m.directory.GetTutoringSession(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.cache[id] = &cachedSession{session: *loaded, loadedAt: m.now()}
	m.mu.Unlock()

	s := *loaded
	return &s, nil
}

// CheckParticipant returns nil when principalID is the session's student
// or tutor
func (m *Manager) CheckParticipant(ctx context.Context, sessionID, principalID string) error {
	s, err := m.GetTutoringSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !s.HasParticipant(principalID) {
		return ErrNotParticipant
	}
	return nil
}

// Invalidate drops the cached copy of one session
func (m *Manager) Invalidate(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cache[id]; ok {
		delete(m.cache, id)
		m.logger.Debug().Str("session_id", id).Msg("session cache entry invalidated")
	}
}

// Prune removes expired entries and returns how many were dropped
func (m *Manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	pruned := 0
	for id, entry := range m.cache {
		if now.Sub(entry.loadedAt) >= m.ttl {
			delete(m.cache, id)
			pruned++
		}
	}
	return pruned
}

// Run prunes the cache once per TTL until ctx is done
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := m.Prune(); n > 0 {
				m.logger.Debug().Int("pruned", n).Msg("expired sessions pruned")
			}
		case <-ctx.Done():
			return
		}
	}
}

// GetStats returns cache counters for the stats endpoint
func (m *Manager) GetStats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int{"cached_sessions": len(m.cache)}
}
