package auth

import (
	"context"
	"sync"
	"time"

	"github.com/ismistube/backend/internal/models"
)

// NewInMemorySessionStore returns a SessionStore backed by an in-memory map.
// Sessions do not survive a restart.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{sessions: make(map[string]models.Session)}
}

// InMemorySessionStore implements SessionStore.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
}

// Save inserts or replaces the session record.
func (s *InMemorySessionStore) Save(_ context.Context, session models.Session) error {
	s.mu.Lock()
	s.sessions[session.Token] = session
	s.mu.Unlock()
	return nil
}

// Touch slides the session expiry under the store lock, so a concurrent
// Delete either wins outright or removes the refreshed record.
func (s *InMemorySessionStore) Touch(_ context.Context, token string, now time.Time, ttl time.Duration) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	if !now.Before(session.ExpiresAt) {
		delete(s.sessions, token)
		return models.Session{}, ErrSessionExpired
	}
	session.ExpiresAt = now.Add(ttl)
	s.sessions[token] = session
	return session, nil
}

// Delete removes the session associated with token.
func (s *InMemorySessionStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

// DeleteExpired removes sessions whose expiry is not after now.
func (s *InMemorySessionStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for token, session := range s.sessions {
		if !now.Before(session.ExpiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed, nil
}

// Has reports whether a token exists. Useful for tests.
func (s *InMemorySessionStore) Has(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[token]
	return ok
}

// Len reports the number of stored sessions.
func (s *InMemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
