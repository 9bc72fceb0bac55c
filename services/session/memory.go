package session

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is the single-process Store. Expired sessions are dropped
// lazily on access.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[int64]Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int64]Session), now: time.Now}
}

func (m *MemoryStore) Open(_ context.Context, s *Session, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("session ttl must be positive, got %s", ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stamp(s, m.now().UTC(), ttl)
	m.sessions[s.AccountID] = *s
	return nil
}

func (m *MemoryStore) Get(_ context.Context, accountID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.live(accountID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return &s, nil
}

func (m *MemoryStore) TakeAndClear(_ context.Context, accountID int64) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.live(accountID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	delete(m.sessions, accountID)
	return &s, nil
}

func (m *MemoryStore) Restore(_ context.Context, s *Session) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.Expired(m.now()) {
		return false, nil
	}
	if _, ok := m.live(s.AccountID); ok {
		return false, nil
	}
	m.sessions[s.AccountID] = *s
	return true, nil
}

func (m *MemoryStore) Cancel(_ context.Context, accountID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live(accountID); !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, accountID)
	return nil
}

// live must be called with mu held.
func (m *MemoryStore) live(accountID int64) (Session, bool) {
	s, ok := m.sessions[accountID]
	if !ok {
		return Session{}, false
	}
	if s.Expired(m.now()) {
		delete(m.sessions, accountID)
		return Session{}, false
	}
	return s, true
}
