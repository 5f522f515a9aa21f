// Package memory is a process-local pending login store for development and
// single-instance deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aussiebroadwan/litcal/internal/web/domain"
	"github.com/aussiebroadwan/litcal/internal/web/store"
)

type Store struct {
	mu     sync.Mutex
	logins map[string]domain.PendingLogin
	closed bool
}

var _ store.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{logins: make(map[string]domain.PendingLogin)}
}

func (s *Store) PendingLogins() store.PendingLogins { return s }

func (s *Store) ApplyMigrations() error { return nil }

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.logins = nil
	return nil
}

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

func (s *Store) SavePendingLogin(_ context.Context, p domain.PendingLogin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	p.Payload = append([]byte(nil), p.Payload...)
	s.logins[p.SessionID] = p
	return nil
}

func (s *Store) TakePendingLogin(_ context.Context, sessionID string, now time.Time) (domain.PendingLogin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.PendingLogin{}, store.ErrClosed
	}

	p, ok := s.logins[sessionID]
	if !ok {
		return domain.PendingLogin{}, store.ErrNotFound
	}
	delete(s.logins, sessionID)

	if p.Expired(now) {
		return domain.PendingLogin{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) DeleteExpiredPendingLogins(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, store.ErrClosed
	}

	var n int64
	for id, p := range s.logins {
		if p.Expired(now) {
			delete(s.logins, id)
			n++
		}
	}
	return n, nil
}
