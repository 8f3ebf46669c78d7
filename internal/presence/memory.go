package presence

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/huddle/internal/domain"
)

type memEntry struct {
	conns    map[domain.ConnID]struct{}
	lastSeen time.Time
}

// MemStore is the single-process Store. A shared key-value client can
// replace it for multi-instance deployments.
type MemStore struct {
	mu      sync.Mutex
	entries map[domain.UserID]*memEntry
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[domain.UserID]*memEntry)}
}

func (s *MemStore) AddConn(_ context.Context, user domain.UserID, conn domain.ConnID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[user]
	if !ok {
		e = &memEntry{conns: make(map[domain.ConnID]struct{})}
		s.entries[user] = e
	}
	first := len(e.conns) == 0
	e.conns[conn] = struct{}{}
	e.lastSeen = time.Now()
	return first, nil
}

func (s *MemStore) RemoveConn(_ context.Context, user domain.UserID, conn domain.ConnID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[user]
	if !ok {
		return false, nil
	}
	if _, ok := e.conns[conn]; !ok {
		return false, nil
	}
	delete(e.conns, conn)
	e.lastSeen = time.Now()
	return len(e.conns) == 0, nil
}

func (s *MemStore) Conns(_ context.Context, user domain.UserID) ([]domain.ConnID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[user]
	if !ok {
		return nil, nil
	}
	out := make([]domain.ConnID, 0, len(e.conns))
	for c := range e.conns {
		out = append(out, c)
	}
	return out, nil
}

// Online implements BatchStore under a single lock acquisition.
func (s *MemStore) Online(_ context.Context, users []domain.UserID) ([]domain.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserID, 0, len(users))
	for _, u := range users {
		if e, ok := s.entries[u]; ok && len(e.conns) > 0 {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *MemStore) LastSeen(_ context.Context, user domain.UserID) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[user]; ok {
		return e.lastSeen, nil
	}
	return time.Time{}, nil
}
