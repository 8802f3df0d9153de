package progress

import (
	"context"
	"sync"

	"visitbot/internal/models"
)

// Store maps a user to the row of the next question to present.
// A missing entry means the user has not started (or has finished).
type Store interface {
	Get(ctx context.Context, user models.UserKey) (row int, ok bool, err error)
	Set(ctx context.Context, user models.UserKey, row int) error
	Clear(ctx context.Context, user models.UserKey) error
}

// MemoryStore is an ephemeral Store
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[models.UserKey]int
}

// NewMemoryStore creates an empty in-memory progress store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[models.UserKey]int),
	}
}

func (s *MemoryStore) Get(ctx context.Context, user models.UserKey) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[user]
	return row, ok, nil
}

func (s *MemoryStore) Set(ctx context.Context, user models.UserKey, row int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows[user] = row
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context, user models.UserKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rows, user)
	return nil
}

// Len returns the number of users with progress
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}
