package survey

import (
	"sync"

	"visitbot/internal/models"
)

// userLocks hands out one mutex per user key. Entries are never removed;
// the set of survey participants is small.
type userLocks struct {
	mu    sync.Mutex
	locks map[models.UserKey]*sync.Mutex
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[models.UserKey]*sync.Mutex)}
}

func (l *userLocks) lock(user models.UserKey) func() {
	l.mu.Lock()
	m, ok := l.locks[user]
	if !ok {
		m = &sync.Mutex{}
		l.locks[user] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
