package ledger

import "sync"

// Locker hands out one mutex per user id. Every load-modify-save sequence on
// an account must run under that user's mutex so concurrent trades and alert
// evaluations for the same user cannot lose updates.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*sync.Mutex)}
}

// Of returns the mutex for userID, creating it on first use.
func (l *Locker) Of(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	return m
}
