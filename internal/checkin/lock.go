package checkin

import "sync"

// identityLocks hands out one mutex per identity so the
// duplicate-check-then-insert sequence runs serially per person. Locks
// are kept for the life of the process; the population is bounded by the
// enrolled identities.
type identityLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newIdentityLocks() *identityLocks {
	return &identityLocks{locks: make(map[int64]*sync.Mutex)}
}

func (l *identityLocks) get(identityID int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[identityID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[identityID] = m
	}
	return m
}
