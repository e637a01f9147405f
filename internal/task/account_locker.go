package task

import (
	"slices"
	"sync"
)

// AccountLocker serializes operations that touch the same accounts.
// Operations on disjoint account sets never wait on each other.
type AccountLocker struct {
	mu    sync.Mutex
	locks map[int64]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

// NewAccountLocker creates an empty locker.
func NewAccountLocker() *AccountLocker {
	return &AccountLocker{locks: make(map[int64]*accountLock)}
}

// Lock blocks until every given account is held by the caller and returns
// the function that releases them. Locks are taken in ascending id order so
// two callers locking overlapping sets cannot deadlock.
func (l *AccountLocker) Lock(ids ...int64) (unlock func()) {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	held := make([]*accountLock, 0, len(ids))
	for _, id := range ids {
		al := l.acquire(id)
		al.mu.Lock()
		held = append(held, al)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for i := len(held) - 1; i >= 0; i-- {
				held[i].mu.Unlock()
				l.release(ids[i])
			}
		})
	}
}

// acquire returns the lock entry for id, counting the caller as a user.
func (l *AccountLocker) acquire(id int64) *accountLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	al, ok := l.locks[id]
	if !ok {
		al = &accountLock{}
		l.locks[id] = al
	}
	al.refs++
	return al
}

// release drops the entry for id once nobody holds or waits on it.
func (l *AccountLocker) release(id int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	al := l.locks[id]
	al.refs--
	if al.refs == 0 {
		delete(l.locks, id)
	}
}

// size returns the number of live lock entries.
func (l *AccountLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
