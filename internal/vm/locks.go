package vm

import "sync"

// nameLocks hands out one mutex per instance name. Entries are created on
// first use and dropped once no goroutine holds or waits for them.
type nameLocks struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int // holders plus waiters, guarded by nameLocks.mu
}

func newNameLocks() *nameLocks {
	return &nameLocks{locks: make(map[string]*refLock)}
}

// Lock blocks until name is free and returns the unlock function.
func (l *nameLocks) Lock(name string) func() {
	rl := l.acquire(name)
	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		l.release(name, rl)
	}
}

// TryLock locks name only if nobody holds it.
func (l *nameLocks) TryLock(name string) (func(), bool) {
	rl := l.acquire(name)
	if !rl.mu.TryLock() {
		l.release(name, rl)
		return nil, false
	}
	return func() {
		rl.mu.Unlock()
		l.release(name, rl)
	}, true
}

func (l *nameLocks) acquire(name string) *refLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	rl, ok := l.locks[name]
	if !ok {
		rl = &refLock{}
		l.locks[name] = rl
	}
	rl.refs++
	return rl
}

func (l *nameLocks) release(name string, rl *refLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rl.refs--
	if rl.refs == 0 {
		delete(l.locks, name)
	}
}

// len returns the number of live lock entries.
func (l *nameLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
