package space

import "sync"

// lockTable hands out one mutex per space. Entries are reference counted
// and removed once no goroutine holds or waits for them.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*spaceLock
}

type spaceLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*spaceLock)}
}

// Lock acquires the mutex of spaceID and returns its release func.
func (t *lockTable) Lock(spaceID string) (unlock func()) {
	t.mu.Lock()
	l, ok := t.locks[spaceID]
	if !ok {
		l = &spaceLock{}
		t.locks[spaceID] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		t.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(t.locks, spaceID)
		}
		t.mu.Unlock()
	}
}

// size returns the number of live entries.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
