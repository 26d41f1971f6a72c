package auction

import "sync"

// itemLocks hands out one mutex per item id. An entry lives while someone
// holds or waits for it, so the map only grows with concurrent items.
type itemLocks struct {
	mu    sync.Mutex
	locks map[string]*itemLock
}

type itemLock struct {
	mu   sync.Mutex
	refs int // holders + waiters, guarded by itemLocks.mu
}

func newItemLocks() *itemLocks {
	return &itemLocks{locks: make(map[string]*itemLock)}
}

// lock acquires the item's section and returns its release func.
func (l *itemLocks) lock(itemID string) func() {
	l.mu.Lock()
	m, ok := l.locks[itemID]
	if !ok {
		m = &itemLock{}
		l.locks[itemID] = m
	}
	m.refs++
	l.mu.Unlock()

	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, itemID)
		}
		l.mu.Unlock()
	}
}

func (l *itemLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
