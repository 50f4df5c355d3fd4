package trigger

import (
	"slices"
	"sync"
)

// windowLocks serializes read-modify-write cycles on condition windows,
// keyed by window UID. Locks are taken in sorted order
type windowLocks struct {
	locks sync.Map // map[string]*sync.Mutex
}

func (l *windowLocks) lock(keys ...string) func() {
	keys = slices.Compact(slices.Sorted(slices.Values(keys)))
	held := make([]*sync.Mutex, 0, len(keys))
	for _, k := range keys {
		m, _ := l.locks.LoadOrStore(k, &sync.Mutex{})
		mu := m.(*sync.Mutex)
		mu.Lock()
		held = append(held, mu)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
