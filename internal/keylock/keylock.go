// Package keylock provides per-key mutual exclusion. Locks are refcounted and
// dropped from the table as soon as nobody holds or waits for them, so the
// table only ever contains keys with active work.
package keylock

import (
	"sync"

	"github.com/postercache/postercache/internal/keycodec"
)

// Map hands out one mutex per key. The zero value is ready to use.
type Map struct {
	mu    sync.Mutex
	locks map[keycodec.Key]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until key is held and returns the matching unlock func.
func (m *Map) Lock(key keycodec.Key) func() {
	m.mu.Lock()
	if m.locks == nil {
		m.locks = make(map[keycodec.Key]*entryLock)
	}
	lock := m.locks[key]
	if lock == nil {
		lock = &entryLock{}
		m.locks[key] = lock
	}
	lock.refs++
	m.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		m.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(m.locks, key)
		}
		m.mu.Unlock()
	}
}

// Len returns the number of keys currently locked or awaited.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
