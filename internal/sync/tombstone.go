// Package sync implements the offline-first synchronization engine: the
// per-entity read/write wrappers and the manager that reconciles the local
// cache with the remote backend.
package sync

import (
	"sync"
	"time"
)

// DefaultTombstoneGrace is how long a deleted id is suppressed from reads.
// It needs to outlive any pull that was in flight when the delete happened.
const DefaultTombstoneGrace = 5 * time.Second

// TombstoneSet records recently deleted ids so a stale pull cannot
// resurrect them. Entries expire lazily on read; no timers are scheduled,
// so rapid delete/recreate sequences cannot race a dangling callback.
type TombstoneSet struct {
	mu      sync.Mutex
	expires map[string]int64 // store-scoped key -> expiry deadline, unix millis
	grace   int64
	now     func() int64
}

// NewTombstoneSet creates a set with the given grace window.
func NewTombstoneSet(grace time.Duration) *TombstoneSet {
	if grace <= 0 {
		grace = DefaultTombstoneGrace
	}
	return &TombstoneSet{
		expires: make(map[string]int64),
		grace:   grace.Milliseconds(),
		now:     func() int64 { return time.Now().UnixMilli() },
	}
}

// Add marks an id as just deleted in a store.
func (t *TombstoneSet) Add(storeName, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.expires[tombKey(storeName, id)] = t.now() + t.grace
}

// Contains reports whether an id is still within its grace window.
// Expired entries are pruned as they are observed.
func (t *TombstoneSet) Contains(storeName, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := tombKey(storeName, id)
	deadline, ok := t.expires[key]
	if !ok {
		return false
	}
	if t.now() >= deadline {
		delete(t.expires, key)
		return false
	}
	return true
}

// Remove drops an id, used when a record is deliberately recreated.
func (t *TombstoneSet) Remove(storeName, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.expires, tombKey(storeName, id))
}

// Len returns the number of live entries, pruning expired ones.
func (t *TombstoneSet) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for key, deadline := range t.expires {
		if now >= deadline {
			delete(t.expires, key)
		}
	}
	return len(t.expires)
}

func tombKey(storeName, id string) string {
	return storeName + "\x00" + id
}
