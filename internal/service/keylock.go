package service

import (
	"sync"

	"github.com/google/uuid"
)

// AttemptLock serializes work per attempt id: concurrent writers to the
// same attempt queue up, writers to different attempts proceed
// independently. One instance is shared by the relay and the scoring engine
// so answer updates and finalization never interleave on an attempt.
//
// Entries are reference-counted and removed when the last holder unlocks,
// so the map does not grow with the number of attempts ever seen.
type AttemptLock struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewAttemptLock creates an empty lock table.
func NewAttemptLock() *AttemptLock {
	return &AttemptLock{locks: make(map[uuid.UUID]*lockEntry)}
}

// Lock acquires the mutex for the given key, creating it on first use.
func (k *AttemptLock) Lock(key uuid.UUID) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
}

// Unlock releases the mutex for the given key.
func (k *AttemptLock) Unlock(key uuid.UUID) {
	k.mu.Lock()
	entry := k.locks[key]
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	entry.mu.Unlock()
}
