package booking

import "sync"

// keyLocker provides in-process mutual exclusion per scope key.
type keyLocker struct {
	mu      sync.Mutex
	entries map[ScopeKey]*keyLockEntry
}

type keyLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocker() *keyLocker {
	return &keyLocker{entries: make(map[ScopeKey]*keyLockEntry)}
}

// Lock acquires every key in the given order and returns the release func.
// Callers pass keys sorted so that overlapping key sets cannot deadlock.
func (locker *keyLocker) Lock(keys []ScopeKey) func() {
	acquired := make([]*keyLockEntry, 0, len(keys))
	for _, key := range keys {
		entry := locker.retain(key)
		entry.mu.Lock()
		acquired = append(acquired, entry)
	}
	return func() {
		for index := len(acquired) - 1; index >= 0; index-- {
			acquired[index].mu.Unlock()
			locker.release(keys[index])
		}
	}
}

func (locker *keyLocker) retain(key ScopeKey) *keyLockEntry {
	locker.mu.Lock()
	defer locker.mu.Unlock()
	entry, ok := locker.entries[key]
	if !ok {
		entry = &keyLockEntry{}
		locker.entries[key] = entry
	}
	entry.refs++
	return entry
}

func (locker *keyLocker) release(key ScopeKey) {
	locker.mu.Lock()
	defer locker.mu.Unlock()
	entry, ok := locker.entries[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs == 0 {
		delete(locker.entries, key)
	}
}

func (locker *keyLocker) size() int {
	locker.mu.Lock()
	defer locker.mu.Unlock()
	return len(locker.entries)
}
