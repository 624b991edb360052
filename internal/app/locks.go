/**
 * @description
 * This file implements the per-user mutual exclusion used around the
 * read-merge-write of purchase state. Checkout callbacks, webhook deliveries,
 * and sync runs may race on the same user; the keyed mutex serializes only the
 * final merge step — provider round trips are made before acquiring it.
 */
package app

import "sync"

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex provides a mutex per key with entries released when unused.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*lockEntry)}
}

// Lock acquires the mutex for key and returns the matching unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &lockEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
