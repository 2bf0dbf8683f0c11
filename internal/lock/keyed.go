// Package lock provides per-key mutual exclusion. Booking-affecting
// operations are serialized per provider and ledger writes per account;
// the scope is in-process because the service is a single deployable.
package lock

import "sync"

type Keyed struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewKeyed() *Keyed {
	return &Keyed{locks: map[string]*sync.Mutex{}}
}

// Acquire blocks until the key's mutex is held and returns the release func.
func (k *Keyed) Acquire(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
