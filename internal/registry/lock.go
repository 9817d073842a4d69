package registry

import "sync"

// keyedMutex provides per-bet mutual exclusion inside a single process. A
// bet's flags and timestamp are read-modify-written as one atomic unit under
// its key, so two concurrent deposits or a deposit racing a settlement can
// never observe intermediate state.
//
// Entries are never removed: the set of bets is append-only and each entry
// is a single mutex.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*sync.Mutex)}
}

// lock acquires the mutex for the given key, creating it on first use, and
// returns the unlock function.
func (km *keyedMutex) lock(key int64) func() {
	km.mu.Lock()
	m, ok := km.locks[key]
	if !ok {
		m = &sync.Mutex{}
		km.locks[key] = m
	}
	km.mu.Unlock()

	m.Lock()
	return m.Unlock
}
