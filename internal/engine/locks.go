package engine

import "sync"

// leadLocks serializes workflow runs per lead. Runs for distinct leads
// proceed concurrently; two runs for the same lead queue behind one
// mutex so the single-active-execution invariant holds without
// store-level transactions.
type leadLocks struct {
	mu    sync.Mutex
	locks map[int64]*leadLock
}

type leadLock struct {
	mu   sync.Mutex
	refs int
}

func newLeadLocks() *leadLocks {
	return &leadLocks{locks: make(map[int64]*leadLock)}
}

// lock acquires the mutex for leadID and returns its unlock function.
// Entries are reference-counted and removed when idle so the map does
// not grow with the lead population.
func (l *leadLocks) lock(leadID int64) func() {
	l.mu.Lock()
	entry, ok := l.locks[leadID]
	if !ok {
		entry = &leadLock{}
		l.locks[leadID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, leadID)
		}
		l.mu.Unlock()
	}
}
