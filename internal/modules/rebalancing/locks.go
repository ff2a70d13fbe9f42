package rebalancing

import (
	"sort"
	"sync"
	"time"
)

// LockManager holds one non-blocking lock per portfolio id
type LockManager struct {
	mu   sync.Mutex
	held map[string]time.Time
}

// NewLockManager creates an empty lock manager
func NewLockManager() *LockManager {
	return &LockManager{held: make(map[string]time.Time)}
}

// TryAcquire takes the lock for id. It returns false if the lock is already held.
func (l *LockManager) TryAcquire(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return false
	}
	l.held[id] = time.Now()
	return true
}

// Release frees the lock for id. Releasing a free lock is a no-op.
func (l *LockManager) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, id)
}

// IsLocked reports whether a run holds the lock for id
func (l *LockManager) IsLocked(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[id]
	return ok
}

// Held returns the ids currently locked, sorted
func (l *LockManager) Held() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.held))
	for id := range l.held {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
