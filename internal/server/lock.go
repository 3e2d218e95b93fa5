package server

import "sync"

// LockManager hands out non-blocking per-target locks. Different deployment
// directories can be provisioned concurrently; one directory never twice at once.
type LockManager struct {
	mu    sync.Mutex // guards locks
	locks map[string]*sync.Mutex
}

// NewLockManager creates an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// TryLock reports whether the lock for target was acquired. It never blocks.
func (lm *LockManager) TryLock(target string) bool {
	lm.mu.Lock()
	lock, exists := lm.locks[target]
	if !exists {
		lock = &sync.Mutex{}
		lm.locks[target] = lock
	}
	lm.mu.Unlock()

	return lock.TryLock()
}

// Unlock releases the lock for target. Unknown targets are ignored.
func (lm *LockManager) Unlock(target string) {
	lm.mu.Lock()
	lock := lm.locks[target]
	lm.mu.Unlock()

	if lock != nil {
		lock.Unlock()
	}
}
