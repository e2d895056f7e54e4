package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker implements SlotLocker within a single process. Suitable for
// tests and single-node deployments without a shared lock directory.
type MemoryLocker struct {
	mu        sync.Mutex
	now       func() time.Time
	nextOwner uint64
	held      map[string]heldLock
}

type heldLock struct {
	owner   uint64
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		now:  time.Now,
		held: make(map[string]heldLock),
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, wait, hold time.Duration) (func(), error) {
	deadline := l.now().Add(wait)
	for {
		if owner, ok := l.tryAcquire(key, hold); ok {
			return func() { l.release(key, owner) }, nil
		}
		if !l.now().Before(deadline) {
			return nil, ErrTimeout
		}
		if err := sleepRetry(ctx); err != nil {
			return nil, err
		}
	}
}

func (l *MemoryLocker) tryAcquire(key string, hold time.Duration) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return 0, false
	}
	l.nextOwner++
	l.held[key] = heldLock{owner: l.nextOwner, expires: now.Add(hold)}
	return l.nextOwner, true
}

// release frees the key only while this acquisition still owns it. A holder
// that overran its hold budget may have been superseded; its release must not
// free the new holder's lock.
func (l *MemoryLocker) release(key string, owner uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.held[key]; ok && h.owner == owner {
		delete(l.held, key)
	}
}
