// Package lock provides the per-slot mutual exclusion used to serialize the
// check-then-book critical section across processes. Locks are advisory,
// exclusive-only, keyed by the wall-clock (date, time) pair, bounded by a
// wait budget on acquisition and a hold budget on staleness, and always
// released by the caller via the returned release func.
package lock

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrTimeout means the lock was held by someone else for the whole wait
	// budget. Retryable by the caller.
	ErrTimeout = errors.New("lock acquisition timed out")
)

type SlotLocker interface {
	// Acquire blocks until the key is locked, the wait budget elapses
	// (ErrTimeout), or ctx is done. hold bounds how long a crashed holder can
	// keep the key before the lock is considered stale. The returned release
	// func is non-nil on success and safe to call exactly once.
	Acquire(ctx context.Context, key string, wait, hold time.Duration) (func(), error)
}

// Key derives the lock key from the exact (date, time) pair. The resource is
// deliberately not part of the key: two resources booking the same wall-clock
// slot must still serialize against the "either" assignment reading both of
// their loads.
func Key(date, hhmm string) string {
	return date + "T" + strings.ReplaceAll(hhmm, ":", "")
}

const retryInterval = 50 * time.Millisecond

func sleepRetry(ctx context.Context) error {
	t := time.NewTimer(retryInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
