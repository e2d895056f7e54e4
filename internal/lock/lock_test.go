package lock

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyIgnoresResource(t *testing.T) {
	if got := Key("2026-03-02", "09:30"); got != "2026-03-02T0930" {
		t.Fatalf("Key = %q, want %q", got, "2026-03-02T0930")
	}
}

func TestMemoryLockerMutualExclusion(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k", time.Second, time.Minute)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}

	_, err = l.Acquire(ctx, "k", 120*time.Millisecond, time.Minute)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("second Acquire error = %v, want ErrTimeout", err)
	}

	release()
	release2, err := l.Acquire(ctx, "k", time.Second, time.Minute)
	if err != nil {
		t.Fatalf("Acquire after release error: %v", err)
	}
	release2()
}

func TestMemoryLockerDistinctKeysIndependent(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	r1, err := l.Acquire(ctx, "2026-03-02T0900", time.Second, time.Minute)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	defer r1()

	r2, err := l.Acquire(ctx, "2026-03-02T0930", time.Second, time.Minute)
	if err != nil {
		t.Fatalf("distinct key Acquire error: %v", err)
	}
	r2()
}

func TestMemoryLockerStaleHoldBroken(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	l := &MemoryLocker{
		now:  func() time.Time { return now },
		held: make(map[string]heldLock),
	}
	ctx := context.Background()

	// Acquired but never released; simulates a crashed holder.
	if _, err := l.Acquire(ctx, "k", time.Second, 30*time.Second); err != nil {
		t.Fatalf("Acquire error: %v", err)
	}

	now = now.Add(31 * time.Second)
	release, err := l.Acquire(ctx, "k", time.Second, 30*time.Second)
	if err != nil {
		t.Fatalf("Acquire past hold budget error: %v", err)
	}
	release()
}

func TestMemoryLockerContextCancellation(t *testing.T) {
	l := NewMemoryLocker()
	release, err := l.Acquire(context.Background(), "k", time.Second, time.Minute)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k", 10*time.Second, time.Minute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire error = %v, want context.DeadlineExceeded", err)
	}
}

func TestFileLockerMutualExclusionAndRelease(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileLocker(dir)
	if err != nil {
		t.Fatalf("NewFileLocker error: %v", err)
	}
	ctx := context.Background()

	release, err := l.Acquire(ctx, "2026-03-02T0900", time.Second, time.Minute)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "2026-03-02T0900.lock")); err != nil {
		t.Fatalf("lock file missing: %v", err)
	}

	_, err = l.Acquire(ctx, "2026-03-02T0900", 120*time.Millisecond, time.Minute)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("second Acquire error = %v, want ErrTimeout", err)
	}

	release()
	if _, err := os.Stat(filepath.Join(dir, "2026-03-02T0900.lock")); !os.IsNotExist(err) {
		t.Fatalf("lock file should be removed on release")
	}
}

func TestFileLockerBreaksExpiredLock(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileLocker(dir)
	if err != nil {
		t.Fatalf("NewFileLocker error: %v", err)
	}

	// A lock file whose recorded expiry is in the past, as a crashed holder
	// would leave behind.
	stale, _ := json.Marshal(lockFile{
		Owner:      "crashed",
		AcquiredAt: time.Now().Add(-time.Hour),
		ExpiresAt:  time.Now().Add(-30 * time.Minute),
	})
	path := filepath.Join(dir, "k.lock")
	if err := os.WriteFile(path, stale, 0o644); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}

	release, err := l.Acquire(context.Background(), "k", time.Second, time.Minute)
	if err != nil {
		t.Fatalf("Acquire over stale lock error: %v", err)
	}
	release()
}

func TestFileLockerHonorsLiveLockFile(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileLocker(dir)
	if err != nil {
		t.Fatalf("NewFileLocker error: %v", err)
	}

	live, _ := json.Marshal(lockFile{
		Owner:      "other-process",
		AcquiredAt: time.Now(),
		ExpiresAt:  time.Now().Add(time.Minute),
	})
	if err := os.WriteFile(filepath.Join(dir, "k.lock"), live, 0o644); err != nil {
		t.Fatalf("write live lock: %v", err)
	}

	_, err = l.Acquire(context.Background(), "k", 120*time.Millisecond, time.Minute)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Acquire error = %v, want ErrTimeout", err)
	}
}

func TestMemoryLockerOverrunningReleaseLeavesNewHolder(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	l := &MemoryLocker{
		now:  func() time.Time { return now },
		held: make(map[string]heldLock),
	}
	ctx := context.Background()

	releaseA, err := l.Acquire(ctx, "k", time.Second, 30*time.Second)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}

	// A overruns its hold budget; B legitimately takes the key over.
	now = now.Add(31 * time.Second)
	releaseB, err := l.Acquire(ctx, "k", time.Second, 30*time.Second)
	if err != nil {
		t.Fatalf("Acquire over expired hold error: %v", err)
	}

	// A's late release must not free B's lock.
	releaseA()
	if _, err := l.Acquire(ctx, "k", 0, 30*time.Second); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Acquire error = %v, want ErrTimeout while B still holds", err)
	}

	releaseB()
	release, err := l.Acquire(ctx, "k", time.Second, 30*time.Second)
	if err != nil {
		t.Fatalf("Acquire after B released error: %v", err)
	}
	release()
}

func TestFileLockerOverrunningReleaseLeavesNewHolder(t *testing.T) {
	dir := t.TempDir()
	l, err := NewFileLocker(dir)
	if err != nil {
		t.Fatalf("NewFileLocker error: %v", err)
	}
	ctx := context.Background()

	releaseA, err := l.Acquire(ctx, "k", time.Second, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("Acquire error: %v", err)
	}

	// A overruns its hold budget; B breaks the stale file and takes the key.
	time.Sleep(50 * time.Millisecond)
	releaseB, err := l.Acquire(ctx, "k", time.Second, time.Minute)
	if err != nil {
		t.Fatalf("Acquire over stale hold error: %v", err)
	}

	// A's late release must not remove B's lock file.
	releaseA()
	if _, err := l.Acquire(ctx, "k", 0, time.Minute); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Acquire error = %v, want ErrTimeout while B still holds", err)
	}

	releaseB()
	release, err := l.Acquire(ctx, "k", time.Second, time.Minute)
	if err != nil {
		t.Fatalf("Acquire after B released error: %v", err)
	}
	release()
}

func TestMemoryLockerSingleWinnerUnderContention(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	var held atomic.Int32
	var maxHeld atomic.Int32
	done := make(chan error, 8)

	for i := 0; i < 8; i++ {
		go func() {
			release, err := l.Acquire(ctx, "slot", 5*time.Second, time.Minute)
			if err != nil {
				done <- err
				return
			}
			n := held.Add(1)
			for {
				cur := maxHeld.Load()
				if n <= cur || maxHeld.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			held.Add(-1)
			release()
			done <- nil
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
	}
	if maxHeld.Load() != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxHeld.Load())
	}
}
