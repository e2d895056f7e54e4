package lock

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// FileLocker implements SlotLocker with exclusive lock files in a shared
// directory. Creation with O_EXCL is the atomic acquire; removal is the
// release. Lock files older than the hold budget are treated as left behind
// by a crashed holder and broken.
type FileLocker struct {
	dir string
	now func() time.Time
}

type lockFile struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

func NewFileLocker(dir string) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileLocker{dir: dir, now: time.Now}, nil
}

func (l *FileLocker) Acquire(ctx context.Context, key string, wait, hold time.Duration) (func(), error) {
	path := filepath.Join(l.dir, key+".lock")
	deadline := l.now().Add(wait)

	for {
		release, err := l.tryAcquire(path, hold)
		if err == nil {
			return release, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if l.breakIfStale(path) {
			continue
		}
		if !l.now().Before(deadline) {
			return nil, ErrTimeout
		}
		if err := sleepRetry(ctx); err != nil {
			return nil, err
		}
	}
}

func (l *FileLocker) tryAcquire(path string, hold time.Duration) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	now := l.now()
	owner := uuid.NewString()
	data, _ := json.Marshal(lockFile{
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  now.Add(hold),
	})
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(path)
		if werr != nil {
			return nil, werr
		}
		return nil, cerr
	}
	return func() { l.releaseIfOwner(path, owner) }, nil
}

// releaseIfOwner removes the lock file only while this acquisition still owns
// it. Once the hold budget passes, another contender may have broken the file
// and written its own; removing that would free a lock someone else holds.
func (l *FileLocker) releaseIfOwner(path, owner string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var lf lockFile
	if json.Unmarshal(data, &lf) != nil || lf.Owner != owner {
		return
	}
	os.Remove(path)
}

// breakIfStale removes a lock file whose holder exceeded the hold budget.
// The expiry recorded inside the file wins; an unreadable file falls back to
// its mtime.
func (l *FileLocker) breakIfStale(path string) bool {
	now := l.now()

	data, err := os.ReadFile(path)
	if err == nil {
		var lf lockFile
		if json.Unmarshal(data, &lf) == nil && !lf.ExpiresAt.IsZero() {
			if now.After(lf.ExpiresAt) {
				return os.Remove(path) == nil
			}
			return false
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		// Already gone; treat as broken so the caller retries immediately.
		return os.IsNotExist(err)
	}
	if now.Sub(info.ModTime()) > time.Minute {
		return os.Remove(path) == nil
	}
	return false
}
