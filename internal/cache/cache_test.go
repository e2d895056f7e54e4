package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryTTLExpiry(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	m := NewMemoryWithClock(func() time.Time { return now })

	m.Set("k", []byte("v"), time.Minute)
	if v, ok := m.Get("k"); !ok || !bytes.Equal(v, []byte("v")) {
		t.Fatalf("Get = %q, %v", v, ok)
	}

	now = now.Add(59 * time.Second)
	if _, ok := m.Get("k"); !ok {
		t.Fatalf("entry expired early")
	}

	now = now.Add(time.Second)
	if _, ok := m.Get("k"); ok {
		t.Fatalf("entry should be expired at its TTL")
	}
}

func TestMemoryZeroTTLNeverExpires(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	m := NewMemoryWithClock(func() time.Time { return now })

	m.Set("k", []byte("v"), 0)
	now = now.Add(240 * time.Hour)
	if _, ok := m.Get("k"); !ok {
		t.Fatalf("zero-TTL entry must not expire")
	}
}

func TestMemoryDeleteAndClear(t *testing.T) {
	m := NewMemory()
	m.Set("a", []byte("1"), 0)
	m.Set("b", []byte("2"), 0)

	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Fatalf("deleted entry still present")
	}

	m.Clear()
	if _, ok := m.Get("b"); ok {
		t.Fatalf("cleared entry still present")
	}
}

func TestFileSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile error: %v", err)
	}
	f.Set("token", []byte("abc"), time.Hour)

	reopened, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile reopen error: %v", err)
	}
	if v, ok := reopened.Get("token"); !ok || !bytes.Equal(v, []byte("abc")) {
		t.Fatalf("reopened Get = %q, %v", v, ok)
	}
}

func TestFileExpiryAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	f, err := newFileWithClock(path, func() time.Time { return now })
	if err != nil {
		t.Fatalf("newFileWithClock error: %v", err)
	}
	f.Set("token", []byte("abc"), time.Minute)

	later := now.Add(2 * time.Minute)
	reopened, err := newFileWithClock(path, func() time.Time { return later })
	if err != nil {
		t.Fatalf("newFileWithClock reopen error: %v", err)
	}
	if _, ok := reopened.Get("token"); ok {
		t.Fatalf("expired entry must not be served after reopen")
	}
}

func TestFileClearRemovesSnapshotEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile error: %v", err)
	}
	f.Set("a", []byte("1"), 0)
	f.Clear()

	reopened, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile reopen error: %v", err)
	}
	if _, ok := reopened.Get("a"); ok {
		t.Fatalf("cleared entry survived reopen")
	}
}

func TestFileCorruptSnapshotTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile error: %v", err)
	}
	if _, ok := f.Get("anything"); ok {
		t.Fatalf("corrupt snapshot must behave as empty")
	}
	// A write must recover the file.
	f.Set("k", []byte("v"), 0)
	if v, ok := f.Get("k"); !ok || !bytes.Equal(v, []byte("v")) {
		t.Fatalf("Get after recovery = %q, %v", v, ok)
	}
}
