package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type fileEntry struct {
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// File is a Store mirrored to a single JSON file so cached values (the access
// token, mainly) survive process restarts. Writes go to a temp file in the
// same directory followed by a rename, so a concurrent reader sees either the
// old snapshot or the new one, never a partial write.
type File struct {
	mu      sync.Mutex
	path    string
	now     func() time.Time
	entries map[string]fileEntry
}

func NewFile(path string) (*File, error) {
	return newFileWithClock(path, time.Now)
}

func newFileWithClock(path string, now func() time.Time) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f := &File{
		path:    path,
		now:     now,
		entries: make(map[string]fileEntry),
	}
	f.load()
	return f, nil
}

// load reads the snapshot if present; a missing or corrupt file is treated as
// an empty cache.
func (f *File) load() {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return
	}
	var entries map[string]fileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return
	}
	f.entries = entries
}

func (f *File) flush() {
	data, err := json.Marshal(f.entries)
	if err != nil {
		return
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".cache-*")
	if err != nil {
		return
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
	}
}

func (f *File) Get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.load()
	e, ok := f.entries[key]
	if !ok {
		return nil, false
	}
	if !e.ExpiresAt.IsZero() && !f.now().Before(e.ExpiresAt) {
		return nil, false
	}
	return e.Value, true
}

func (f *File) Set(key string, value []byte, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := fileEntry{Value: value}
	if ttl > 0 {
		e.ExpiresAt = f.now().Add(ttl)
	}
	f.entries[key] = e
	f.flush()
}

func (f *File) Delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, key)
	f.flush()
}

func (f *File) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = make(map[string]fileEntry)
	f.flush()
}
