package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const (
	cacheFileName = "store.json"
	lockFileName  = "store.lock"
)

// diskCache persists the store identifier between runs so restarting the
// application reuses the same store instead of creating a new one. The
// file is guarded by an advisory lock against concurrent processes.
type diskCache struct {
	path string
	lock *flock.Flock
}

func newDiskCache(dir string) *diskCache {
	return &diskCache{
		path: filepath.Join(dir, cacheFileName),
		lock: flock.New(filepath.Join(dir, lockFileName)),
	}
}

// cacheEntry is the on-disk representation of a Handle.
type cacheEntry struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
}

// load reads the cached identifier. Returns ok=false when no cache
// exists or it cannot be parsed; a corrupt cache is treated as absent.
func (c *diskCache) load() (Handle, bool) {
	if err := c.lock.RLock(); err != nil {
		return Handle{}, false
	}
	defer func() { _ = c.lock.Unlock() }()

	data, err := os.ReadFile(c.path)
	if err != nil {
		return Handle{}, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(data, &entry); err != nil || entry.Name == "" {
		return Handle{}, false
	}
	return Handle{Name: entry.Name, DisplayName: entry.DisplayName}, true
}

// save writes the identifier atomically (temp file + rename) under the lock.
func (c *diskCache) save(h Handle) error {
	// The directory must exist before the lock file can be created.
	if err := os.MkdirAll(filepath.Dir(c.path), 0o750); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	if err := c.lock.Lock(); err != nil {
		return fmt.Errorf("locking cache file: %w", err)
	}
	defer func() { _ = c.lock.Unlock() }()

	data, err := json.Marshal(cacheEntry{Name: h.Name, DisplayName: h.DisplayName})
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replacing cache file: %w", err)
	}
	return nil
}

// clear removes the cached identifier. A missing file is not an error.
func (c *diskCache) clear() {
	if err := c.lock.Lock(); err != nil {
		return
	}
	defer func() { _ = c.lock.Unlock() }()

	// Best-effort: a leftover stale entry fails the liveness check anyway.
	_ = os.Remove(c.path)
}
