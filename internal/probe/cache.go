package probe

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Duration cache entries expire this long after being written, regardless
// of the underlying file.
const durationCacheMaxAge = 30 * 24 * time.Hour

type durationEntry struct {
	Duration     *float64  `json:"duration"`
	FileSize     int64     `json:"file_size"`
	ModifiedTime float64   `json:"modified_time"`
	CachedAt     time.Time `json:"cached_at"`
}

// DurationCache is the on-disk JSON cache of probed durations, keyed by
// absolute path. Entries are invalidated when the file's size or mtime
// changes and purged 30 days after caching.
type DurationCache struct {
	path string

	mu      sync.Mutex
	entries map[string]durationEntry
	dirty   bool
}

// OpenDurationCache loads the cache file, dropping expired entries. A
// missing or unreadable file yields an empty cache.
func OpenDurationCache(path string) *DurationCache {
	c := &DurationCache{path: path, entries: make(map[string]durationEntry)}
	data, err := os.ReadFile(path)
	if err != nil {
		return c
	}
	var raw map[string]durationEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("[probe] duration cache %s unreadable, starting fresh: %v", path, err)
		return c
	}
	cutoff := time.Now().Add(-durationCacheMaxAge)
	for key, entry := range raw {
		if entry.CachedAt.Before(cutoff) {
			continue
		}
		c.entries[key] = entry
	}
	return c
}

// Get returns the cached duration when the file's size and mtime still
// match the entry.
func (c *DurationCache) Get(path string, size int64, mtime time.Time) (*float64, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[path]
	if !ok {
		return nil, false
	}
	if entry.FileSize != size || entry.ModifiedTime != unixFloat(mtime) {
		delete(c.entries, path)
		c.dirty = true
		return nil, false
	}
	return entry.Duration, true
}

func (c *DurationCache) Put(path string, duration *float64, size int64, mtime time.Time) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = durationEntry{
		Duration:     duration,
		FileSize:     size,
		ModifiedTime: unixFloat(mtime),
		CachedAt:     time.Now().UTC(),
	}
	c.dirty = true
}

// Flush writes the cache back to disk if anything changed since the last
// flush.
func (c *DurationCache) Flush() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

// Purge drops entries older than the cache max age and returns how many
// were removed.
func (c *DurationCache) Purge() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	cutoff := time.Now().Add(-durationCacheMaxAge)
	removed := 0
	for key, entry := range c.entries {
		if entry.CachedAt.Before(cutoff) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.dirty = true
	}
	c.mu.Unlock()
	return removed
}

func (c *DurationCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func unixFloat(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
