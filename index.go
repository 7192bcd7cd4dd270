package blobcache

import (
	"path/filepath"
	"time"

	"github.com/hupe1980/blobcache/internal/entryfile"
)

// entryStats is the bookkeeping record for one indexed entry.
// The invariant is one record per hash present in the index.
type entryStats struct {
	keySize    int64
	valueSize  int64
	fileSize   int64
	accessTime time.Time
}

// trackEntry inserts or updates the record for hash and adjusts the total
// cache size by the signed delta versus any prior record.
// Callers must hold c.mu.
func (c *Cache) trackEntry(hash uint32, keySize, valueSize, fileSize int64, at time.Time) {
	if prev, ok := c.entries[hash]; ok {
		c.totalSize += fileSize - prev.fileSize
	} else {
		c.totalSize += fileSize
	}
	c.entries[hash] = entryStats{
		keySize:    keySize,
		valueSize:  valueSize,
		fileSize:   fileSize,
		accessTime: at,
	}
}

// contains reports whether hash is indexed. Callers must hold c.mu.
func (c *Cache) contains(hash uint32) bool {
	_, ok := c.entries[hash]
	return ok
}

// getEntryStats returns the record for hash. Callers must hold c.mu.
func (c *Cache) getEntryStats(hash uint32) (entryStats, bool) {
	st, ok := c.entries[hash]
	return st, ok
}

// touch refreshes the access time of an indexed entry.
// Callers must hold c.mu.
func (c *Cache) touch(hash uint32) {
	if st, ok := c.entries[hash]; ok {
		st.accessTime = time.Now()
		c.entries[hash] = st
	}
}

// removeEntry deletes the backing file, the index record and any hot
// cache entry for hash, and decreases the total size. It reports whether
// a record existed; removing a missing hash has no side effects.
// Callers must hold c.mu.
func (c *Cache) removeEntry(hash uint32) bool {
	st, ok := c.entries[hash]
	if !ok {
		return false
	}
	delete(c.entries, hash)
	c.totalSize -= st.fileSize
	_ = c.fsys.Remove(filepath.Join(c.dir, entryfile.FileName(hash)))
	c.hot.remove(hash)
	// Queued writes for this entry must not bring it back.
	for i := range c.pending[hash] {
		c.pending[hash][i].canceled = true
	}
	return true
}

// applyLRU removes least-recently-accessed entries until the total size
// is at most limit or no entries remain. Equal access times are broken by
// the smaller hash so eviction order is reproducible.
// Callers must hold c.mu.
func (c *Cache) applyLRU(limit int64) {
	if limit < 0 {
		limit = 0
	}
	for c.totalSize > limit && len(c.entries) > 0 {
		var (
			victim uint32
			oldest time.Time
			found  bool
		)
		for h, st := range c.entries {
			switch {
			case !found,
				st.accessTime.Before(oldest),
				st.accessTime.Equal(oldest) && h < victim:
				victim, oldest, found = h, st.accessTime, true
			}
		}
		size := c.entries[victim].fileSize
		c.removeEntry(victim)
		c.metrics.RecordEviction(size)
		c.logger.Debug("evicted entry",
			"hash", entryfile.FileName(victim),
			"bytes", size,
			"total", c.totalSize,
		)
	}
}
