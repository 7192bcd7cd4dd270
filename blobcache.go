package blobcache

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hupe1980/blobcache/internal/compress"
	"github.com/hupe1980/blobcache/internal/entryfile"
	"github.com/hupe1980/blobcache/internal/fs"
	"github.com/hupe1980/blobcache/internal/mmap"
	"github.com/hupe1980/blobcache/internal/pipeline"
)

// pendingWrite is a not-yet-persisted entry buffer. reserved marks
// whether the buffer holds a slot in the pending-memory budget; canceled
// marks buffers whose entry was removed before the write ran, so the
// completed write must not resurrect it.
type pendingWrite struct {
	data     []byte
	reserved bool
	canceled bool
}

// Cache is a persistent, size-bounded key/value blob cache.
//
// All methods are safe for concurrent use. The index, hot cache and
// pending-write registry share one mutex; the write queue has its own
// locking internally.
type Cache struct {
	dir    string
	fsys   fs.FileSystem
	hasher Hasher
	codec  compress.Codec

	maxTotalSize    int64
	maxKeySize      int
	maxValueSize    int
	maxPendingBytes int64

	mu        sync.Mutex
	entries   map[uint32]entryStats
	totalSize int64
	hot       *hotCache
	pending   map[uint32][]pendingWrite
	closed    bool

	queue        *pipeline.Queue
	pendingSem   *semaphore.Weighted
	writeLimiter *rate.Limiter

	logger  *Logger
	metrics MetricsCollector
}

// New creates or reopens a cache rooted at baseDir. The directory is
// created if needed and is owned exclusively by the cache; entry files
// surviving from earlier runs are re-indexed. The background write worker
// starts immediately.
func New(baseDir string, opts ...Option) (*Cache, error) {
	if baseDir == "" {
		return nil, ErrBaseDirEmpty
	}

	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.maxTotalSize <= 0 || o.maxKeySize <= 0 || o.maxValueSize <= 0 {
		return nil, ErrInvalidLimit
	}

	if err := o.fsys.MkdirAll(baseDir, 0o700); err != nil {
		return nil, err
	}

	c := &Cache{
		dir:             baseDir,
		fsys:            o.fsys,
		hasher:          o.hasher,
		codec:           o.compression.codec(),
		maxTotalSize:    o.maxTotalSize,
		maxKeySize:      o.maxKeySize,
		maxValueSize:    o.maxValueSize,
		maxPendingBytes: o.maxPendingBytes,
		entries:         make(map[uint32]entryStats),
		hot:             newHotCache(o.maxHotCacheSize, o.hotCacheEntryLimit),
		pending:         make(map[uint32][]pendingWrite),
		logger:          o.logger,
		metrics:         o.metrics,
	}
	if o.maxPendingBytes > 0 {
		c.pendingSem = semaphore.NewWeighted(o.maxPendingBytes)
	}
	if o.writeRateBytes > 0 {
		c.writeLimiter = rate.NewLimiter(rate.Limit(o.writeRateBytes), int(o.writeRateBytes))
	}

	c.scanDir()
	if c.totalSize > c.maxTotalSize {
		c.applyLRU(c.maxTotalSize)
	}

	c.queue = pipeline.NewQueue(c.processTask)
	return c, nil
}

// scanDir rebuilds the index from entry files left by earlier runs.
// Stale temp files are swept; files with invalid headers are removed.
// Access times are seeded from file modification times.
func (c *Cache) scanDir() {
	dirents, err := c.fsys.ReadDir(c.dir)
	if err != nil {
		c.logger.Warn("cache dir scan failed", "dir", c.dir, "error", err)
		return
	}

	tempPrefix := strings.TrimSuffix(entryfile.TempPattern, "*")
	for _, de := range dirents {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		path := filepath.Join(c.dir, name)

		hash, ok := entryfile.ParseFileName(name)
		if !ok {
			if strings.HasPrefix(name, tempPrefix) {
				_ = c.fsys.Remove(path)
			} else {
				c.logger.Debug("ignoring foreign file in cache dir", "name", name)
			}
			continue
		}

		info, err := de.Info()
		if err != nil {
			continue
		}
		hdr, err := entryfile.ReadHeader(c.fsys, path)
		if err != nil || info.Size() < int64(entryfile.HeaderSize+hdr.KeySize) {
			c.logger.Debug("removing invalid entry file", "name", name, "error", err)
			_ = c.fsys.Remove(path)
			continue
		}
		c.trackEntry(hash, int64(hdr.KeySize), int64(hdr.ValueSize), info.Size(), info.ModTime())
	}
}

// Set stores value under key. Oversize keys or values are rejected
// silently. The entry becomes visible to Get immediately; the disk write
// happens on the background worker, and a Set over an existing hash
// replaces the old entry.
func (c *Cache) Set(key, value []byte) {
	if len(key) == 0 || len(value) == 0 ||
		len(key) > c.maxKeySize || len(value) > c.maxValueSize {
		c.logger.Debug("rejecting set", "keySize", len(key), "valueSize", len(value))
		c.metrics.RecordSet(int64(len(value)), false)
		return
	}

	data, err := entryfile.Encode(key, value, c.codec)
	if err != nil {
		c.logger.Warn("entry encode failed", "error", err)
		c.metrics.RecordSet(int64(len(value)), false)
		return
	}

	hash := c.hasher(key)
	name := entryfile.FileName(hash)
	size := int64(len(data))

	// Reserve pending-buffer memory before taking the cache lock: the
	// worker needs the lock to release reservations, so blocking here
	// with it held would deadlock. Entries larger than the whole budget
	// bypass the reservation instead of waiting forever.
	reserved := false
	if c.pendingSem != nil && size <= c.maxPendingBytes {
		_ = c.pendingSem.Acquire(context.Background(), size)
		reserved = true
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if reserved {
			c.pendingSem.Release(size)
		}
		c.metrics.RecordSet(int64(len(value)), false)
		return
	}

	// A hash collision or overwrite replaces the old entry; the stats
	// delta is absorbed by trackEntry and the file is replaced on disk
	// by the atomic rename of the new write.
	c.hot.remove(hash)
	c.trackEntry(hash, int64(len(key)), int64(len(value)), size, time.Now())
	c.hot.add(hash, data, nil)

	// Tasks are executed in submission order, so the last Set for a
	// given hash always wins on disk.
	c.pending[hash] = append(c.pending[hash], pendingWrite{data: data, reserved: reserved})
	c.queue.Submit(pipeline.NewWriteTask(hash, filepath.Join(c.dir, name), data))

	if c.totalSize > c.maxTotalSize {
		c.applyLRU(c.maxTotalSize)
	}
	c.mu.Unlock()

	c.metrics.RecordSet(int64(len(value)), true)
}

// Get looks up key and copies its value into dst. The return value is 0
// on a miss; on a hit it is the value size. When len(dst) is smaller than
// the value, nothing is copied and the required size is returned so the
// caller can retry with a larger buffer.
func (c *Cache) Get(key, dst []byte) int {
	if len(key) == 0 || len(key) > c.maxKeySize {
		c.metrics.RecordGet(false)
		return 0
	}
	hash := c.hasher(key)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.metrics.RecordGet(false)
		return 0
	}

	// Hot cache, then the pending-write registry: both hold the newest
	// buffer, so a Get racing a still-queued Set observes the new value.
	if data, ok := c.hot.get(hash); ok {
		return c.finishLookup(hash, key, data, dst)
	}
	if list := c.pending[hash]; len(list) > 0 {
		// A canceled newest buffer means the entry was removed after
		// queueing; it must not be served.
		if pw := list[len(list)-1]; !pw.canceled {
			return c.finishLookup(hash, key, pw.data, dst)
		}
	}
	if !c.contains(hash) {
		c.mu.Unlock()
		c.metrics.RecordGet(false)
		return 0
	}
	path := filepath.Join(c.dir, entryfile.FileName(hash))
	c.mu.Unlock()

	// Disk read outside the lock. Prefer a memory mapping so the image
	// can move into the hot cache without a copy.
	if m, err := mmap.Open(path); err == nil {
		c.mu.Lock()
		return c.finishDiskLookup(hash, key, dst, m)
	}

	// Mapping failed (or unsupported target); fall back to a plain read
	// through the filesystem abstraction.
	data, err := entryfile.ReadFile(c.fsys, path)
	c.mu.Lock()
	if err != nil {
		// A Set may have raced in while the lock was released; only
		// discard the record when no newer write is queued.
		if len(c.pending[hash]) == 0 {
			c.removeEntry(hash)
		}
		c.mu.Unlock()
		c.logger.Debug("entry unreadable", "hash", entryfile.FileName(hash), "error", err)
		c.metrics.RecordGet(false)
		return 0
	}
	return c.finishLookup(hash, key, data, dst)
}

// finishLookup decodes an in-memory file image, verifies the key and
// copies the value out. Called with c.mu held; releases it.
func (c *Cache) finishLookup(hash uint32, key, data, dst []byte) int {
	n, ok := c.copyValue(hash, key, data, dst)
	if !ok {
		// Corrupt image or a hash collision: evict so a later Set for
		// the querying key lands cleanly.
		c.removeEntry(hash)
		c.mu.Unlock()
		c.metrics.RecordGet(false)
		return 0
	}
	c.touch(hash)
	c.mu.Unlock()
	c.metrics.RecordGet(true)
	return n
}

// finishDiskLookup is finishLookup for a memory-mapped image: on a
// verified hit the mapping is admitted to the hot cache, which then owns
// it. Called with c.mu held; releases it.
func (c *Cache) finishDiskLookup(hash uint32, key, dst []byte, m *mmap.File) int {
	n, ok := c.copyValue(hash, key, m.Data, dst)
	if !ok {
		c.removeEntry(hash)
		c.mu.Unlock()
		_ = m.Close()
		c.metrics.RecordGet(false)
		return 0
	}
	// A Set may have replaced the entry while the lock was released:
	// never let a stale mapped image shadow a newer buffer.
	admitted := false
	if c.contains(hash) && len(c.pending[hash]) == 0 {
		if _, hot := c.hot.get(hash); !hot {
			admitted = c.hot.add(hash, m.Data, m)
		}
		c.touch(hash)
	}
	c.mu.Unlock()
	if !admitted {
		// The value was already copied out under the lock.
		_ = m.Close()
	}
	c.metrics.RecordGet(true)
	return n
}

// copyValue decodes a file image, verifies the stored key byte-for-byte
// against the query key and copies the value into dst. It reports false
// for malformed images and hash collisions. When dst is too small the
// required size is returned and nothing is copied; that still counts as
// a verified hit.
func (c *Cache) copyValue(hash uint32, key, data, dst []byte) (int, bool) {
	storedKey, value, err := entryfile.Decode(data, c.codec)
	if err != nil {
		c.logger.Debug("entry decode failed", "hash", entryfile.FileName(hash), "error", err)
		return 0, false
	}
	if !bytes.Equal(storedKey, key) {
		c.logger.Debug("hash collision", "hash", entryfile.FileName(hash))
		return 0, false
	}
	if len(dst) < len(value) {
		return len(value), true
	}
	copy(dst, value)
	return len(value), true
}

// Finish drains the write pipeline: everything accepted by Set before the
// call is durably on disk (or has already failed silently) on return.
func (c *Cache) Finish() {
	c.queue.Drain()
}

// TrimCache evicts least-recently-accessed entries until the total
// on-disk size is at most limit. The write pipeline is drained first so
// size accounting reflects completed writes.
func (c *Cache) TrimCache(limit int64) {
	c.queue.Drain()
	c.mu.Lock()
	c.applyLRU(limit)
	c.mu.Unlock()
}

// TotalSize returns a best-effort snapshot of the total on-disk size.
// It may be stale while writes are in flight.
func (c *Cache) TotalSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalSize
}

// Close drains the write pipeline, stops the worker and releases hot
// cache resources. The cache must not be used afterwards. Idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()

	c.queue.Close()
	if alreadyClosed {
		return nil
	}

	c.mu.Lock()
	c.hot.purge()
	c.mu.Unlock()
	return nil
}

// processTask runs on the pipeline worker: it performs one deferred disk
// write, settles the pending-write registry and updates the index.
func (c *Cache) processTask(t pipeline.Task) {
	c.throttle(len(t.Data))
	err := entryfile.WriteFile(c.fsys, c.dir, filepath.Base(t.Path), t.Data)

	c.mu.Lock()
	pw, hadPending := c.completePending(t.Hash)
	if hadPending && pw.canceled {
		// The entry was evicted while this write was queued. Undo the
		// just-written file instead of resurrecting the entry; a later
		// queued write for the same hash recreates it.
		if err == nil {
			_ = c.fsys.Remove(t.Path)
		}
	} else {
		c.settleWrite(t.Hash, t.Data, err)
	}
	c.mu.Unlock()

	c.metrics.RecordWrite(int64(len(t.Data)), err)
	if err != nil {
		c.logger.Warn("deferred write failed", "hash", entryfile.FileName(t.Hash), "error", err)
	}
}

// completePending pops the oldest pending record for hash and returns its
// memory reservation. Callers must hold c.mu.
func (c *Cache) completePending(hash uint32) (pendingWrite, bool) {
	list := c.pending[hash]
	if len(list) == 0 {
		return pendingWrite{}, false
	}
	pw := list[0]
	if len(list) == 1 {
		delete(c.pending, hash)
	} else {
		c.pending[hash] = list[1:]
	}
	if pw.reserved {
		c.pendingSem.Release(int64(len(pw.data)))
	}
	return pw, true
}

// settleWrite records the outcome of a completed write. On success the
// index gets the final stats; on failure the entry is rolled back unless
// a newer write for the same hash is still queued, so the cache never
// reports an entry present without a readable backing file.
// Callers must hold c.mu.
func (c *Cache) settleWrite(hash uint32, data []byte, err error) {
	if err != nil {
		if len(c.pending[hash]) == 0 {
			c.removeEntry(hash)
		}
		return
	}
	hdr, perr := entryfile.ParseHeader(data)
	if perr != nil {
		return
	}
	// Keep the provisional access time: the logical write happened at
	// Set, not when the worker got around to it.
	at := time.Now()
	if st, ok := c.entries[hash]; ok {
		at = st.accessTime
	}
	c.trackEntry(hash, int64(hdr.KeySize), int64(hdr.ValueSize), int64(len(data)), at)
}

// throttle paces background writes against the configured I/O budget.
func (c *Cache) throttle(n int) {
	if c.writeLimiter == nil || n <= 0 {
		return
	}
	burst := c.writeLimiter.Burst()
	for n > 0 {
		chunk := min(n, burst)
		_ = c.writeLimiter.WaitN(context.Background(), chunk)
		n -= chunk
	}
}
