package blobcache

import (
	"github.com/hupe1980/blobcache/internal/compress"
	"github.com/hupe1980/blobcache/internal/fs"
	"github.com/hupe1980/blobcache/internal/hash"
)

// Defaults used by New when no option overrides them.
const (
	// DefaultMaxTotalSize bounds the total on-disk size of the cache.
	DefaultMaxTotalSize = 64 << 20

	// DefaultMaxHotCacheSize bounds the in-memory hot cache in bytes.
	DefaultMaxHotCacheSize = 4 << 20

	// DefaultHotCacheEntryLimit bounds the number of hot cache entries.
	DefaultHotCacheEntryLimit = 64

	// DefaultMaxKeySize is the largest accepted key.
	DefaultMaxKeySize = 4 << 10

	// DefaultMaxValueSize is the largest accepted value.
	DefaultMaxValueSize = 1 << 20

	// DefaultMaxPendingBytes bounds memory held by not-yet-persisted
	// write buffers. When the budget is exhausted, Set blocks until the
	// worker catches up.
	DefaultMaxPendingBytes = 16 << 20
)

// Hasher computes the fixed-width entry hash of raw key bytes.
// It must be deterministic across processes; the default is CRC32C.
type Hasher func(key []byte) uint32

// Compression selects the payload compression used for entry files.
//
// Changing compression for an existing cache directory is safe only in
// the None -> X direction if the directory is cleared first; entries
// written with a different codec fail their read validation and are
// discarded like any other corrupt entry.
type Compression uint8

const (
	// CompressionNone stores values verbatim.
	CompressionNone Compression = iota
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4
	// CompressionZstd uses zstd block compression (better ratio).
	CompressionZstd
)

func (co Compression) codec() compress.Codec {
	switch co {
	case CompressionLZ4:
		return compress.LZ4
	case CompressionZstd:
		return compress.Zstd
	default:
		return compress.None
	}
}

type options struct {
	maxTotalSize       int64
	maxHotCacheSize    int64
	hotCacheEntryLimit int
	maxKeySize         int
	maxValueSize       int
	maxPendingBytes    int64
	writeRateBytes     int64
	compression        Compression
	hasher             Hasher
	fsys               fs.FileSystem
	logger             *Logger
	metrics            MetricsCollector
}

func defaultOptions() options {
	return options{
		maxTotalSize:       DefaultMaxTotalSize,
		maxHotCacheSize:    DefaultMaxHotCacheSize,
		hotCacheEntryLimit: DefaultHotCacheEntryLimit,
		maxKeySize:         DefaultMaxKeySize,
		maxValueSize:       DefaultMaxValueSize,
		maxPendingBytes:    DefaultMaxPendingBytes,
		hasher:             hash.CRC32C,
		fsys:               fs.Default,
		logger:             NoopLogger(),
		metrics:            noopMetrics{},
	}
}

// Option configures cache construction.
type Option func(*options)

// WithMaxTotalSize bounds the total on-disk size in bytes. Exceeding the
// bound triggers LRU eviction back under it.
func WithMaxTotalSize(n int64) Option {
	return func(o *options) { o.maxTotalSize = n }
}

// WithMaxHotCacheSize bounds the in-memory hot cache in bytes.
// Zero disables the hot cache; reads then always go to disk.
func WithMaxHotCacheSize(n int64) Option {
	return func(o *options) { o.maxHotCacheSize = n }
}

// WithHotCacheEntryLimit bounds the number of hot cache entries.
func WithHotCacheEntryLimit(n int) Option {
	return func(o *options) { o.hotCacheEntryLimit = n }
}

// WithMaxKeySize sets the largest accepted key. Oversize keys make Set a
// silent no-op and Get a miss.
func WithMaxKeySize(n int) Option {
	return func(o *options) { o.maxKeySize = n }
}

// WithMaxValueSize sets the largest accepted value. Oversize values make
// Set a silent no-op.
func WithMaxValueSize(n int) Option {
	return func(o *options) { o.maxValueSize = n }
}

// WithMaxPendingBytes bounds the memory held by queued write buffers.
// A Set that would exceed the budget blocks until the worker drains
// enough of the backlog; entries larger than the whole budget bypass it.
// Zero removes the bound.
func WithMaxPendingBytes(n int64) Option {
	return func(o *options) { o.maxPendingBytes = n }
}

// WithWriteRateLimit throttles background disk writes to roughly
// bytesPerSec. Zero leaves writes unthrottled.
func WithWriteRateLimit(bytesPerSec int64) Option {
	return func(o *options) { o.writeRateBytes = bytesPerSec }
}

// WithCompression selects payload compression for newly written entries.
func WithCompression(co Compression) Option {
	return func(o *options) { o.compression = co }
}

// WithHasher overrides the entry hash function. The hash keys the index,
// the hot cache and the on-disk file names, so it must be stable across
// processes for the cache to survive restarts.
func WithHasher(h Hasher) Option {
	return func(o *options) {
		if h != nil {
			o.hasher = h
		}
	}
}

// WithLogger sets the logger. If nil, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(m MetricsCollector) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// withFileSystem injects a filesystem implementation. Used by tests for
// fault injection.
func withFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fsys = fsys
		}
	}
}
