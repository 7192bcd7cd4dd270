package blobcache

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// entryBytes is the on-disk size of a one-byte key with a 100-byte value.
const entryBytes = 16 + 1 + 100

func setPaced(t *testing.T, c *Cache, key string) {
	t.Helper()
	c.Set([]byte(key), bytes.Repeat([]byte{0x55}, 100))
	c.Finish()
	time.Sleep(5 * time.Millisecond)
}

func TestCache_TrimCacheEvictsLRU(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	setPaced(t, c, "a")
	setPaced(t, c, "b")
	setPaced(t, c, "c")
	require.Equal(t, int64(3*entryBytes), c.TotalSize())

	// Dropping to two entries evicts "a", the least recently used.
	c.TrimCache(2*entryBytes)
	assert.Zero(t, c.Get([]byte("a"), nil))
	assert.Equal(t, 100, c.Get([]byte("b"), nil))
	assert.Equal(t, 100, c.Get([]byte("c"), nil))

	// The probes above refreshed "b" before "c", so a further trim to a
	// single entry keeps "c".
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 100, c.Get([]byte("c"), nil))
	c.TrimCache(entryBytes)
	assert.Zero(t, c.Get([]byte("b"), nil))
	assert.Equal(t, 100, c.Get([]byte("c"), nil))
	assert.Equal(t, int64(entryBytes), c.TotalSize())
}

func TestCache_TrimCacheToZero(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	setPaced(t, c, "x")
	setPaced(t, c, "y")
	c.TrimCache(0)
	assert.Zero(t, c.TotalSize())
	assert.Zero(t, c.Get([]byte("x"), nil))
	assert.Zero(t, c.Get([]byte("y"), nil))
}

func TestCache_SetEnforcesTotalBudget(t *testing.T) {
	// Room for two entries plus change, never four.
	c, err := New(t.TempDir(), WithMaxTotalSize(3*entryBytes-1))
	require.NoError(t, err)
	defer c.Close()

	setPaced(t, c, "a")
	setPaced(t, c, "b")
	setPaced(t, c, "c")
	setPaced(t, c, "d")

	assert.LessOrEqual(t, c.TotalSize(), int64(3*entryBytes-1))
	assert.Zero(t, c.Get([]byte("a"), nil))
	assert.Zero(t, c.Get([]byte("b"), nil))
	assert.Equal(t, 100, c.Get([]byte("c"), nil))
	assert.Equal(t, 100, c.Get([]byte("d"), nil))
}

func TestCache_ReopenAboveBudgetTrims(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir)
	require.NoError(t, err)
	setPaced(t, c, "old")
	setPaced(t, c, "new")
	require.NoError(t, c.Close())

	// A smaller budget on reopen trims by the scanned access times.
	c2, err := New(dir, WithMaxTotalSize(entryBytes+16))
	require.NoError(t, err)
	defer c2.Close()

	assert.LessOrEqual(t, c2.TotalSize(), int64(entryBytes+16))
	c2.mu.Lock()
	remaining := len(c2.entries)
	c2.mu.Unlock()
	assert.Equal(t, 1, remaining)
}

func TestCache_EvictionMetrics(t *testing.T) {
	m := &Metrics{}
	c, err := New(t.TempDir(), WithMetricsCollector(m))
	require.NoError(t, err)
	defer c.Close()

	setPaced(t, c, "a")
	setPaced(t, c, "b")
	c.TrimCache(entryBytes)

	assert.Equal(t, int64(1), m.Evictions())
	assert.Equal(t, int64(entryBytes), m.BytesEvicted())
}
