package blobcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIndexOnlyCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestTrackEntry_SignedDelta(t *testing.T) {
	c := newIndexOnlyCache(t)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.trackEntry(1, 4, 100, 120, now)
	c.trackEntry(2, 4, 200, 220, now)
	assert.Equal(t, int64(340), c.totalSize)

	// Replacing an entry adjusts by the difference, not the sum.
	c.trackEntry(1, 4, 50, 70, now)
	assert.Equal(t, int64(290), c.totalSize)

	st, ok := c.getEntryStats(1)
	require.True(t, ok)
	assert.Equal(t, entryStats{keySize: 4, valueSize: 50, fileSize: 70, accessTime: now}, st)

	_, ok = c.getEntryStats(3)
	assert.False(t, ok)
	assert.False(t, c.contains(3))
}

func TestTouch_RefreshesAccessTime(t *testing.T) {
	c := newIndexOnlyCache(t)
	c.mu.Lock()
	defer c.mu.Unlock()

	old := time.Now().Add(-time.Hour)
	c.trackEntry(7, 1, 10, 27, old)
	c.touch(7)

	st, ok := c.getEntryStats(7)
	require.True(t, ok)
	assert.True(t, st.accessTime.After(old))

	// Touching an unknown hash does not create a record.
	c.touch(8)
	assert.False(t, c.contains(8))
}

func TestApplyLRU_TieBreaksOnHash(t *testing.T) {
	c := newIndexOnlyCache(t)
	c.mu.Lock()
	defer c.mu.Unlock()

	at := time.Now()
	c.trackEntry(5, 1, 10, 100, at)
	c.trackEntry(3, 1, 10, 100, at)
	c.trackEntry(9, 1, 10, 100, at)

	c.applyLRU(250)
	assert.False(t, c.contains(3))
	assert.True(t, c.contains(5))
	assert.True(t, c.contains(9))

	c.applyLRU(0)
	assert.Zero(t, c.totalSize)
	assert.Empty(t, c.entries)
}
