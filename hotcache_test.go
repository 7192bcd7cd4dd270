package blobcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeSpy struct{ closed bool }

func (s *closeSpy) Close() error {
	s.closed = true
	return nil
}

func TestHotCache_AddGet(t *testing.T) {
	hc := newHotCache(1024, 16)
	require.True(t, hc.add(1, []byte("one"), nil))
	require.True(t, hc.add(2, []byte("two"), nil))

	data, ok := hc.get(1)
	require.True(t, ok)
	assert.Equal(t, "one", string(data))
	_, ok = hc.get(3)
	assert.False(t, ok)
	assert.Equal(t, 2, hc.len())
	assert.Equal(t, int64(6), hc.bytes())
}

func TestHotCache_EvictsOldestInserted(t *testing.T) {
	hc := newHotCache(30, 16)
	require.True(t, hc.add(1, make([]byte, 10), nil))
	require.True(t, hc.add(2, make([]byte, 10), nil))
	require.True(t, hc.add(3, make([]byte, 10), nil))

	// Reading does not refresh insertion order.
	hc.get(1)
	require.True(t, hc.add(4, make([]byte, 10), nil))

	_, ok := hc.get(1)
	assert.False(t, ok)
	_, ok = hc.get(2)
	assert.True(t, ok)
	assert.Equal(t, int64(30), hc.bytes())
}

func TestHotCache_EntryCountBudget(t *testing.T) {
	hc := newHotCache(1<<20, 2)
	require.True(t, hc.add(1, []byte("a"), nil))
	require.True(t, hc.add(2, []byte("b"), nil))
	require.True(t, hc.add(3, []byte("c"), nil))

	assert.Equal(t, 2, hc.len())
	_, ok := hc.get(1)
	assert.False(t, ok)
}

func TestHotCache_RejectsOversized(t *testing.T) {
	hc := newHotCache(8, 16)
	assert.False(t, hc.add(1, make([]byte, 9), nil))
	assert.Zero(t, hc.len())
}

func TestHotCache_ReAddReplaces(t *testing.T) {
	hc := newHotCache(1024, 16)
	spy := &closeSpy{}
	require.True(t, hc.add(1, []byte("mapped"), spy))
	require.True(t, hc.add(1, []byte("buffer"), nil))

	assert.True(t, spy.closed)
	assert.Equal(t, 1, hc.len())
	data, ok := hc.get(1)
	require.True(t, ok)
	assert.Equal(t, "buffer", string(data))
}

func TestHotCache_RemoveAndPurgeCloseMappings(t *testing.T) {
	hc := newHotCache(1024, 16)
	s1, s2 := &closeSpy{}, &closeSpy{}
	require.True(t, hc.add(1, []byte("x"), s1))
	require.True(t, hc.add(2, []byte("y"), s2))

	require.True(t, hc.remove(1))
	assert.True(t, s1.closed)
	assert.False(t, hc.remove(1))

	hc.purge()
	assert.True(t, s2.closed)
	assert.Zero(t, hc.len())
	assert.Zero(t, hc.bytes())
}
