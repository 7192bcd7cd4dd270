package blobcache

import (
	"container/list"
	"io"
)

// hotEntry keeps the complete encoded file image of a recently touched
// entry in memory. Images coming from Set are heap buffers; images loaded
// on a disk hit are memory-mapped, and the mapping is closed when the
// entry leaves the hot cache.
type hotEntry struct {
	hash    uint32
	data    []byte
	mapping io.Closer // non-nil when data is memory-mapped
}

// hotCache is a bounded in-memory table of open, buffered entries.
// Admission evicts oldest-inserted entries first; hot entries carry no
// access-time field of their own. Not safe for concurrent use, callers
// hold the cache mutex.
type hotCache struct {
	limit      int64
	entryLimit int
	size       int64
	entries    map[uint32]*list.Element
	order      *list.List // insertion order, oldest at front
}

func newHotCache(limit int64, entryLimit int) *hotCache {
	return &hotCache{
		limit:      limit,
		entryLimit: entryLimit,
		entries:    make(map[uint32]*list.Element),
		order:      list.New(),
	}
}

// get returns the buffered file image for hash.
func (hc *hotCache) get(hash uint32) ([]byte, bool) {
	el, ok := hc.entries[hash]
	if !ok {
		return nil, false
	}
	return el.Value.(*hotEntry).data, true
}

// add admits an entry, evicting oldest-inserted entries until both the
// byte and entry-count budgets hold. It reports false when the entry
// alone exceeds the budget; rejection only means a later read falls back
// to disk. On success the hot cache takes ownership of mapping.
func (hc *hotCache) add(hash uint32, data []byte, mapping io.Closer) bool {
	size := int64(len(data))
	if size > hc.limit || hc.entryLimit <= 0 {
		return false
	}
	hc.remove(hash)
	for (hc.size+size > hc.limit || hc.order.Len() >= hc.entryLimit) && hc.order.Len() > 0 {
		hc.remove(hc.order.Front().Value.(*hotEntry).hash)
	}
	el := hc.order.PushBack(&hotEntry{hash: hash, data: data, mapping: mapping})
	hc.entries[hash] = el
	hc.size += size
	return true
}

// remove releases the entry for hash: the mapping (if any) is closed, the
// buffer is dropped and the byte budget is returned. No-op if absent.
func (hc *hotCache) remove(hash uint32) bool {
	el, ok := hc.entries[hash]
	if !ok {
		return false
	}
	ent := el.Value.(*hotEntry)
	if ent.mapping != nil {
		_ = ent.mapping.Close()
	}
	hc.order.Remove(el)
	delete(hc.entries, hash)
	hc.size -= int64(len(ent.data))
	return true
}

// purge releases every entry.
func (hc *hotCache) purge() {
	for hash := range hc.entries {
		hc.remove(hash)
	}
}

func (hc *hotCache) len() int { return hc.order.Len() }

func (hc *hotCache) bytes() int64 { return hc.size }
