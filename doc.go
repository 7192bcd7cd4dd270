// Package blobcache implements a persistent, size-bounded key/value blob
// cache backed by one file per entry.
//
// It is designed for caching compiled program binaries (e.g. shader
// programs) across process runs: callers Set after compiling and Get
// before compiling to skip recompilation when a match exists. The cache
// never makes the caller's correctness depend on it: a corrupt entry or a
// disk failure degrades to a miss, never to an error.
//
// Writes are deferred: Set copies the entry into an in-memory hot cache
// and hands the disk write to a single background worker, so Set latency
// is decoupled from disk latency. Finish drains the worker; Close drains
// and shuts it down. Total on-disk size is bounded by LRU eviction, and
// the hot cache is bounded independently by bytes and entry count.
//
//	c, err := blobcache.New(dir)
//	if err != nil { ... }
//	defer c.Close()
//
//	c.Set(key, binary)
//
//	buf := make([]byte, 64<<10)
//	if n := c.Get(key, buf); n > 0 && n <= len(buf) {
//		use(buf[:n])
//	}
//
// The cache exclusively owns the contents of its base directory. It does
// not coordinate between processes sharing a directory, and durability
// across abrupt termination is only guaranteed for entries accepted
// before a Finish or Close.
package blobcache
