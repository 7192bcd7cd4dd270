package blobcache

import "sync/atomic"

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus. All methods may be called concurrently.
type MetricsCollector interface {
	// RecordSet is called after each Set. accepted is false when the
	// entry was rejected (oversize key or value, closed cache).
	RecordSet(valueBytes int64, accepted bool)

	// RecordGet is called after each Get. A size-probe call that reports
	// the required buffer size counts as a hit.
	RecordGet(hit bool)

	// RecordEviction is called for every entry removed by LRU eviction.
	RecordEviction(fileBytes int64)

	// RecordWrite is called after each completed disk write.
	// err is nil if the write succeeded.
	RecordWrite(fileBytes int64, err error)
}

type noopMetrics struct{}

func (noopMetrics) RecordSet(int64, bool)    {}
func (noopMetrics) RecordGet(bool)           {}
func (noopMetrics) RecordEviction(int64)     {}
func (noopMetrics) RecordWrite(int64, error) {}

// Metrics is a basic atomic MetricsCollector suitable for production use.
type Metrics struct {
	sets         atomic.Int64
	rejectedSets atomic.Int64
	hits         atomic.Int64
	misses       atomic.Int64
	evictions    atomic.Int64
	writeErrors  atomic.Int64
	bytesWritten atomic.Int64
	bytesEvicted atomic.Int64
}

func (m *Metrics) RecordSet(valueBytes int64, accepted bool) {
	if accepted {
		m.sets.Add(1)
	} else {
		m.rejectedSets.Add(1)
	}
}

func (m *Metrics) RecordGet(hit bool) {
	if hit {
		m.hits.Add(1)
	} else {
		m.misses.Add(1)
	}
}

func (m *Metrics) RecordEviction(fileBytes int64) {
	m.evictions.Add(1)
	m.bytesEvicted.Add(fileBytes)
}

func (m *Metrics) RecordWrite(fileBytes int64, err error) {
	if err != nil {
		m.writeErrors.Add(1)
		return
	}
	m.bytesWritten.Add(fileBytes)
}

func (m *Metrics) Sets() int64         { return m.sets.Load() }
func (m *Metrics) RejectedSets() int64 { return m.rejectedSets.Load() }
func (m *Metrics) Hits() int64         { return m.hits.Load() }
func (m *Metrics) Misses() int64       { return m.misses.Load() }
func (m *Metrics) Evictions() int64    { return m.evictions.Load() }
func (m *Metrics) WriteErrors() int64  { return m.writeErrors.Load() }
func (m *Metrics) BytesWritten() int64 { return m.bytesWritten.Load() }
func (m *Metrics) BytesEvicted() int64 { return m.bytesEvicted.Load() }
