package metrics

import (
	"sync"
	"time"
)

// ThroughputTracker tracks records per second over windows between
// GetAndReset calls. Safe for concurrent use.
type ThroughputTracker struct {
	mu          sync.Mutex
	count       int64
	lastReset   time.Time
	source      string
	destination string
}

// NewThroughputTracker creates a tracker for a pipeline. source and
// destination are the Throughput gauge labels.
//
// Example:
//
//	tracker := metrics.NewThroughputTracker("database", "s3")
//	tracker.Increment(int64(len(batch)))
//	rps := tracker.GetAndReset()
func NewThroughputTracker(source, destination string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset:   time.Now(),
		source:      source,
		destination: destination,
	}
}

// Increment adds n to the record count
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset returns the throughput since the last reset, sets the
// Throughput gauge and starts a new window
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}
	throughput := float64(t.count) / elapsed

	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.source, t.destination).Set(throughput)
	return throughput
}
