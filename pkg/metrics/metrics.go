// Package metrics exposes recordbridge's Prometheus metrics: records and
// bytes moved per connector, batch latency, conversion failures and
// retries, plus process gauges sampled with gopsutil.
//
// # Basic Usage
//
//	c := metrics.NewCollector("s3", metrics.DirectionWrite)
//	timer := metrics.NewTimer("write_batch")
//	err := upload(batch)
//	c.ObserveBatch("write", timer.Stop())
//	c.RecordRecords(len(batch), err)
//
// Serve exposes everything registered with the default registry on /metrics.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Direction labels whether a connector reads or writes
type Direction string

const (
	DirectionRead  Direction = "read"
	DirectionWrite Direction = "write"
)

const (
	statusSuccess = "success"
	statusFailure = "failure"
)

var (
	// RecordsProcessed counts records read or written.
	// Labels: connector, direction (read/write), status (success/failure)
	//
	// Example:
	//	metrics.RecordsProcessed.WithLabelValues("kafka", "write", "success").Add(500)
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordbridge_records_processed_total",
			Help: "Total number of records processed",
		},
		[]string{"connector", "direction", "status"},
	)

	// BytesProcessed counts encoded bytes read or written
	BytesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordbridge_bytes_processed_total",
			Help: "Total number of encoded bytes processed",
		},
		[]string{"connector", "direction"},
	)

	// BatchLatency is the time taken to read or write one batch
	BatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "recordbridge_batch_duration_seconds",
			Help: "Time to process one batch",
			Buckets: []float64{
				0.001, // 1ms - in-memory formats
				0.01,  // 10ms - local files
				0.1,   // 100ms - object store parts
				0.5,
				1, // 1s - warehouse inserts
				5,
				30, // 30s - large uploads
			},
		},
		[]string{"connector", "operation"},
	)

	// ConversionErrors counts values that did not fit a schema
	ConversionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordbridge_conversion_errors_total",
			Help: "Records rejected while converting between type systems",
		},
		[]string{"connector", "stage"},
	)

	// Retries counts retried remote operations
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recordbridge_retries_total",
			Help: "Retried remote operations",
		},
		[]string{"connector", "operation"},
	)

	// Throughput is the records per second of a running pipeline
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recordbridge_throughput_records_per_second",
			Help: "Current throughput in records per second",
		},
		[]string{"source", "destination"},
	)
)

// Collector records the metrics of one connector. It keeps its own totals
// so connectors can report them from Metrics() without reading Prometheus
// back.
type Collector struct {
	connector string
	direction Direction
	startTime time.Time

	records atomic.Int64
	failed  atomic.Int64
	bytes   atomic.Int64
	batches atomic.Int64
	retries atomic.Int64
}

// NewCollector creates a collector for a connector.
//
// Example:
//
//	collector := metrics.NewCollector("database", metrics.DirectionRead)
//	collector.RecordRecords(len(rows), nil)
func NewCollector(connector string, direction Direction) *Collector {
	return &Collector{
		connector: connector,
		direction: direction,
		startTime: time.Now(),
	}
}

// RecordRecords counts n records as succeeded or, when err is set, failed
func (c *Collector) RecordRecords(n int, err error) {
	if n <= 0 {
		return
	}
	status := statusSuccess
	if err != nil {
		status = statusFailure
		c.failed.Add(int64(n))
	} else {
		c.records.Add(int64(n))
	}
	RecordsProcessed.WithLabelValues(c.connector, string(c.direction), status).Add(float64(n))
}

// RecordBytes counts encoded bytes
func (c *Collector) RecordBytes(n int64) {
	if n <= 0 {
		return
	}
	c.bytes.Add(n)
	BytesProcessed.WithLabelValues(c.connector, string(c.direction)).Add(float64(n))
}

// ObserveBatch records the duration of one batch operation
func (c *Collector) ObserveBatch(operation string, d time.Duration) {
	c.batches.Add(1)
	BatchLatency.WithLabelValues(c.connector, operation).Observe(d.Seconds())
}

// RecordConversionError counts a record that failed to convert
func (c *Collector) RecordConversionError(stage string) {
	ConversionErrors.WithLabelValues(c.connector, stage).Inc()
}

// RecordRetry counts a retried operation
func (c *Collector) RecordRetry(operation string) {
	c.retries.Add(1)
	Retries.WithLabelValues(c.connector, operation).Inc()
}

// Records returns the records counted as succeeded
func (c *Collector) Records() int64 { return c.records.Load() }

// Bytes returns the bytes counted
func (c *Collector) Bytes() int64 { return c.bytes.Load() }

// StartTime returns when the collector was created
func (c *Collector) StartTime() time.Time {
	return c.startTime
}

// GetAll returns the collector's totals
func (c *Collector) GetAll() map[string]interface{} {
	uptime := time.Since(c.startTime).Seconds()
	records := c.records.Load()
	all := map[string]interface{}{
		"connector":      c.connector,
		"direction":      string(c.direction),
		"records":        records,
		"records_failed": c.failed.Load(),
		"bytes":          c.bytes.Load(),
		"batches":        c.batches.Load(),
		"retries":        c.retries.Load(),
		"uptime_seconds": uptime,
	}
	if uptime > 0 {
		all["records_per_second"] = float64(records) / uptime
	}
	return all
}

// Timer measures an operation's duration from creation
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timed operation
func (t *Timer) Name() string { return t.name }

// Stop returns the time elapsed since creation. It may be called more than
// once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
