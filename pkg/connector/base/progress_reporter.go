package base

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProgressReporter logs the records and bytes a connector has moved, at most
// once per interval. An interval of zero only logs the final summary.
type ProgressReporter struct {
	logger   *zap.Logger
	interval time.Duration

	mu         sync.Mutex
	started    time.Time
	lastLog    time.Time
	records    int64
	bytes      int64
	lastRecords int64
}

// ProgressSnapshot is the state of a ProgressReporter at one instant
type ProgressSnapshot struct {
	Records       int64
	Bytes         int64
	Elapsed       time.Duration
	RecordsPerSec float64
}

func NewProgressReporter(logger *zap.Logger, interval time.Duration) *ProgressReporter {
	now := time.Now()
	return &ProgressReporter{logger: logger, interval: interval, started: now, lastLog: now}
}

// Add counts one finished batch
func (pr *ProgressReporter) Add(records, bytes int64) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	pr.records += records
	pr.bytes += bytes
	if pr.interval <= 0 {
		return
	}
	now := time.Now()
	window := now.Sub(pr.lastLog)
	if window < pr.interval {
		return
	}
	s := pr.snapshot(now)
	pr.logger.Info("progress",
		zap.Int64("records", s.Records),
		zap.Int64("bytes", s.Bytes),
		zap.Float64("records_per_sec", s.RecordsPerSec),
		zap.Float64("window_records_per_sec", float64(s.Records-pr.lastRecords)/window.Seconds()))
	pr.lastLog = now
	pr.lastRecords = s.Records
}

func (pr *ProgressReporter) Snapshot() ProgressSnapshot {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.snapshot(time.Now())
}

// Finish logs the totals of the run
func (pr *ProgressReporter) Finish() {
	s := pr.Snapshot()
	pr.logger.Info("finished",
		zap.Int64("records", s.Records),
		zap.Int64("bytes", s.Bytes),
		zap.Duration("elapsed", s.Elapsed),
		zap.Float64("records_per_sec", s.RecordsPerSec))
}

func (pr *ProgressReporter) snapshot(now time.Time) ProgressSnapshot {
	s := ProgressSnapshot{Records: pr.records, Bytes: pr.bytes, Elapsed: now.Sub(pr.started)}
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.RecordsPerSec = float64(pr.records) / secs
	}
	return s
}
