// Package base provides the BaseConnector that recordbridge connectors
// embed. It carries what every connector needs besides its vendor SDK:
// logging, retries with exponential backoff, optional rate limiting,
// record and byte counters, tracing, health and progress reporting.
//
// # Usage
//
//	type KafkaDestination struct {
//	    *base.BaseConnector
//	    producer sarama.SyncProducer
//	}
//
//	func NewKafkaDestination(cfg *config.BaseConfig) (core.Destination, error) {
//	    return &KafkaDestination{
//	        BaseConnector: base.NewBaseConnector("kafka", core.ConnectorTypeDestination, "1.0.0"),
//	    }, nil
//	}
//
//	func (d *KafkaDestination) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
//	    if err := d.BaseConnector.Initialize(ctx, cfg); err != nil {
//	        return err
//	    }
//	    return d.ExecuteWithRetry(ctx, "connect", d.connect)
//	}
package base

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/logger"
	"github.com/ajitpratap0/recordbridge/pkg/metrics"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/observability"
)

const progressInterval = 30 * time.Second

// BaseConnector provides common functionality for all connectors
type BaseConnector struct {
	name          string             // registered connector name, e.g. "kafka"
	connectorType core.ConnectorType // source or destination
	version       string
	config        *config.BaseConfig
	logger        *zap.Logger

	mu     sync.Mutex
	closed bool

	metricsCollector *metrics.Collector
	tracer           *observability.ConnectorTracer
	retryPolicy      *RetryPolicy
	rateLimiter      *rate.Limiter
	errorHandler     *ErrorHandler
	healthChecker    *HealthChecker
	progressReporter *ProgressReporter
}

// NewBaseConnector creates a new base connector with the specified name,
// type, and version. Connectors call it from their constructor.
func NewBaseConnector(name string, connectorType core.ConnectorType, version string) *BaseConnector {
	direction := metrics.DirectionRead
	if connectorType == core.ConnectorTypeDestination {
		direction = metrics.DirectionWrite
	}
	l := logger.Get().With(zap.String("connector", name), zap.String("connector_type", string(connectorType)))
	return &BaseConnector{
		name:             name,
		connectorType:    connectorType,
		version:          version,
		logger:           l,
		metricsCollector: metrics.NewCollector(name, direction),
		tracer:           observability.NewConnectorTracer(name, name),
		retryPolicy:      DefaultRetryPolicy(),
		errorHandler:     NewErrorHandler(l, false),
		healthChecker:    NewHealthChecker(l, 10*time.Second),
		progressReporter: NewProgressReporter(l, progressInterval),
	}
}

// Initialize validates the configuration and sets up retries, rate
// limiting and error handling from it. Connectors call it before
// connecting.
func (bc *BaseConnector) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if cfg == nil {
		return errors.New(errors.ErrorTypeConfig, "configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()

	bc.config = cfg
	bc.closed = false
	bc.logger = bc.logger.With(zap.String("instance", cfg.Name))
	bc.tracer = observability.NewConnectorTracer(bc.name, cfg.Name)
	bc.retryPolicy = NewRetryPolicy(cfg.Reliability)
	bc.errorHandler = NewErrorHandler(bc.logger, cfg.Reliability.FailFast)
	bc.healthChecker = NewHealthChecker(bc.logger, cfg.Timeouts.Request)
	bc.progressReporter = NewProgressReporter(bc.logger, progressInterval)

	if cfg.Reliability.IsRateLimited() {
		bc.rateLimiter = rate.NewLimiter(rate.Limit(cfg.Reliability.RateLimitPerSec), cfg.Reliability.RateLimitPerSec)
	}

	bc.logger.Info("connector initialized",
		zap.String("version", bc.version),
		zap.Int("batch_size", cfg.Performance.BatchSize),
		zap.Int("retry_attempts", cfg.Reliability.RetryAttempts))
	return nil
}

// Name returns the connector name
func (bc *BaseConnector) Name() string {
	return bc.name
}

// Type returns the connector type
func (bc *BaseConnector) Type() core.ConnectorType {
	return bc.connectorType
}

// Version returns the connector version
func (bc *BaseConnector) Version() string {
	return bc.version
}

// Config returns the configuration passed to Initialize
func (bc *BaseConnector) Config() *config.BaseConfig {
	return bc.config
}

// Logger returns the connector logger
func (bc *BaseConnector) Logger() *zap.Logger {
	return bc.logger
}

// Collector returns the connector's metrics collector
func (bc *BaseConnector) Collector() *metrics.Collector {
	return bc.metricsCollector
}

// Tracer returns the connector's span factory
func (bc *BaseConnector) Tracer() *observability.ConnectorTracer {
	return bc.tracer
}

// Progress returns the connector's progress reporter
func (bc *BaseConnector) Progress() *ProgressReporter {
	return bc.progressReporter
}

// BatchSize returns the configured batch size, or def before Initialize
func (bc *BaseConnector) BatchSize(def int) int {
	if bc.config == nil || bc.config.Performance.BatchSize <= 0 {
		return def
	}
	return bc.config.Performance.BatchSize
}

// BufferSize returns the capacity to use for record channels
func (bc *BaseConnector) BufferSize() int {
	if bc.config == nil || bc.config.Performance.BufferSize <= 0 {
		return 1000
	}
	return bc.config.Performance.BufferSize
}

// SetHealthCheck sets the probe Health runs
func (bc *BaseConnector) SetHealthCheck(fn func(ctx context.Context) error) {
	bc.healthChecker.SetCheckFunc(fn)
}

// RateLimit blocks until the rate limiter admits one operation. It returns
// immediately when no limit is configured.
func (bc *BaseConnector) RateLimit(ctx context.Context) error {
	if bc.rateLimiter == nil {
		return nil
	}
	if err := bc.rateLimiter.Wait(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "rate limiter wait")
	}
	return nil
}

// ExecuteWithRetry runs fn under the rate limit, retrying retryable errors
// with exponential backoff.
//
// Example:
//
//	err := c.ExecuteWithRetry(ctx, "insert", func(ctx context.Context) error {
//	    return inserter.Put(ctx, rows)
//	})
func (bc *BaseConnector) ExecuteWithRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	return bc.retryPolicy.Execute(ctx,
		func(ctx context.Context) error {
			if err := bc.RateLimit(ctx); err != nil {
				return err
			}
			return fn(ctx)
		},
		bc.errorHandler.ShouldRetry,
		func(attempt int, delay time.Duration, err error) {
			bc.metricsCollector.RecordRetry(operation)
			bc.logger.Warn("retrying operation",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		})
}

// HandleRecordError accounts for one record that failed at stage (e.g.
// "coerce", "encode"). It returns nil when the run should skip the record
// and continue, or the error when the connector is configured to fail fast.
func (bc *BaseConnector) HandleRecordError(ctx context.Context, stage string, err error, record *models.Record) error {
	if err == nil {
		return nil
	}
	bc.metricsCollector.RecordConversionError(stage)
	bc.metricsCollector.RecordRecords(1, err)
	return bc.errorHandler.HandleRecordError(ctx, stage, err, record)
}

// RecordBatch accounts for a batch of n records that took d
func (bc *BaseConnector) RecordBatch(operation string, n int, bytes int64, d time.Duration, err error) {
	bc.metricsCollector.ObserveBatch(operation, d)
	bc.metricsCollector.RecordRecords(n, err)
	bc.metricsCollector.RecordBytes(bytes)
	if err == nil {
		bc.progressReporter.Add(int64(n), bytes)
	}
}

// Health returns an error when the connector is closed or its probe fails
func (bc *BaseConnector) Health(ctx context.Context) error {
	bc.mu.Lock()
	closed, initialized := bc.closed, bc.config != nil
	bc.mu.Unlock()

	if closed {
		return errors.New(errors.ErrorTypeConnection, "connector is closed")
	}
	if !initialized {
		return errors.New(errors.ErrorTypeConnection, "connector is not initialized")
	}
	if err := bc.healthChecker.Check(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "health check failed")
	}
	return nil
}

// Metrics returns current metrics
func (bc *BaseConnector) Metrics() map[string]interface{} {
	m := bc.metricsCollector.GetAll()
	m["name"] = bc.name
	m["type"] = string(bc.connectorType)
	m["version"] = bc.version

	for k, v := range bc.errorHandler.GetErrorStats() {
		m[k] = v
	}

	if bc.rateLimiter != nil {
		m["rate_limit"] = float64(bc.rateLimiter.Limit())
		m["rate_limit_burst"] = bc.rateLimiter.Burst()
	}

	status := bc.healthChecker.GetStatus()
	m["health_status"] = status.Status
	m["health_check_count"] = bc.healthChecker.CheckCount()
	m["health_failure_count"] = bc.healthChecker.FailureCount()
	return m
}

// IsClosed reports whether Close has been called
func (bc *BaseConnector) IsClosed() bool {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return bc.closed
}

// Close marks the connector closed and logs a summary. Connectors release
// their own resources first and then call it; calling it again is a no-op.
func (bc *BaseConnector) Close(ctx context.Context) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.closed {
		return nil
	}
	bc.closed = true
	bc.progressReporter.Finish()
	bc.logger.Info("connector closed",
		zap.Int64("records", bc.metricsCollector.Records()),
		zap.Int64("bytes", bc.metricsCollector.Bytes()))
	return nil
}
