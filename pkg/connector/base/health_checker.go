package base

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
)

// unhealthyAfter consecutive probe failures turn degraded into unhealthy
const unhealthyAfter = 3

// HealthChecker runs a connector's probe (a database ping, a bucket
// lookup, a metadata request to the brokers) and keeps the last outcome.
type HealthChecker struct {
	logger  *zap.Logger
	timeout time.Duration

	mu       sync.Mutex
	probe    func(ctx context.Context) error
	last     core.HealthStatus
	checks   int64
	failures int64
	streak   int
}

func NewHealthChecker(logger *zap.Logger, timeout time.Duration) *HealthChecker {
	return &HealthChecker{
		logger:  logger,
		timeout: timeout,
		last:    core.HealthStatus{Status: "healthy", Timestamp: time.Now()},
	}
}

// SetCheckFunc replaces the probe; nil always passes
func (hc *HealthChecker) SetCheckFunc(probe func(ctx context.Context) error) {
	hc.mu.Lock()
	hc.probe = probe
	hc.mu.Unlock()
}

// Check runs the probe, bounded by the checker's timeout
func (hc *HealthChecker) Check(ctx context.Context) error {
	hc.mu.Lock()
	probe := hc.probe
	hc.mu.Unlock()

	var err error
	if probe != nil {
		if hc.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, hc.timeout)
			defer cancel()
		}
		err = probe(ctx)
	}

	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks++
	if err == nil {
		hc.streak = 0
		hc.last = core.HealthStatus{Status: "healthy", Timestamp: time.Now()}
		return nil
	}

	hc.failures++
	hc.streak++
	status := "degraded"
	if hc.streak >= unhealthyAfter {
		status = "unhealthy"
	}
	hc.last = core.HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Error:     err.Error(),
		Details:   map[string]interface{}{"consecutive_failures": hc.streak},
	}
	hc.logger.Warn("health check failed", zap.String("status", status), zap.Int("consecutive_failures", hc.streak), zap.Error(err))
	return err
}

// GetStatus returns the outcome of the last check. Details are rebuilt on
// every check, so the map is never shared with a later status.
func (hc *HealthChecker) GetStatus() core.HealthStatus {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.last
}

func (hc *HealthChecker) CheckCount() int64 {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.checks
}

func (hc *HealthChecker) FailureCount() int64 {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	return hc.failures
}
