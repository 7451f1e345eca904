package base

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/models"
)

// permanent types describe the data or the configuration; retrying them
// reproduces the same failure
var permanent = []errors.ErrorType{
	errors.ErrorTypeConfig,
	errors.ErrorTypeValidation,
	errors.ErrorTypeData,
	errors.ErrorTypeSchema,
	errors.ErrorTypeConversion,
	errors.ErrorTypeCapability,
	errors.ErrorTypeNotFound,
}

// Driver and SDK errors arrive untyped. Permanent markers win over transient
// ones: "403 forbidden ... try again" is still a 403.
var (
	permanentMarkers = []string{
		"unauthorized", "forbidden", "permission denied", "access denied",
		"invalid credentials", "not found", "bad request", "unsupported",
		"error 400", "error 401", "error 403", "error 404",
	}
	transientMarkers = []string{
		"timeout", "connection refused", "connection reset", "broken pipe",
		"temporary failure", "service unavailable", "too many requests",
		"rate limit", "throttl", "deadlock", "leader not available",
		"not enough replicas", "error 429", "error 500", "error 502", "error 503",
	}
)

// ErrorHandler decides whether an operation is worth retrying and what a
// record that failed does to the run. Without failFast failed records are
// logged with the stage and field path, counted, and dropped.
type ErrorHandler struct {
	logger   *zap.Logger
	failFast bool

	mu      sync.Mutex
	total   int64
	skipped int64
	byStage map[string]int64
	byType  map[string]int64
}

// NewErrorHandler creates a handler that skips failed records unless
// failFast is set
func NewErrorHandler(logger *zap.Logger, failFast bool) *ErrorHandler {
	return &ErrorHandler{
		logger:   logger,
		failFast: failFast,
		byStage:  make(map[string]int64),
		byType:   make(map[string]int64),
	}
}

// HandleRecordError accounts for record failing at stage. It returns nil
// when the run continues without the record.
func (eh *ErrorHandler) HandleRecordError(ctx context.Context, stage string, err error, record *models.Record) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		// a cancelled run is not a bad record
		return err
	}

	kind := string(errors.TypeOf(err))
	eh.mu.Lock()
	eh.total++
	eh.byStage[stage]++
	eh.byType[kind]++
	if !eh.failFast {
		eh.skipped++
	}
	eh.mu.Unlock()

	fields := []zap.Field{
		zap.String("stage", stage),
		zap.String("error_type", kind),
		zap.Error(err),
	}
	if path := errors.PathOf(err); path != "" {
		fields = append(fields, zap.String("field", path))
	}
	if record != nil {
		fields = append(fields, zap.String("source", record.Metadata.Source), zap.Int64("offset", record.Metadata.Offset))
	}

	if eh.failFast {
		eh.logger.Error("record failed", fields...)
		return err
	}
	eh.logger.Warn("record skipped", fields...)
	return nil
}

// ShouldRetry reports whether err is transient
func (eh *ErrorHandler) ShouldRetry(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	for _, t := range permanent {
		if errors.IsType(err, t) {
			return false
		}
	}
	if errors.IsRetryable(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	if containsAny(msg, permanentMarkers) {
		return false
	}
	return containsAny(msg, transientMarkers)
}

// GetErrorStats returns the counters merged into connector metrics
func (eh *ErrorHandler) GetErrorStats() map[string]interface{} {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	return map[string]interface{}{
		"total_errors":    eh.total,
		"skipped_records": eh.skipped,
		"errors_by_stage": copyCounts(eh.byStage),
		"errors_by_type":  copyCounts(eh.byType),
	}
}

// Skipped returns the number of dropped records
func (eh *ErrorHandler) Skipped() int64 {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	return eh.skipped
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
