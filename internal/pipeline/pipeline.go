// Package pipeline moves records from a source connector to a destination
// connector.
//
// # Overview
//
// A run discovers the source schema, creates it on the destination and then
// streams records through three stages:
//   - Transform workers apply optional per-record transforms
//   - A batcher groups records into batches of BatchSize, emitting partial
//     batches after FlushInterval
//   - The destination consumes the batches
//
// The first error of any stage stops the run and is returned. Records the
// connectors skip are counted, not returned.
//
// # Basic Usage
//
//	p := pipeline.New(source, destination, &pipeline.Config{
//	    BatchSize:     5000,
//	    FlushInterval: 5 * time.Second,
//	}, logger)
//	if err := p.Initialize(ctx, sourceCfg, destinationCfg); err != nil {
//	    return err
//	}
//	defer p.Close(ctx)
//	result, err := p.Run(ctx)
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/connector/registry"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/metrics"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/observability"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// Config contains pipeline parameters
type Config struct {
	Name          string
	BatchSize     int           // Records per destination batch
	FlushInterval time.Duration // Emits a partial batch after this long
	// WorkerCount runs transforms in parallel. More than one worker does
	// not keep record order.
	WorkerCount int
	// Limit stops reading after this many records (0 = no limit)
	Limit int64
	// ProgressInterval logs throughput while running (0 = never)
	ProgressInterval time.Duration
}

// DefaultConfig returns the configuration used when none is given
func DefaultConfig() *Config {
	return &Config{
		Name:             "pipeline",
		BatchSize:        1000,
		FlushInterval:    10 * time.Second,
		WorkerCount:      1,
		ProgressInterval: 10 * time.Second,
	}
}

// Result summarizes a run
type Result struct {
	Schema *schema.Schema
	// RecordsRead left the source
	RecordsRead int64
	// RecordsWritten were accepted by the destination
	RecordsWritten int64
	// RecordsFiltered were dropped by a transform
	RecordsFiltered int64
	// RecordsFailed were skipped by a connector or failed a transform
	RecordsFailed int64
	Duration      time.Duration
}

// Pipeline connects one source to one destination
type Pipeline struct {
	source      core.Source
	destination core.Destination
	transforms  []Transform
	cfg         Config
	logger      *zap.Logger
	tracker     *metrics.ThroughputTracker

	read      atomic.Int64
	forwarded atomic.Int64
	filtered  atomic.Int64
	failed    atomic.Int64
	limited   atomic.Bool

	wg sync.WaitGroup
}

// New creates a pipeline. Zero fields of cfg take the DefaultConfig values.
func New(source core.Source, destination core.Destination, cfg *Config, logger *zap.Logger) *Pipeline {
	def := DefaultConfig()
	if cfg == nil {
		cfg = def
	}
	c := *cfg
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = def.WorkerCount
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		source:      source,
		destination: destination,
		cfg:         c,
		logger:      logger.With(zap.String("pipeline", c.Name)),
		tracker:     metrics.NewThroughputTracker(connectorName(source), connectorName(destination)),
	}
}

func connectorName(c any) string {
	if n, ok := c.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "unknown"
}

// FromConfig creates the connectors a pipeline file names. The connector
// packages must be registered by importing them.
func FromConfig(pc *config.PipelineConfig, logger *zap.Logger) (*Pipeline, error) {
	src, err := registry.CreateSource(pc.Source.Type, &pc.Source)
	if err != nil {
		return nil, err
	}
	dst, err := registry.CreateDestination(pc.Destination.Type, &pc.Destination)
	if err != nil {
		return nil, err
	}
	return New(src, dst, &Config{
		Name:             pc.Name,
		BatchSize:        pc.BatchSize,
		FlushInterval:    pc.FlushInterval,
		ProgressInterval: DefaultConfig().ProgressInterval,
	}, logger), nil
}

// SetLimit stops runs after n records (0 = no limit)
func (p *Pipeline) SetLimit(n int64) {
	p.cfg.Limit = n
}

// AddTransform appends a transform. Transforms run in the order added.
func (p *Pipeline) AddTransform(t Transform) {
	p.transforms = append(p.transforms, t)
}

// Initialize initializes both connectors. The source is closed again when
// the destination fails.
func (p *Pipeline) Initialize(ctx context.Context, sourceCfg, destinationCfg *config.BaseConfig) error {
	if err := p.source.Initialize(ctx, sourceCfg); err != nil {
		return stageError("source initialize", err)
	}
	if err := p.destination.Initialize(ctx, destinationCfg); err != nil {
		_ = p.source.Close(ctx)
		return stageError("destination initialize", err)
	}
	return nil
}

// Run streams every source record to the destination and blocks until the
// source is exhausted or a stage fails
func (p *Pipeline) Run(ctx context.Context) (result *Result, err error) {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "pipeline.run",
		trace.WithAttributes(
			attribute.String("pipeline.name", p.cfg.Name),
			attribute.Int("pipeline.batch_size", p.cfg.BatchSize),
		))
	defer func() { observability.End(span, err) }()

	p.logger.Info("starting pipeline",
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Duration("flush_interval", p.cfg.FlushInterval),
		zap.Int("worker_count", p.cfg.WorkerCount),
		zap.Int("transforms", len(p.transforms)))

	s, err := p.source.Discover(ctx)
	if err != nil {
		return nil, stageError("discover", err)
	}
	if err := p.destination.CreateSchema(ctx, s); err != nil {
		return nil, stageError("create schema", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		p.wg.Wait()
	}()

	// the source gets its own context so a limit can stop it early
	sourceCtx, stopSource := context.WithCancel(runCtx)
	defer stopSource()

	stream, err := p.source.Read(sourceCtx)
	if err != nil {
		return nil, stageError("read", err)
	}

	done := make(chan struct{})
	p.reportProgress(done)
	records := p.transform(runCtx, stream, stopSource)
	batches := core.BatchFromStream(runCtx, records, p.cfg.BatchSize, p.cfg.FlushInterval)

	err = p.destination.WriteBatch(runCtx, batches)
	close(done)
	switch {
	case ctx.Err() != nil:
		err = errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "pipeline cancelled")
	case err != nil:
		err = stageError("write", err)
	}

	result = p.result(s, time.Since(start))
	p.logger.Info("pipeline completed",
		zap.Int64("records_read", result.RecordsRead),
		zap.Int64("records_written", result.RecordsWritten),
		zap.Int64("records_filtered", result.RecordsFiltered),
		zap.Int64("records_failed", result.RecordsFailed),
		zap.Duration("duration", result.Duration),
		zap.Float64("throughput_rps", float64(result.RecordsWritten)/result.Duration.Seconds()),
		zap.Error(err))
	span.SetAttributes(
		attribute.Int64("pipeline.records_written", result.RecordsWritten),
		attribute.Int64("pipeline.records_failed", result.RecordsFailed))
	return result, err
}

// stageError keeps the type of err so callers can still tell a schema
// problem from a connection problem
func stageError(stage string, err error) error {
	return errors.Wrapf(err, errors.TypeOf(err), "%s failed", stage)
}

// transform runs the transform workers between the source and the batcher
func (p *Pipeline) transform(ctx context.Context, in *core.RecordStream, stopSource context.CancelFunc) *core.RecordStream {
	out := make(chan *models.Record, p.cfg.BatchSize)
	errs := make(chan error, 1)

	var workers sync.WaitGroup
	for i := 0; i < p.cfg.WorkerCount; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			p.transformWorker(ctx, id, in.Records, out, stopSource)
		}(i)
	}
	if in.Errors != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			p.forwardErrors(ctx, in.Errors, errs)
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		workers.Wait()
		close(out)
		close(errs)
	}()
	return &core.RecordStream{Records: out, Errors: errs}
}

func (p *Pipeline) forwardErrors(ctx context.Context, in <-chan error, out chan<- error) {
	for {
		select {
		case err, ok := <-in:
			if !ok {
				return
			}
			if p.limited.Load() {
				// the source was stopped on purpose
				continue
			}
			select {
			case out <- err:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) transformWorker(ctx context.Context, id int, in <-chan *models.Record, out chan<- *models.Record, stopSource context.CancelFunc) {
	logger := p.logger.With(zap.Int("worker", id))
	for {
		select {
		case record, ok := <-in:
			if !ok {
				return
			}
			if p.limited.Load() {
				continue
			}
			p.read.Add(1)

			transformed, err := p.apply(ctx, record)
			if err != nil {
				p.failed.Add(1)
				logger.Warn("transform failed", zap.Error(err), zap.String("source", record.Metadata.Source))
				continue
			}
			if transformed == nil {
				p.filtered.Add(1)
				continue
			}

			n := p.forwarded.Add(1)
			if p.cfg.Limit > 0 && n > p.cfg.Limit {
				p.forwarded.Add(-1)
				p.stopAtLimit(stopSource)
				continue
			}
			p.tracker.Increment(1)

			select {
			case out <- transformed:
			case <-ctx.Done():
				return
			}
			if p.cfg.Limit > 0 && n == p.cfg.Limit {
				p.stopAtLimit(stopSource)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) stopAtLimit(stopSource context.CancelFunc) {
	if p.limited.CompareAndSwap(false, true) {
		p.logger.Info("record limit reached", zap.Int64("limit", p.cfg.Limit))
		stopSource()
	}
}

func (p *Pipeline) apply(ctx context.Context, record *models.Record) (*models.Record, error) {
	current := record
	for i, t := range p.transforms {
		next, err := t(ctx, current)
		if err != nil {
			return nil, errors.Wrapf(err, errors.TypeOf(err), "transform %d", i)
		}
		if next == nil {
			return nil, nil
		}
		current = next
	}
	return current, nil
}

func (p *Pipeline) reportProgress(done <-chan struct{}) {
	if p.cfg.ProgressInterval <= 0 {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.logger.Info("pipeline progress",
					zap.Int64("records_read", p.read.Load()),
					zap.Float64("records_per_second", p.tracker.GetAndReset()))
			case <-done:
				return
			}
		}
	}()
}

func (p *Pipeline) result(s *schema.Schema, d time.Duration) *Result {
	r := &Result{
		Schema:          s,
		RecordsRead:     p.read.Load(),
		RecordsWritten:  p.forwarded.Load(),
		RecordsFiltered: p.filtered.Load(),
		RecordsFailed:   p.failed.Load(),
		Duration:        d,
	}
	dm := p.destination.Metrics()
	if written, ok := dm["records"].(int64); ok {
		r.RecordsWritten = written
	}
	r.RecordsFailed += skipped(p.source.Metrics()) + skipped(dm)
	return r
}

func skipped(m map[string]interface{}) int64 {
	n, _ := m["skipped_records"].(int64)
	return n
}

// Metrics returns the counters of the current or last run
func (p *Pipeline) Metrics() map[string]interface{} {
	return map[string]interface{}{
		"records_read":      p.read.Load(),
		"records_forwarded": p.forwarded.Load(),
		"records_filtered":  p.filtered.Load(),
		"records_failed":    p.failed.Load(),
		"batch_size":        p.cfg.BatchSize,
		"worker_count":      p.cfg.WorkerCount,
		"flush_interval_ms": p.cfg.FlushInterval.Milliseconds(),
		"transform_count":   len(p.transforms),
	}
}

// Close closes both connectors, destination first so buffered records are
// flushed
func (p *Pipeline) Close(ctx context.Context) error {
	var result *multierror.Error
	if err := p.destination.Close(ctx); err != nil {
		result = multierror.Append(result, stageError("destination close", err))
	}
	if err := p.source.Close(ctx); err != nil {
		result = multierror.Append(result, stageError("source close", err))
	}
	return result.ErrorOrNil()
}

// Execute runs a pipeline file end to end: it creates and initializes the
// connectors, runs within the file's timeout and closes both ends
func Execute(ctx context.Context, pc *config.PipelineConfig, logger *zap.Logger, transforms ...Transform) (*Result, error) {
	p, err := FromConfig(pc, logger)
	if err != nil {
		return nil, err
	}
	for _, t := range transforms {
		p.AddTransform(t)
	}
	return p.Execute(ctx, pc)
}

// Execute initializes the connectors with the settings of pc, runs within
// its timeout and closes both ends
func (p *Pipeline) Execute(ctx context.Context, pc *config.PipelineConfig) (*Result, error) {
	if pc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pc.Timeout)
		defer cancel()
	}
	if err := p.Initialize(ctx, &pc.Source, &pc.Destination); err != nil {
		return nil, err
	}
	result, runErr := p.Run(ctx)
	closeErr := p.Close(context.WithoutCancel(ctx))
	if runErr != nil {
		return result, runErr
	}
	return result, closeErr
}
