// Package file implements the file, s3 and gcs destination connectors.
// Records are written as rolling part files in any registered format.
package file

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/recordbridge/pkg/compression"
	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/base"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/connector/shared/objects"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/formats"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
	"github.com/ajitpratap0/recordbridge/pkg/storage"

	_ "github.com/ajitpratap0/recordbridge/pkg/formats/all"
)

const (
	defaultFormat     = formats.Parquet
	defaultFilePrefix = "part"
)

// Destination writes records to part files in a store
type Destination struct {
	*base.BaseConnector

	scheme    storage.Scheme
	settings  *objects.Settings
	store     storage.Store
	format    formats.Format
	extension string
	runID     string

	mu     sync.Mutex
	schema *schema.Schema
	part   *part
	seq    int
	files  []string
}

// part is the file being written
type part struct {
	key    string
	body   io.WriteCloser
	writer formats.Writer
}

// NewDestination creates a destination for the given storage scheme
func NewDestination(name string, scheme storage.Scheme) *Destination {
	return &Destination{
		BaseConnector: base.NewBaseConnector(name, core.ConnectorTypeDestination, "1.0.0"),
		scheme:        scheme,
	}
}

// Initialize opens the store and checks it is reachable
func (d *Destination) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := d.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	settings, err := objects.Decode(cfg, d.scheme)
	if err != nil {
		return err
	}
	if settings.FilePrefix == "" {
		settings.FilePrefix = defaultFilePrefix
	}
	d.settings = settings

	d.format = defaultFormat
	if settings.Format != "" {
		d.format = formats.Format(settings.Format)
	}
	info, ok := formats.Lookup(d.format)
	if !ok {
		return errors.Newf(errors.ErrorTypeConfig, "format %q is not registered", d.format)
	}
	d.extension = info.Extension
	if objects.IsStreamCompressed(d.format) && settings.Compression != "" {
		alg, err := compression.Parse(settings.Compression)
		if err != nil {
			return err
		}
		d.extension += alg.Extension()
	}
	d.runID = time.Now().UTC().Format("20060102T150405")

	if s, err := settings.LoadSchema(); err != nil {
		return err
	} else if s != nil {
		d.schema = s
	}

	err = d.ExecuteWithRetry(ctx, "open", func(ctx context.Context) error {
		store, err := settings.OpenStore(ctx)
		if err != nil {
			return err
		}
		if err := store.Ping(ctx); err != nil {
			_ = store.Close()
			return err
		}
		d.store = store
		return nil
	})
	if err != nil {
		return err
	}
	d.SetHealthCheck(d.store.Ping)

	d.Logger().Info("destination ready",
		zap.String("location", d.store.URL("")),
		zap.String("format", string(d.format)))
	return nil
}

// CreateSchema sets the schema of the files written. A schema_file setting
// takes precedence.
func (d *Destination) CreateSchema(_ context.Context, s *schema.Schema) error {
	if s == nil {
		return errors.New(errors.ErrorTypeSchema, "schema is required")
	}
	if err := s.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.part != nil {
		return errors.New(errors.ErrorTypeConflict, "schema cannot change while a file is open")
	}
	if d.settings != nil && d.settings.SchemaFile != "" && d.schema != nil {
		return nil
	}
	d.schema = s
	return nil
}

// Files returns the keys of the part files completed so far
func (d *Destination) Files() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.files...)
}

// Write consumes a record stream until it is closed. An error on the
// stream completes the open part file and is returned.
func (d *Destination) Write(ctx context.Context, stream *core.RecordStream) error {
	records, errs := stream.Records, stream.Errors
	for records != nil || errs != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-records:
			if !ok {
				records = nil
				continue
			}
			if err := d.writeRecords(ctx, []*models.Record{rec}); err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if cerr := d.finishPart(); cerr != nil {
				d.Logger().Error("failed to complete part file", zap.Error(cerr))
			}
			return err
		}
	}
	return d.finishPart()
}

// WriteBatch consumes a batch stream until it is closed, flushing after
// every batch
func (d *Destination) WriteBatch(ctx context.Context, stream *core.BatchStream) error {
	batches, errs := stream.Batches, stream.Errors
	for batches != nil || errs != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-batches:
			if !ok {
				batches = nil
				continue
			}
			err := d.Tracer().TraceBatch(ctx, len(batch), "write_batch", func(ctx context.Context) error {
				return d.writeRecords(ctx, batch)
			})
			if err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if cerr := d.finishPart(); cerr != nil {
				d.Logger().Error("failed to complete part file", zap.Error(cerr))
			}
			return err
		}
	}
	return d.finishPart()
}

// writeRecords writes records to the open part, rolling to a new part when
// the configured limits are reached
func (d *Destination) writeRecords(ctx context.Context, records []*models.Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.schema == nil {
		return errors.New(errors.ErrorTypeSchema, "CreateSchema must be called before writing")
	}

	start := time.Now()
	written := 0
	var before int64
	if d.part != nil {
		before = d.part.writer.BytesWritten()
	}

	for _, rec := range records {
		if d.part == nil {
			if err := d.openPartLocked(ctx); err != nil {
				return err
			}
			before = 0
		}
		if err := d.part.writer.Write(rec); err != nil {
			if !errors.IsType(err, errors.ErrorTypeConversion) {
				return err
			}
			if err := d.HandleRecordError(ctx, "encode", err, rec); err != nil {
				return err
			}
			continue
		}
		written++

		if d.shouldRollLocked() {
			n := d.part.writer.BytesWritten() - before
			if err := d.finishPartLocked(); err != nil {
				return err
			}
			d.RecordBatch("write", written, n, time.Since(start), nil)
			written, before, start = 0, 0, time.Now()
		}
	}

	if d.part == nil {
		return nil
	}
	if err := d.part.writer.Flush(); err != nil {
		return err
	}
	d.RecordBatch("write", written, d.part.writer.BytesWritten()-before, time.Since(start), nil)
	return nil
}

func (d *Destination) shouldRollLocked() bool {
	w := d.part.writer
	if d.settings.MaxRecordsPerFile > 0 && w.RecordsWritten() >= d.settings.MaxRecordsPerFile {
		return true
	}
	return d.settings.MaxBytesPerFile > 0 && w.BytesWritten() >= d.settings.MaxBytesPerFile
}

func (d *Destination) openPartLocked(ctx context.Context) error {
	key := fmt.Sprintf("%s-%s-%05d%s", d.settings.FilePrefix, d.runID, d.seq, d.extension)
	d.seq++

	var body io.WriteCloser
	err := d.ExecuteWithRetry(ctx, "create", func(ctx context.Context) error {
		var err error
		body, err = d.store.Create(ctx, key)
		return err
	})
	if err != nil {
		return err
	}

	w, err := formats.NewWriter(body, d.settings.WriterConfig(d.format, d.schema, d.BatchSize(0)))
	if err != nil {
		_ = body.Close()
		return err
	}
	d.part = &part{key: key, body: body, writer: w}
	return nil
}

func (d *Destination) finishPart() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finishPartLocked()
}

// finishPartLocked finalizes the open part so it becomes visible
func (d *Destination) finishPartLocked() error {
	p := d.part
	if p == nil {
		return nil
	}
	d.part = nil

	werr := p.writer.Close()
	berr := p.body.Close()
	if werr != nil {
		return errors.Wrapf(werr, errors.ErrorTypeFile, "failed to finish %s", d.store.URL(p.key))
	}
	if berr != nil {
		return berr
	}

	d.files = append(d.files, p.key)
	d.Logger().Info("part file written",
		zap.String("file", d.store.URL(p.key)),
		zap.Int64("records", p.writer.RecordsWritten()),
		zap.Int64("bytes", p.writer.BytesWritten()))
	return nil
}

// Metrics adds the files written to the base metrics
func (d *Destination) Metrics() map[string]interface{} {
	m := d.BaseConnector.Metrics()
	m["files_written"] = len(d.Files())
	return m
}

// Close completes the open part file and releases the store
func (d *Destination) Close(ctx context.Context) error {
	if d.IsClosed() {
		return nil
	}
	err := d.finishPart()
	if d.store != nil {
		if cerr := d.store.Close(); err == nil {
			err = cerr
		}
	}
	_ = d.BaseConnector.Close(ctx)
	return err
}
