// Package file implements the file, s3 and gcs source connectors. They
// list objects under a location, pick each object's format from its
// extension (or the format setting) and stream its records.
package file

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/base"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/connector/shared/objects"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/formats"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/observability"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
	"github.com/ajitpratap0/recordbridge/pkg/storage"

	// Register every format this source can read
	_ "github.com/ajitpratap0/recordbridge/pkg/formats/all"
)

// Source reads records from the objects of a store
type Source struct {
	*base.BaseConnector

	scheme   storage.Scheme
	settings *objects.Settings
	store    storage.Store
	objects  []storage.ObjectInfo
	schema   *schema.Schema
}

// NewSource creates a source for the given storage scheme
func NewSource(name string, scheme storage.Scheme) *Source {
	return &Source{
		BaseConnector: base.NewBaseConnector(name, core.ConnectorTypeSource, "1.0.0"),
		scheme:        scheme,
	}
}

// Initialize opens the store and lists the objects to read
func (s *Source) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := s.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}

	settings, err := objects.Decode(cfg, s.scheme)
	if err != nil {
		return err
	}
	if settings.Scheme == storage.SchemeLocal && settings.Prefix != "" {
		// A local url may name a single file
		if info, err := os.Stat(settings.Prefix); err == nil && !info.IsDir() {
			settings.Pattern = filepath.Base(settings.Prefix)
			settings.Prefix = filepath.Dir(settings.Prefix)
		}
	}
	if settings.Pattern != "" {
		if _, err := path.Match(settings.Pattern, ""); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeConfig, "invalid pattern %q", settings.Pattern)
		}
	}
	s.settings = settings

	if s.schema, err = settings.LoadSchema(); err != nil {
		return err
	}

	err = s.ExecuteWithRetry(ctx, "open", func(ctx context.Context) error {
		store, err := settings.OpenStore(ctx)
		if err != nil {
			return err
		}
		s.store = store
		return nil
	})
	if err != nil {
		return err
	}
	s.SetHealthCheck(s.store.Ping)

	var listed []storage.ObjectInfo
	err = s.ExecuteWithRetry(ctx, "list", func(ctx context.Context) error {
		var err error
		listed, err = s.store.List(ctx, "")
		return err
	})
	if err != nil {
		return err
	}
	for _, obj := range listed {
		if s.matches(obj.Key) {
			s.objects = append(s.objects, obj)
		}
	}
	if len(s.objects) == 0 {
		return errors.Newf(errors.ErrorTypeNotFound, "no objects match %q under %s", settings.Pattern, s.store.URL(""))
	}

	s.Logger().Info("source objects listed",
		zap.String("location", s.store.URL("")),
		zap.Int("objects", len(s.objects)))
	return nil
}

// matches applies the pattern to the whole key, or to its base name when
// the pattern has no slash
func (s *Source) matches(key string) bool {
	if s.settings.Pattern == "" {
		return true
	}
	subject := key
	if !strings.Contains(s.settings.Pattern, "/") {
		subject = path.Base(key)
	}
	ok, _ := path.Match(s.settings.Pattern, subject)
	return ok
}

// Objects returns the objects the source reads, in order
func (s *Source) Objects() []storage.ObjectInfo {
	return s.objects
}

// Discover returns the configured schema, or the schema of the first
// object: read from its header for Avro, Parquet and Arrow, inferred from
// a sample for text formats and Excel
func (s *Source) Discover(ctx context.Context) (_ *schema.Schema, err error) {
	if s.schema != nil {
		return s.schema, nil
	}
	if s.store == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "source is not initialized")
	}

	ctx, span := s.Tracer().StartSpan(ctx, "discover")
	defer func() { observability.End(span, err) }()

	obj := s.objects[0]
	r, body, err := s.openReader(ctx, obj.Key, nil)
	if err != nil {
		return nil, err
	}
	s.schema = r.Schema()
	_ = r.Close()
	_ = body.Close()

	s.Logger().Info("schema discovered",
		zap.String("object", obj.Key),
		zap.Int("fields", len(s.schema.Fields)))
	return s.schema, nil
}

func (s *Source) openReader(ctx context.Context, key string, sch *schema.Schema) (formats.Reader, io.Closer, error) {
	f, codec, err := s.settings.Resolve(key)
	if err != nil {
		return nil, nil, err
	}

	var body io.ReadCloser
	err = s.ExecuteWithRetry(ctx, "open", func(ctx context.Context) error {
		var err error
		body, err = s.store.Open(ctx, key)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	r, err := formats.NewReader(body, s.settings.ReaderConfig(f, codec, sch, schemaName(key)))
	if err != nil {
		_ = body.Close()
		return nil, nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to open %s", s.store.URL(key))
	}
	return r, body, nil
}

// schemaName names inferred schemas after the object
func schemaName(key string) string {
	base := path.Base(key)
	for ext := path.Ext(base); ext != ""; ext = path.Ext(base) {
		base = base[:len(base)-len(ext)]
	}
	if base == "" {
		return formats.DefaultSchemaName
	}
	return schema.SanitizeName(base)
}

// Read streams the records of every object in key order
func (s *Source) Read(ctx context.Context) (*core.RecordStream, error) {
	sch, err := s.Discover(ctx)
	if err != nil {
		return nil, err
	}

	records := make(chan *models.Record, s.BufferSize())
	errs := make(chan error, 1)

	go func() {
		defer close(records)
		defer close(errs)

		for _, obj := range s.objects {
			if err := s.readObject(ctx, obj, sch, records); err != nil {
				select {
				case errs <- err:
				case <-ctx.Done():
				}
				return
			}
		}
	}()

	return &core.RecordStream{Records: records, Errors: errs}, nil
}

func (s *Source) readObject(ctx context.Context, obj storage.ObjectInfo, sch *schema.Schema, out chan<- *models.Record) (err error) {
	ctx, span := s.Tracer().StartSpan(ctx, "read_object")
	defer func() { observability.End(span, err) }()

	r, body, err := s.openReader(ctx, obj.Key, sch)
	if err != nil {
		return err
	}
	defer body.Close()
	defer r.Close()

	location := s.store.URL(obj.Key)
	batchSize := s.BatchSize(1000)
	start := time.Now()
	var offset int64
	pending := 0

	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if !errors.IsType(err, errors.ErrorTypeConversion) {
				return errors.Wrapf(err, errors.ErrorTypeFile, "failed to read %s", location)
			}
			failed := models.NewRecord(sch, nil)
			failed.Metadata.Source = location
			failed.Metadata.Offset = offset
			offset++
			if err := s.HandleRecordError(ctx, "decode", err, failed); err != nil {
				return err
			}
			continue
		}

		rec.Metadata.Source = location
		rec.Metadata.Format = string(r.Format())
		rec.Metadata.Offset = offset
		offset++

		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}

		pending++
		if pending == batchSize {
			s.RecordBatch("read", pending, 0, time.Since(start), nil)
			pending, start = 0, time.Now()
		}
	}
	s.RecordBatch("read", pending, obj.Size, time.Since(start), nil)

	s.Logger().Debug("object read", zap.String("object", location), zap.Int64("records", offset))
	return nil
}

// ReadBatch streams records in batches of batchSize
func (s *Source) ReadBatch(ctx context.Context, batchSize int) (*core.BatchStream, error) {
	stream, err := s.Read(ctx)
	if err != nil {
		return nil, err
	}
	return core.BatchFromStream(ctx, stream, batchSize, 0), nil
}

// Close releases the store
func (s *Source) Close(ctx context.Context) error {
	if s.IsClosed() {
		return nil
	}
	var err error
	if s.store != nil {
		err = s.store.Close()
	}
	_ = s.BaseConnector.Close(ctx)
	return err
}
