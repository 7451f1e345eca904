// Package mongodb implements a source that reads a MongoDB collection.
// Documents are normalised from BSON and the schema is inferred from a
// sample of the collection unless one is configured.
package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/base"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/observability"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// Settings are the mongodb source settings.
//
//	settings:
//	  database: shop
//	  collection: orders
//	  filter: '{"status": "paid"}'
//	security:
//	  credentials:
//	    uri: ${MONGO_URI}
type Settings struct {
	// URI may also be given as credentials uri or connection_string
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
	// Filter and Projection are relaxed extended JSON documents
	Filter     string `mapstructure:"filter"`
	Projection string `mapstructure:"projection"`
	// SampleSize is the number of documents the schema is inferred from
	SampleSize int    `mapstructure:"sample_size"`
	SchemaFile string `mapstructure:"schema_file"`
}

// Source reads the documents of one collection
type Source struct {
	*base.BaseConnector

	settings   Settings
	filter     bson.D
	projection bson.D

	client     *mongo.Client
	collection *mongo.Collection
	schema     *schema.Schema
}

// NewSource creates a mongodb source
func NewSource(name string) *Source {
	return &Source{
		BaseConnector: base.NewBaseConnector(name, core.ConnectorTypeSource, "1.0.0"),
	}
}

// Initialize connects and checks the server is reachable
func (s *Source) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := s.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}
	if err := s.parseConfig(cfg); err != nil {
		return err
	}

	opts := options.Client().ApplyURI(s.settings.URI)
	if cfg.Timeouts.Connection > 0 {
		opts.SetConnectTimeout(cfg.Timeouts.Connection)
		opts.SetServerSelectionTimeout(cfg.Timeouts.Connection)
	}
	if cfg.Timeouts.Request > 0 {
		opts.SetTimeout(cfg.Timeouts.Request)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to create MongoDB client")
	}

	err = s.ExecuteWithRetry(ctx, "ping", func(ctx context.Context) error {
		if err := client.Ping(ctx, nil); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to reach MongoDB")
		}
		return nil
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return err
	}

	s.client = client
	s.collection = client.Database(s.settings.Database).Collection(s.settings.Collection)
	s.SetHealthCheck(func(ctx context.Context) error { return client.Ping(ctx, nil) })

	s.Logger().Info("mongodb source initialized",
		zap.String("database", s.settings.Database),
		zap.String("collection", s.settings.Collection))
	return nil
}

func (s *Source) parseConfig(cfg *config.BaseConfig) error {
	if err := cfg.Decode(&s.settings); err != nil {
		return err
	}
	st := &s.settings
	if st.URI == "" {
		st.URI = cfg.Security.Credentials["uri"]
	}
	if st.URI == "" {
		st.URI = cfg.Security.Credentials["connection_string"]
	}
	if st.URI == "" {
		return errors.New(errors.ErrorTypeConfig, "uri is required in settings or security.credentials")
	}
	if st.Database == "" || st.Collection == "" {
		return errors.New(errors.ErrorTypeConfig, "database and collection are required")
	}

	var err error
	if s.filter, err = parseDocument("filter", st.Filter); err != nil {
		return err
	}
	if s.projection, err = parseDocument("projection", st.Projection); err != nil {
		return err
	}
	if st.SchemaFile != "" {
		if s.schema, err = schema.LoadFile(st.SchemaFile); err != nil {
			return err
		}
	}
	return nil
}

// parseDocument reads a relaxed extended JSON document; empty is no document
func parseDocument(key, text string) (bson.D, error) {
	if text == "" {
		return nil, nil
	}
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(text), false, &doc); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "invalid %s document", key)
	}
	return doc, nil
}

func (s *Source) findOptions() *options.FindOptions {
	opts := options.Find().SetBatchSize(int32(s.BatchSize(1000)))
	if s.projection != nil {
		opts.SetProjection(s.projection)
	}
	return opts
}

func (s *Source) query() bson.D {
	if s.filter == nil {
		return bson.D{}
	}
	return s.filter
}

// Discover infers the schema from the first documents matching the filter
func (s *Source) Discover(ctx context.Context) (sch *schema.Schema, err error) {
	if s.schema != nil {
		return s.schema, nil
	}
	if s.collection == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "source not initialized")
	}

	ctx, span := s.Tracer().StartSpan(ctx, "discover")
	defer func() { observability.End(span, err) }()

	inferrer := schema.NewInferrer(s.Logger(), schema.WithSampleSize(s.settings.SampleSize))
	var samples []map[string]any
	err = s.ExecuteWithRetry(ctx, "sample", func(ctx context.Context) error {
		samples = samples[:0]
		opts := s.findOptions().
			SetLimit(int64(inferrer.SampleSize())).
			SetSort(bson.D{{Key: "_id", Value: 1}})
		cur, err := s.collection.Find(ctx, s.query(), opts)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "failed to sample collection")
		}
		defer cur.Close(ctx)
		for cur.Next(ctx) {
			doc, err := decodeDocument(cur.Current)
			if err != nil {
				return err
			}
			samples = append(samples, doc)
		}
		return cur.Err()
	})
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "collection %s.%s has no matching documents",
			s.settings.Database, s.settings.Collection)
	}

	s.schema, err = inferrer.InferSchema(schema.SanitizeName(s.settings.Collection), samples)
	if err != nil {
		return nil, err
	}
	s.Logger().Info("schema inferred",
		zap.Int("samples", len(samples)),
		zap.Int("fields", len(s.schema.Fields)))
	return s.schema, nil
}

// Read streams every matching document
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

		if err := s.streamDocuments(ctx, sch, records); err != nil {
			select {
			case errs <- err:
			case <-ctx.Done():
			}
		}
	}()

	return &core.RecordStream{Records: records, Errors: errs}, nil
}

func (s *Source) streamDocuments(ctx context.Context, sch *schema.Schema, out chan<- *models.Record) (err error) {
	ctx, span := s.Tracer().StartSpan(ctx, "read",
		attribute.String("db.system", "mongodb"),
		attribute.String("db.collection", s.settings.Collection))
	defer func() { observability.End(span, err) }()

	if err := s.RateLimit(ctx); err != nil {
		return err
	}

	var cur *mongo.Cursor
	err = s.ExecuteWithRetry(ctx, "find", func(ctx context.Context) error {
		var err error
		cur, err = s.collection.Find(ctx, s.query(), s.findOptions())
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "failed to query collection")
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer cur.Close(context.Background())

	source := "mongodb:" + s.settings.Database + "." + s.settings.Collection
	batchSize := s.BatchSize(1000)
	start := time.Now()
	pending := 0
	var offset int64
	var bytes int64

	for cur.Next(ctx) {
		bytes += int64(len(cur.Current))
		rec, err := toRecord(sch, cur.Current)
		if err != nil {
			failed := models.NewRecord(sch, nil)
			failed.Metadata.Source = source
			failed.Metadata.Offset = offset
			offset++
			if err := s.HandleRecordError(ctx, "decode", err, failed); err != nil {
				return err
			}
			continue
		}
		rec.Metadata.Source = source
		rec.Metadata.Format = "bson"
		rec.Metadata.Offset = offset
		offset++

		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}

		pending++
		if pending == batchSize {
			s.RecordBatch("read", pending, bytes, time.Since(start), nil)
			pending, bytes, start = 0, 0, time.Now()
		}
	}
	if err := cur.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "cursor failed")
	}
	s.RecordBatch("read", pending, bytes, time.Since(start), nil)

	s.Logger().Info("collection read", zap.Int64("documents", offset))
	return nil
}

// toRecord decodes a document and coerces it to the schema
func toRecord(sch *schema.Schema, raw bson.Raw) (*models.Record, error) {
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}
	rec := models.NewRecord(sch, doc)
	if err := rec.Coerce(sch); err != nil {
		return nil, err
	}
	return rec, nil
}

// ReadBatch streams documents in batches of batchSize
func (s *Source) ReadBatch(ctx context.Context, batchSize int) (*core.BatchStream, error) {
	stream, err := s.Read(ctx)
	if err != nil {
		return nil, err
	}
	return core.BatchFromStream(ctx, stream, batchSize, 0), nil
}

// Close disconnects the client
func (s *Source) Close(ctx context.Context) error {
	if s.IsClosed() {
		return nil
	}
	var err error
	if s.client != nil {
		if derr := s.client.Disconnect(ctx); derr != nil {
			err = errors.Wrap(derr, errors.ErrorTypeConnection, "failed to disconnect")
		}
	}
	_ = s.BaseConnector.Close(ctx)
	return err
}
