// Package core defines the contracts every recordbridge connector
// implements. A Source turns an external system's native payloads into
// models.Record values with a schema.Schema; a Destination does the reverse.
package core

import (
	"context"
	"time"

	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// ConnectorType represents the type of connector
type ConnectorType string

const (
	ConnectorTypeSource      ConnectorType = "source"
	ConnectorTypeDestination ConnectorType = "destination"
)

// RecordStream is a stream of records. The producer closes both channels
// when it is done; a value on Errors does not end the stream by itself.
type RecordStream struct {
	Records <-chan *models.Record
	Errors  <-chan error
}

// BatchStream is a stream of record batches
type BatchStream struct {
	Batches <-chan []*models.Record
	Errors  <-chan error
}

// Source is the interface that all source connectors must implement
type Source interface {
	// Initialize validates the configuration and connects
	Initialize(ctx context.Context, config *config.BaseConfig) error
	// Discover returns the schema of the records Read will produce
	Discover(ctx context.Context) (*schema.Schema, error)
	// Read streams every record
	Read(ctx context.Context) (*RecordStream, error)
	// ReadBatch streams records in batches of at most batchSize
	ReadBatch(ctx context.Context, batchSize int) (*BatchStream, error)
	Close(ctx context.Context) error

	Health(ctx context.Context) error
	Metrics() map[string]interface{}
}

// Destination is the interface that all destination connectors must
// implement
type Destination interface {
	// Initialize validates the configuration and connects
	Initialize(ctx context.Context, config *config.BaseConfig) error
	// CreateSchema prepares the destination for records of s: a table, a
	// topic subject or the schema of the files written
	CreateSchema(ctx context.Context, s *schema.Schema) error
	// Write consumes a stream until it is closed
	Write(ctx context.Context, stream *RecordStream) error
	// WriteBatch consumes a batch stream until it is closed
	WriteBatch(ctx context.Context, stream *BatchStream) error
	// Close flushes buffered records and releases the connection
	Close(ctx context.Context) error

	Health(ctx context.Context) error
	Metrics() map[string]interface{}
}

// Connector is the part of Source and Destination about identity and
// lifecycle
type Connector interface {
	Name() string
	Type() ConnectorType
	Version() string

	Initialize(ctx context.Context, config *config.BaseConfig) error
	Close(ctx context.Context) error

	Health(ctx context.Context) error
	Metrics() map[string]interface{}
}

// HealthStatus represents the health status of a connector
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// ConnectorMetadata describes a registered connector
type ConnectorMetadata struct {
	Name        string        `json:"name"`
	Type        ConnectorType `json:"type"`
	Version     string        `json:"version"`
	Description string        `json:"description"`
	// Capabilities lists features such as "nested", "formats" or "streaming"
	Capabilities []string `json:"capabilities"`
	// Settings documents the keys the connector reads from Settings
	Settings map[string]string `json:"settings,omitempty"`
}

// BatchFromStream groups a record stream into batches of at most size,
// emitting a partial batch when the stream ends or flushInterval passes
// without the batch filling up. A non-positive flushInterval disables the
// timer.
func BatchFromStream(ctx context.Context, stream *RecordStream, size int, flushInterval time.Duration) *BatchStream {
	if size <= 0 {
		size = 1
	}
	batches := make(chan []*models.Record, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(batches)
		defer close(errs)

		var tick <-chan time.Time
		if flushInterval > 0 {
			ticker := time.NewTicker(flushInterval)
			defer ticker.Stop()
			tick = ticker.C
		}

		batch := make([]*models.Record, 0, size)
		emit := func() bool {
			if len(batch) == 0 {
				return true
			}
			select {
			case batches <- batch:
				batch = make([]*models.Record, 0, size)
				return true
			case <-ctx.Done():
				return false
			}
		}

		records, inErrs := stream.Records, stream.Errors
		for records != nil || inErrs != nil {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-records:
				if !ok {
					records = nil
					continue
				}
				batch = append(batch, r)
				if len(batch) >= size && !emit() {
					return
				}
			case err, ok := <-inErrs:
				if !ok {
					inErrs = nil
					continue
				}
				select {
				case errs <- err:
				case <-ctx.Done():
					return
				}
			case <-tick:
				if !emit() {
					return
				}
			}
		}
		emit()
	}()

	return &BatchStream{Batches: batches, Errors: errs}
}
