// Package bigquery implements a destination that streams records into a
// BigQuery table, creating or widening the table from the record schema.
package bigquery

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/base"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/json"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// Settings are the bigquery destination settings.
//
//	settings:
//	  project: analytics-prod
//	  dataset: raw
//	  table: orders
//	  partition_field: created_at
type Settings struct {
	Project  string `mapstructure:"project"`
	Dataset  string `mapstructure:"dataset"`
	Table    string `mapstructure:"table"`
	Location string `mapstructure:"location"`
	// CreateDataset creates a missing dataset in Location
	CreateDataset bool `mapstructure:"create_dataset"`

	// PartitionField partitions new tables by a DATE or TIMESTAMP column
	PartitionField string `mapstructure:"partition_field"`
	// PartitionType is HOUR, DAY, MONTH or YEAR
	PartitionType    string   `mapstructure:"partition_type"`
	ClusteringFields []string `mapstructure:"clustering_fields"`

	SkipInvalidRows     bool `mapstructure:"skip_invalid_rows"`
	IgnoreUnknownValues bool `mapstructure:"ignore_unknown_values"`

	// Endpoint points the client at an emulator; requests are not
	// authenticated when it is set
	Endpoint string `mapstructure:"endpoint"`
}

var partitionTypes = map[string]bigquery.TimePartitioningType{
	"":      bigquery.DayPartitioningType,
	"HOUR":  bigquery.HourPartitioningType,
	"DAY":   bigquery.DayPartitioningType,
	"MONTH": bigquery.MonthPartitioningType,
	"YEAR":  bigquery.YearPartitioningType,
}

// Destination streams records into one table
type Destination struct {
	*base.BaseConnector

	settings Settings
	client   *bigquery.Client
	table    *bigquery.Table
	inserter *bigquery.Inserter
	schema   *schema.Schema
}

// NewDestination creates a bigquery destination
func NewDestination(name string) *Destination {
	return &Destination{
		BaseConnector: base.NewBaseConnector(name, core.ConnectorTypeDestination, "1.0.0"),
	}
}

// Initialize creates the client and checks the dataset exists
func (d *Destination) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := d.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}
	if err := d.parseConfig(cfg); err != nil {
		return err
	}

	var opts []option.ClientOption
	if cfg.Security.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Security.CredentialsFile))
	}
	if d.settings.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(d.settings.Endpoint), option.WithoutAuthentication())
	}
	client, err := bigquery.NewClient(ctx, d.settings.Project, opts...)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create BigQuery client")
	}
	if d.settings.Location != "" {
		client.Location = d.settings.Location
	}
	d.client = client

	dataset := client.Dataset(d.settings.Dataset)
	err = d.ExecuteWithRetry(ctx, "dataset", func(ctx context.Context) error {
		_, err := dataset.Metadata(ctx)
		if err == nil {
			return nil
		}
		if !isNotFound(err) {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to read dataset")
		}
		if !d.settings.CreateDataset {
			return errors.Newf(errors.ErrorTypeNotFound, "dataset %s.%s does not exist", d.settings.Project, d.settings.Dataset)
		}
		if err := dataset.Create(ctx, &bigquery.DatasetMetadata{Location: d.settings.Location}); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create dataset")
		}
		d.Logger().Info("dataset created", zap.String("dataset", d.settings.Dataset))
		return nil
	})
	if err != nil {
		_ = client.Close()
		return err
	}

	d.table = dataset.Table(d.settings.Table)
	d.inserter = d.table.Inserter()
	d.inserter.SkipInvalidRows = d.settings.SkipInvalidRows
	d.inserter.IgnoreUnknownValues = d.settings.IgnoreUnknownValues
	d.SetHealthCheck(func(ctx context.Context) error {
		_, err := dataset.Metadata(ctx)
		return err
	})

	d.Logger().Info("bigquery destination initialized",
		zap.String("table", d.tableName()))
	return nil
}

func (d *Destination) parseConfig(cfg *config.BaseConfig) error {
	if err := cfg.Decode(&d.settings); err != nil {
		return err
	}
	s := &d.settings
	var missing []string
	for _, req := range []struct{ key, value string }{
		{"project", s.Project}, {"dataset", s.Dataset}, {"table", s.Table},
	} {
		if req.value == "" {
			missing = append(missing, req.key)
		}
	}
	if len(missing) > 0 {
		return errors.Newf(errors.ErrorTypeConfig, "bigquery destination needs %s", strings.Join(missing, ", "))
	}
	s.PartitionType = strings.ToUpper(s.PartitionType)
	if _, ok := partitionTypes[s.PartitionType]; !ok {
		return errors.Newf(errors.ErrorTypeConfig, "unknown partition_type %q", s.PartitionType)
	}
	if s.Location == "" {
		s.Location = "US"
	}
	return nil
}

func (d *Destination) tableName() string {
	return fmt.Sprintf("%s.%s.%s", d.settings.Project, d.settings.Dataset, d.settings.Table)
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

// CreateSchema creates the table, or adds the columns it lacks. Columns
// that exist with another type are an error.
func (d *Destination) CreateSchema(ctx context.Context, s *schema.Schema) error {
	if s == nil {
		return errors.New(errors.ErrorTypeSchema, "schema is required")
	}
	if err := s.Validate(); err != nil {
		return err
	}
	if d.table == nil {
		return errors.New(errors.ErrorTypeValidation, "destination not initialized")
	}
	want, err := ToBigQuerySchema(s)
	if err != nil {
		return err
	}

	err = d.ExecuteWithRetry(ctx, "create_table", func(ctx context.Context) error {
		meta, err := d.table.Metadata(ctx)
		if isNotFound(err) {
			return d.createTable(ctx, want)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "failed to read table")
		}
		return d.widenTable(ctx, meta, want)
	})
	if err != nil {
		return err
	}
	d.schema = s
	return nil
}

func (d *Destination) createTable(ctx context.Context, want bigquery.Schema) error {
	meta := &bigquery.TableMetadata{Schema: want}
	if d.settings.PartitionField != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{
			Field: d.settings.PartitionField,
			Type:  partitionTypes[d.settings.PartitionType],
		}
	}
	if len(d.settings.ClusteringFields) > 0 {
		meta.Clustering = &bigquery.Clustering{Fields: d.settings.ClusteringFields}
	}
	if err := d.table.Create(ctx, meta); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create table")
	}
	d.Logger().Info("table created", zap.String("table", d.tableName()), zap.Int("columns", len(want)))
	return nil
}

// widenTable appends missing columns as NULLABLE
func (d *Destination) widenTable(ctx context.Context, meta *bigquery.TableMetadata, want bigquery.Schema) error {
	missing, err := missingFields(meta.Schema, want)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}
	updated := append(bigquery.Schema{}, meta.Schema...)
	for _, f := range missing {
		c := *f
		c.Required = false
		updated = append(updated, &c)
	}
	if _, err := d.table.Update(ctx, bigquery.TableMetadataToUpdate{Schema: updated}, meta.ETag); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to add columns")
	}
	d.Logger().Info("table widened", zap.String("table", d.tableName()), zap.Int("added", len(missing)))
	return nil
}

// row is a ValueSaver with an insert id for best effort de-duplication
type row struct {
	values   map[string]bigquery.Value
	insertID string
}

func (r *row) Save() (map[string]bigquery.Value, string, error) {
	return r.values, r.insertID, nil
}

// Write consumes a record stream, inserting batches of BatchSize
func (d *Destination) Write(ctx context.Context, stream *core.RecordStream) error {
	cfg := d.Config()
	return d.WriteBatch(ctx, core.BatchFromStream(ctx, stream, d.BatchSize(500), cfg.Performance.FlushInterval))
}

// WriteBatch inserts every batch of the stream
func (d *Destination) WriteBatch(ctx context.Context, stream *core.BatchStream) error {
	if d.schema == nil {
		return errors.New(errors.ErrorTypeSchema, "CreateSchema must be called before writing")
	}
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
			err := d.Tracer().TraceBatch(ctx, len(batch), "insert", func(ctx context.Context) error {
				return d.insert(ctx, batch)
			})
			if err != nil {
				return err
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			return err
		}
	}
	return nil
}

// buildRows converts a batch, handing records that do not convert to the
// error handler. kept maps row positions back to the batch.
func (d *Destination) buildRows(ctx context.Context, batch []*models.Record) (rows []*row, kept []*models.Record, size int64, err error) {
	rows = make([]*row, 0, len(batch))
	kept = make([]*models.Record, 0, len(batch))
	for _, rec := range batch {
		values, err := d.convert(rec)
		if err != nil {
			if herr := d.HandleRecordError(ctx, "encode", err, rec); herr != nil {
				return nil, nil, 0, herr
			}
			continue
		}
		if data, err := json.Marshal(values); err == nil {
			size += int64(len(data))
		}
		rows = append(rows, &row{values: values, insertID: insertID(rec)})
		kept = append(kept, rec)
	}
	return rows, kept, size, nil
}

func (d *Destination) convert(rec *models.Record) (map[string]bigquery.Value, error) {
	data, err := schema.CoerceRecord(d.schema, rec.Data)
	if err != nil {
		return nil, err
	}
	return toRow(d.schema.Fields, data)
}

// insertID derives a stable id from where the record was read
func insertID(rec *models.Record) string {
	if rec.Metadata.Source == "" {
		return ""
	}
	return fmt.Sprintf("%s#%d", rec.Metadata.Source, rec.Metadata.Offset)
}

func (d *Destination) insert(ctx context.Context, batch []*models.Record) error {
	start := time.Now()
	rows, kept, size, err := d.buildRows(ctx, batch)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	err = d.ExecuteWithRetry(ctx, "insert", func(ctx context.Context) error {
		err := d.inserter.Put(ctx, rows)
		var multi bigquery.PutMultiError
		if errors.As(err, &multi) {
			// row errors are not retried
			return errors.Wrap(multi, errors.ErrorTypeData, "rows rejected")
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeConnection, "insert failed")
		}
		return nil
	})

	var multi bigquery.PutMultiError
	if errors.As(err, &multi) {
		failed := 0
		for _, rowErr := range multi {
			rec := batch[0]
			if rowErr.RowIndex >= 0 && rowErr.RowIndex < len(kept) {
				rec = kept[rowErr.RowIndex]
			}
			failed++
			if herr := d.HandleRecordError(ctx, "insert", &rowErr, rec); herr != nil {
				d.RecordBatch("insert", len(rows)-failed, size, time.Since(start), herr)
				return herr
			}
		}
		d.RecordBatch("insert", len(rows)-failed, size, time.Since(start), nil)
		return nil
	}
	d.RecordBatch("insert", len(rows), size, time.Since(start), err)
	return err
}

// Close releases the client
func (d *Destination) Close(ctx context.Context) error {
	if d.IsClosed() {
		return nil
	}
	var err error
	if d.client != nil {
		err = d.client.Close()
	}
	_ = d.BaseConnector.Close(ctx)
	return err
}
