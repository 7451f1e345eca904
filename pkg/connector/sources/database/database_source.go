// Package database implements a source that reads a table or query through
// database/sql. MySQL, PostgreSQL (pgx) and Snowflake drivers are linked in.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/snowflakedb/gosnowflake"
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

// database/sql driver names
const (
	driverMySQL     = "mysql"
	driverPostgres  = "pgx"
	driverSnowflake = "snowflake"
)

var driverAliases = map[string]string{
	"mysql":      driverMySQL,
	"mariadb":    driverMySQL,
	"postgres":   driverPostgres,
	"postgresql": driverPostgres,
	"pgx":        driverPostgres,
	"snowflake":  driverSnowflake,
}

// Settings are the database source settings.
//
//	settings:
//	  driver: postgres
//	  table: public.orders
//	security:
//	  credentials:
//	    dsn: ${ORDERS_DSN}
type Settings struct {
	// Driver is mysql, postgres or snowflake, or any registered
	// database/sql driver name
	Driver string `mapstructure:"driver"`
	// DSN may also be given as credentials dsn or connection_string
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
	Query string `mapstructure:"query"`

	MaxOpenConns int `mapstructure:"max_open_conns"`
	MaxIdleConns int `mapstructure:"max_idle_conns"`
}

// Source reads the rows of a table or query
type Source struct {
	*base.BaseConnector

	settings Settings
	driver   string
	db       *sql.DB
	query    string
	columns  []Column
	schema   *schema.Schema
}

// NewSource creates a database source
func NewSource(name string) *Source {
	return &Source{
		BaseConnector: base.NewBaseConnector(name, core.ConnectorTypeSource, "1.0.0"),
	}
}

// Initialize opens the connection pool and discovers the result columns
func (s *Source) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
	if err := s.BaseConnector.Initialize(ctx, cfg); err != nil {
		return err
	}
	if err := s.parseConfig(cfg); err != nil {
		return err
	}

	db, err := sql.Open(s.driver, s.settings.DSN)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeConfig, "failed to open %s connection", s.driver)
	}
	maxOpen := s.settings.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 4
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(s.settings.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	s.db = db

	err = s.ExecuteWithRetry(ctx, "ping", func(ctx context.Context) error {
		if cfg.Timeouts.Connection > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Timeouts.Connection)
			defer cancel()
		}
		if err := db.PingContext(ctx); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeConnection, "failed to connect to %s", s.driver)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	s.SetHealthCheck(db.PingContext)

	if _, err := s.Discover(ctx); err != nil {
		return err
	}

	s.Logger().Info("database source initialized",
		zap.String("driver", s.driver),
		zap.String("query", s.query),
		zap.Int("columns", len(s.columns)))
	return nil
}

func (s *Source) parseConfig(cfg *config.BaseConfig) error {
	if err := cfg.Decode(&s.settings); err != nil {
		return err
	}
	st := &s.settings
	if st.DSN == "" {
		st.DSN = cfg.Security.Credentials["dsn"]
	}
	if st.DSN == "" {
		st.DSN = cfg.Security.Credentials["connection_string"]
	}
	if st.DSN == "" {
		return errors.New(errors.ErrorTypeConfig, "dsn is required in settings or security.credentials")
	}

	driver := strings.ToLower(st.Driver)
	if alias, ok := driverAliases[driver]; ok {
		driver = alias
	}
	if driver == "" {
		return errors.New(errors.ErrorTypeConfig, "driver is required")
	}
	if !slices.Contains(sql.Drivers(), driver) {
		return errors.Newf(errors.ErrorTypeConfig, "unknown database driver %q", st.Driver)
	}
	s.driver = driver

	switch {
	case st.Table != "" && st.Query != "":
		return errors.New(errors.ErrorTypeConfig, "table and query are mutually exclusive")
	case st.Table != "":
		s.query = "SELECT * FROM " + quoteTable(driver, st.Table)
	case st.Query != "":
		s.query = strings.TrimRight(strings.TrimSpace(st.Query), ";")
	default:
		return errors.New(errors.ErrorTypeConfig, "either table or query is required")
	}
	return nil
}

// quoteTable quotes each part of a possibly schema qualified table name
func quoteTable(driver, table string) string {
	q := `"`
	if driver == driverMySQL {
		q = "`"
	}
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = q + strings.ReplaceAll(p, q, q+q) + q
	}
	return strings.Join(parts, ".")
}

func (s *Source) schemaName() string {
	if s.settings.Table != "" {
		parts := strings.Split(s.settings.Table, ".")
		return parts[len(parts)-1]
	}
	return s.Config().Name
}

// Discover returns the schema of the result set. The query runs wrapped so
// that no rows are returned.
func (s *Source) Discover(ctx context.Context) (sch *schema.Schema, err error) {
	if s.schema != nil {
		return s.schema, nil
	}
	if s.db == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "source not initialized")
	}

	ctx, span := s.Tracer().StartSpan(ctx, "discover")
	defer func() { observability.End(span, err) }()

	probe := fmt.Sprintf("SELECT * FROM (%s) discover_q WHERE 1 = 0", s.query)
	var types []*sql.ColumnType
	err = s.ExecuteWithRetry(ctx, "discover", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, probe)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "failed to describe query")
		}
		defer rows.Close()
		types, err = rows.ColumnTypes()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "failed to read column types")
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "query returns no columns: %s", s.query)
	}

	s.columns = columnsFromTypes(types)
	s.schema = SchemaFromColumns(s.schemaName(), s.driver, s.columns)
	return s.schema, nil
}

// Read streams every row as a record
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

		if err := s.RateLimit(ctx); err != nil {
			errs <- err
			return
		}
		if err := s.streamRows(ctx, sch, records); err != nil {
			select {
			case errs <- err:
			case <-ctx.Done():
			}
		}
	}()

	return &core.RecordStream{Records: records, Errors: errs}, nil
}

func (s *Source) streamRows(ctx context.Context, sch *schema.Schema, out chan<- *models.Record) (err error) {
	ctx, span := s.Tracer().StartSpan(ctx, "read", attribute.String("db.system", s.driver))
	defer func() { observability.End(span, err) }()

	var rows *sql.Rows
	err = s.ExecuteWithRetry(ctx, "query", func(ctx context.Context) error {
		var err error
		rows, err = s.db.QueryContext(ctx, s.query)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "failed to execute query")
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer rows.Close()

	source := s.driver + ":" + s.schemaName()
	batchSize := s.BatchSize(1000)
	start := time.Now()
	pending := 0
	var offset int64

	values := make([]any, len(s.columns))
	ptrs := make([]any, len(s.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan row")
		}

		rec, err := s.toRecord(sch, values)
		if err != nil {
			failed := models.NewRecord(sch, nil)
			failed.Metadata.Source = source
			failed.Metadata.Offset = offset
			offset++
			if err := s.HandleRecordError(ctx, "scan", err, failed); err != nil {
				return err
			}
			continue
		}
		rec.Metadata.Source = source
		rec.Metadata.Format = s.driver
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
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed reading rows")
	}
	s.RecordBatch("read", pending, 0, time.Since(start), nil)

	s.Logger().Info("query read", zap.Int64("rows", offset))
	return nil
}

// toRecord coerces a scanned row to the schema
func (s *Source) toRecord(sch *schema.Schema, values []any) (*models.Record, error) {
	data := make(map[string]any, len(values))
	for i, f := range sch.Fields {
		v := values[i]
		if f.Type.Kind == schema.KindArray {
			v = arrayValue(v)
		}
		data[f.Name] = v
	}
	rec := models.NewRecord(sch, data)
	if err := rec.Coerce(sch); err != nil {
		return nil, err
	}
	return rec, nil
}

// arrayValue decodes array text returned for PostgreSQL array columns
func arrayValue(v any) any {
	var text string
	switch x := v.(type) {
	case string:
		text = x
	case []byte:
		text = string(x)
	default:
		return v
	}
	if items, ok := parseArrayText(text); ok {
		return items
	}
	return v
}

// ReadBatch streams rows in batches of batchSize
func (s *Source) ReadBatch(ctx context.Context, batchSize int) (*core.BatchStream, error) {
	stream, err := s.Read(ctx)
	if err != nil {
		return nil, err
	}
	return core.BatchFromStream(ctx, stream, batchSize, 0), nil
}

// Metrics adds connection pool statistics to the base metrics
func (s *Source) Metrics() map[string]interface{} {
	m := s.BaseConnector.Metrics()
	m["driver"] = s.driver
	if s.db != nil {
		stats := s.db.Stats()
		m["open_connections"] = stats.OpenConnections
		m["in_use_connections"] = stats.InUse
		m["wait_count"] = stats.WaitCount
	}
	return m
}

// Close closes the connection pool
func (s *Source) Close(ctx context.Context) error {
	if s.IsClosed() {
		return nil
	}
	var err error
	if s.db != nil {
		err = s.db.Close()
	}
	_ = s.BaseConnector.Close(ctx)
	return err
}
