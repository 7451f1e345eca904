package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/connector/registry"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// A minimal database/sql driver serving fixed result sets keyed by DSN

const fakeDriverName = "recordbridge_fake"

type fakeColumn struct {
	name, dbType     string
	nullable         bool
	precision, scale int64
}

type fakeTable struct {
	columns []fakeColumn
	rows    [][]driver.Value

	mu      sync.Mutex
	queries []string
}

func (t *fakeTable) Queries() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.queries...)
}

var fakeTables sync.Map

func init() {
	sql.Register(fakeDriverName, fakeDriver{})
}

type fakeDriver struct{}

func (fakeDriver) Open(dsn string) (driver.Conn, error) {
	t, ok := fakeTables.Load(dsn)
	if !ok {
		return nil, driver.ErrBadConn
	}
	return &fakeConn{table: t.(*fakeTable)}, nil
}

type fakeConn struct{ table *fakeTable }

func (c *fakeConn) Prepare(string) (driver.Stmt, error) { return nil, driver.ErrSkip }
func (c *fakeConn) Close() error                       { return nil }
func (c *fakeConn) Begin() (driver.Tx, error)          { return nil, driver.ErrSkip }

func (c *fakeConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.table.mu.Lock()
	c.table.queries = append(c.table.queries, query)
	c.table.mu.Unlock()

	rows := c.table.rows
	if strings.Contains(query, "1 = 0") {
		rows = nil
	}
	return &fakeRows{table: c.table, rows: rows}, nil
}

type fakeRows struct {
	table *fakeTable
	rows  [][]driver.Value
	pos   int
}

func (r *fakeRows) Columns() []string {
	names := make([]string, len(r.table.columns))
	for i, c := range r.table.columns {
		names[i] = c.name
	}
	return names
}

func (r *fakeRows) Close() error { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}

func (r *fakeRows) ColumnTypeDatabaseTypeName(i int) string { return r.table.columns[i].dbType }

func (r *fakeRows) ColumnTypeNullable(i int) (bool, bool) { return r.table.columns[i].nullable, true }

func (r *fakeRows) ColumnTypePrecisionScale(i int) (int64, int64, bool) {
	c := r.table.columns[i]
	return c.precision, c.scale, c.precision > 0
}

func ordersTable(t *testing.T) (string, *fakeTable) {
	created := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	table := &fakeTable{
		columns: []fakeColumn{
			{name: "id", dbType: "BIGINT"},
			{name: "amount", dbType: "DECIMAL", nullable: true, precision: 10, scale: 2},
			{name: "customer", dbType: "VARCHAR", nullable: true},
			{name: "created_at", dbType: "TIMESTAMP", nullable: true},
		},
		rows: [][]driver.Value{
			{int64(1), []byte("12.50"), "ada", created},
			{[]byte("not-a-number"), nil, "bad", nil},
			{int64(3), "7", nil, []byte("2024-03-02 08:00:00")},
		},
	}
	dsn := t.Name()
	fakeTables.Store(dsn, table)
	t.Cleanup(func() { fakeTables.Delete(dsn) })
	return dsn, table
}

func sourceConfig(settings map[string]any) *config.BaseConfig {
	cfg := config.NewBaseConfig("orders", "database")
	cfg.Settings = settings
	cfg.Reliability.RetryAttempts = 0
	return cfg
}

func drain(t *testing.T, stream *core.RecordStream) ([]*models.Record, error) {
	t.Helper()
	var records []*models.Record
	var firstErr error
	recs, errs := stream.Records, stream.Errors
	for recs != nil || errs != nil {
		select {
		case r, ok := <-recs:
			if !ok {
				recs = nil
				continue
			}
			records = append(records, r)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return records, firstErr
}

func TestSource_ReadsTable(t *testing.T) {
	dsn, table := ordersTable(t)
	ctx := context.Background()

	src := NewSource("database")
	require.NoError(t, src.Initialize(ctx, sourceConfig(map[string]any{
		"driver": fakeDriverName,
		"dsn":    dsn,
		"table":  "shop.orders",
	})))
	defer src.Close(ctx)

	s, err := src.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, "orders", s.Name)
	assert.Equal(t, []string{"id", "amount", "customer", "created_at"}, s.FieldNames())
	id, _ := s.Field("id")
	assert.Equal(t, schema.Long(), id.Type)
	amount, _ := s.Field("amount")
	assert.Equal(t, schema.Decimal(10, 2).Optional(), amount.Type)

	stream, err := src.Read(ctx)
	require.NoError(t, err)
	records, err := drain(t, stream)
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, int64(1), first.Data["id"])
	assert.Equal(t, 0, big.NewRat(25, 2).Cmp(first.Data["amount"].(*big.Rat)))
	assert.Equal(t, "ada", first.Data["customer"])
	assert.Equal(t, time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), first.Data["created_at"])
	assert.Equal(t, int64(0), first.Metadata.Offset)

	second := records[1]
	assert.Equal(t, int64(3), second.Data["id"])
	assert.Nil(t, second.Data["customer"])
	assert.Equal(t, time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC), second.Data["created_at"])
	assert.Equal(t, int64(2), second.Metadata.Offset)

	queries := table.Queries()
	assert.Contains(t, queries, `SELECT * FROM "shop"."orders"`)

	m := src.Metrics()
	assert.Equal(t, int64(2), m["records"])
	assert.Equal(t, int64(1), m["skipped_records"])
	require.NoError(t, src.Health(ctx))
}

func TestSource_QueryAndFailFast(t *testing.T) {
	dsn, _ := ordersTable(t)
	ctx := context.Background()

	cfg := sourceConfig(map[string]any{"driver": fakeDriverName})
	cfg.Security.Credentials["dsn"] = dsn
	cfg.Settings["query"] = "SELECT id, amount FROM orders;"
	cfg.Reliability.FailFast = true

	src := NewSource("database")
	require.NoError(t, src.Initialize(ctx, cfg))
	defer src.Close(ctx)

	s, err := src.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, "orders", s.Name)

	batches, err := src.ReadBatch(ctx, 10)
	require.NoError(t, err)
	var got int
	var firstErr error
	b, errs := batches.Batches, batches.Errors
	for b != nil || errs != nil {
		select {
		case batch, ok := <-b:
			if !ok {
				b = nil
				continue
			}
			got += len(batch)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	assert.Equal(t, 1, got)
	require.Error(t, firstErr)
	assert.True(t, errors.IsType(firstErr, errors.ErrorTypeConversion))
}

func TestSource_ConfigErrors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		settings map[string]any
	}{
		{"missing dsn", map[string]any{"driver": "postgres", "table": "t"}},
		{"missing driver", map[string]any{"dsn": "x", "table": "t"}},
		{"unknown driver", map[string]any{"driver": "oracle", "dsn": "x", "table": "t"}},
		{"no table or query", map[string]any{"driver": "mysql", "dsn": "x"}},
		{"table and query", map[string]any{"driver": "mysql", "dsn": "x", "table": "t", "query": "SELECT 1"}},
		{"unknown key", map[string]any{"driver": "mysql", "dsn": "x", "table": "t", "tabel": "t"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewSource("database").Initialize(ctx, sourceConfig(tt.settings))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), err.Error())
		})
	}
}

func TestSource_Registered(t *testing.T) {
	info, err := registry.GetConnectorInfo(core.ConnectorTypeSource, "database")
	require.NoError(t, err)
	assert.Contains(t, info.Capabilities, "custom_queries")
	for _, d := range []string{driverMySQL, driverPostgres, driverSnowflake} {
		assert.Contains(t, sql.Drivers(), d)
	}
}
