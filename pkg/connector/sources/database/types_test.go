package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

func TestColumnType(t *testing.T) {
	tests := []struct {
		driver string
		col    Column
		want   *schema.Type
	}{
		{driverMySQL, Column{DatabaseType: "BIGINT"}, schema.Long()},
		{driverMySQL, Column{DatabaseType: "UNSIGNED BIGINT"}, schema.Decimal(20, 0)},
		{driverMySQL, Column{DatabaseType: "UNSIGNED INT"}, schema.Long()},
		{driverMySQL, Column{DatabaseType: "TINYINT"}, schema.Int()},
		{driverMySQL, Column{DatabaseType: "FLOAT"}, schema.Float()},
		{driverMySQL, Column{DatabaseType: "DATETIME"}, schema.TimestampMicros()},
		{driverMySQL, Column{DatabaseType: "JSON"}, schema.JSON()},
		{driverMySQL, Column{DatabaseType: "LONGBLOB"}, schema.Bytes()},
		{driverMySQL, Column{DatabaseType: "VARCHAR"}, schema.String()},
		{driverMySQL, Column{DatabaseType: "DECIMAL", Precision: 10, Scale: 2, HasDecimal: true}, schema.Decimal(10, 2)},
		{driverPostgres, Column{DatabaseType: "INT4"}, schema.Int()},
		{driverPostgres, Column{DatabaseType: "REAL"}, schema.Float()},
		{driverPostgres, Column{DatabaseType: "TIMESTAMPTZ"}, schema.TimestampMicros()},
		{driverPostgres, Column{DatabaseType: "UUID"}, schema.UUID()},
		{driverPostgres, Column{DatabaseType: "NUMERIC"}, schema.String()},
		{driverPostgres, Column{DatabaseType: "_INT8"}, schema.Array(schema.Long().Optional())},
		{driverPostgres, Column{DatabaseType: "BOOL"}, schema.Boolean()},
		{driverPostgres, Column{DatabaseType: "TIME"}, schema.TimeMicros()},
		{driverSnowflake, Column{DatabaseType: "FIXED", Precision: 38, Scale: 0, HasDecimal: true}, schema.Decimal(38, 0)},
		{driverSnowflake, Column{DatabaseType: "FIXED", Precision: 18, Scale: 0, HasDecimal: true}, schema.Long()},
		{driverSnowflake, Column{DatabaseType: "REAL"}, schema.Double()},
		{driverSnowflake, Column{DatabaseType: "TIMESTAMP_NTZ"}, schema.TimestampMicros()},
		{driverSnowflake, Column{DatabaseType: "VARIANT"}, schema.JSON()},
		{driverSnowflake, Column{DatabaseType: "TEXT"}, schema.String()},
	}
	for _, tt := range tests {
		t.Run(tt.driver+"/"+tt.col.DatabaseType, func(t *testing.T) {
			assert.Equal(t, tt.want, ColumnType(tt.driver, tt.col))
		})
	}

	t.Run("nullable", func(t *testing.T) {
		got := ColumnType(driverMySQL, Column{DatabaseType: "INT", Nullable: true})
		assert.True(t, got.Nullable)
		assert.Equal(t, schema.KindInt, got.Kind)
	})
}

func TestSchemaFromColumns(t *testing.T) {
	s := SchemaFromColumns("order lines", driverPostgres, []Column{
		{Name: "id", DatabaseType: "INT8"},
		{Name: "ID", DatabaseType: "TEXT", Nullable: true},
		{Name: "id", DatabaseType: "TEXT", Nullable: true},
		{Name: "1st", DatabaseType: "DATE", Nullable: true},
	})
	require.NoError(t, s.Validate())
	assert.Equal(t, schema.SanitizeName("order lines"), s.Name)
	assert.Equal(t, []string{"id", schema.SanitizeName("ID"), "id_1", "_1st"}, s.FieldNames())
	assert.False(t, s.Fields[0].Type.Nullable)
	assert.Equal(t, "INT8", s.Fields[0].Doc)
}

func TestParseArrayText(t *testing.T) {
	tests := []struct {
		in   string
		want []any
		ok   bool
	}{
		{"{}", []any{}, true},
		{"{1,2,3}", []any{"1", "2", "3"}, true},
		{`{"a b","c,d",NULL,"NULL"}`, []any{"a b", "c,d", nil, "NULL"}, true},
		{`{"say \"hi\""}`, []any{`say "hi"`}, true},
		{"{{1,2},{3}}", []any{"{1,2}", "{3}"}, true},
		{"1,2", nil, false},
		{`{"open}`, nil, false},
	}
	for _, tt := range tests {
		got, ok := parseArrayText(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.in)
		}
	}
}

func TestQuoteTable(t *testing.T) {
	assert.Equal(t, "`shop`.`orders`", quoteTable(driverMySQL, "shop.orders"))
	assert.Equal(t, `"public"."or""ders"`, quoteTable(driverPostgres, `public.or"ders`))
}
