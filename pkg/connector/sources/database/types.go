package database

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// maxLongDigits is the widest fixed-point integer that fits a long
const maxLongDigits = 18

// Column describes a result column the way database/sql reports it
type Column struct {
	Name         string
	DatabaseType string
	// Precision and Scale are set for fixed-point columns that report them
	Precision, Scale int64
	HasDecimal       bool
	// Nullable is false only when the driver knows the column is NOT NULL
	Nullable bool
}

// columnsFromTypes converts database/sql column types
func columnsFromTypes(types []*sql.ColumnType) []Column {
	cols := make([]Column, len(types))
	for i, ct := range types {
		col := Column{Name: ct.Name(), DatabaseType: ct.DatabaseTypeName(), Nullable: true}
		if nullable, ok := ct.Nullable(); ok {
			col.Nullable = nullable
		}
		col.Precision, col.Scale, col.HasDecimal = ct.DecimalSize()
		cols[i] = col
	}
	return cols
}

// ColumnType maps a database column to a schema type. Driver type names of
// MySQL, PostgreSQL (pgx) and Snowflake are recognised; anything else is
// read as text.
func ColumnType(driver string, col Column) *schema.Type {
	t := baseType(driver, col)
	if col.Nullable {
		return t.Optional()
	}
	return t
}

func baseType(driver string, col Column) *schema.Type {
	name := strings.ToUpper(strings.TrimSpace(col.DatabaseType))
	unsigned := strings.HasPrefix(name, "UNSIGNED ")
	name = strings.TrimPrefix(name, "UNSIGNED ")

	// pgx reports arrays as the element type prefixed with an underscore
	if driver == driverPostgres && strings.HasPrefix(name, "_") {
		item := baseType(driver, Column{DatabaseType: name[1:]})
		return schema.Array(item.Optional())
	}

	switch name {
	case "BOOL", "BOOLEAN":
		return schema.Boolean()
	case "BIT":
		if col.HasDecimal || col.Precision > 1 {
			return schema.Bytes()
		}
		return schema.Boolean()
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT2", "YEAR":
		return schema.Int()
	case "INT", "INTEGER", "INT4":
		if unsigned {
			return schema.Long()
		}
		return schema.Int()
	case "BIGINT", "INT8":
		if unsigned {
			return schema.Decimal(20, 0)
		}
		return schema.Long()
	case "FLOAT", "FLOAT4":
		return schema.Float()
	case "REAL":
		// Snowflake REAL is a double
		if driver == driverPostgres {
			return schema.Float()
		}
		return schema.Double()
	case "DOUBLE", "DOUBLE PRECISION", "FLOAT8":
		return schema.Double()
	case "DECIMAL", "NUMERIC", "FIXED", "NUMBER":
		return fixedPoint(col)
	case "DATE":
		return schema.Date()
	case "TIME", "TIMETZ":
		return schema.TimeMicros()
	case "DATETIME", "TIMESTAMP", "TIMESTAMPTZ", "TIMESTAMP_NTZ", "TIMESTAMP_LTZ", "TIMESTAMP_TZ":
		return schema.TimestampMicros()
	case "JSON", "JSONB", "VARIANT", "OBJECT", "ARRAY":
		return schema.JSON()
	case "UUID":
		return schema.UUID()
	case "BYTEA", "BINARY", "VARBINARY", "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB":
		return schema.Bytes()
	}
	return schema.String()
}

// fixedPoint maps DECIMAL columns. Integers narrow enough for a long become
// longs; unconstrained numerics stay text so no digits are lost.
func fixedPoint(col Column) *schema.Type {
	if !col.HasDecimal || col.Precision <= 0 {
		return schema.String()
	}
	if col.Scale == 0 && col.Precision <= maxLongDigits {
		return schema.Long()
	}
	return schema.Decimal(int(col.Precision), int(col.Scale))
}

// SchemaFromColumns builds the schema of a result set. Column names are
// sanitized; duplicates get a numeric suffix.
func SchemaFromColumns(name, driver string, cols []Column) *schema.Schema {
	fields := make([]*schema.Field, 0, len(cols))
	seen := make(map[string]int, len(cols))
	for _, col := range cols {
		fieldName := schema.SanitizeName(col.Name)
		if n := seen[fieldName]; n > 0 {
			seen[fieldName] = n + 1
			fieldName = fieldName + "_" + strconv.Itoa(n)
		} else {
			seen[fieldName] = 1
		}
		f := schema.NewField(fieldName, ColumnType(driver, col))
		f.Doc = col.DatabaseType
		fields = append(fields, f)
	}
	return schema.New(schema.SanitizeName(name), fields...)
}

// parseArrayText splits PostgreSQL array text such as {1,2,"a b",NULL}
// into its elements. Nested arrays are returned as their text.
func parseArrayText(s string) ([]any, bool) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return nil, false
	}
	body := s[1 : len(s)-1]
	items := []any{}
	if body == "" {
		return items, true
	}

	var cur strings.Builder
	quoted, wasQuoted, depth := false, false, 0
	flush := func() {
		v := cur.String()
		if !wasQuoted && strings.EqualFold(v, "NULL") {
			items = append(items, nil)
		} else {
			items = append(items, v)
		}
		cur.Reset()
		wasQuoted = false
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case quoted && c == '\\' && i+1 < len(body):
			i++
			cur.WriteByte(body[i])
		case c == '"' && depth == 0:
			quoted = !quoted
			wasQuoted = true
		case quoted:
			cur.WriteByte(c)
		case c == '{':
			depth++
			cur.WriteByte(c)
		case c == '}':
			depth--
			cur.WriteByte(c)
		case c == ',' && depth == 0:
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	if quoted || depth != 0 {
		return nil, false
	}
	flush()
	return items, true
}
