package bigquery

import (
	"math/big"
	"sort"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// BigQuery NUMERIC holds 38 digits with at most 9 after the point;
// anything wider needs BIGNUMERIC
const (
	numericMaxPrecision = 38
	numericMaxScale     = 9
)

// Names of the fields of the records maps and nested arrays become
const (
	MapKeyField   = "key"
	MapValueField = "value"
	ListItemField = "item"
)

// ToBigQuerySchema maps a schema to a table schema. Records become RECORD
// columns, arrays become REPEATED columns and maps become repeated
// key/value records. An array of arrays wraps the inner array in a record
// with a single repeated item field since BigQuery cannot nest REPEATED
// directly.
func ToBigQuerySchema(s *schema.Schema) (bigquery.Schema, error) {
	return toFields("", s.Fields)
}

func toFields(path string, fields []*schema.Field) (bigquery.Schema, error) {
	out := make(bigquery.Schema, 0, len(fields))
	for _, f := range fields {
		fs, err := toField(join(path, f.Name), f.Name, f.Type)
		if err != nil {
			return nil, err
		}
		fs.Description = f.Doc
		out = append(out, fs)
	}
	return out, nil
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func toField(path, name string, t *schema.Type) (*bigquery.FieldSchema, error) {
	switch t.Kind {
	case schema.KindArray:
		items := t.Items
		if items.Kind == schema.KindArray {
			inner, err := toField(path+"."+ListItemField, ListItemField, items)
			if err != nil {
				return nil, err
			}
			return &bigquery.FieldSchema{
				Name:     name,
				Type:     bigquery.RecordFieldType,
				Repeated: true,
				Schema:   bigquery.Schema{inner},
			}, nil
		}
		fs, err := toField(path, name, items.Required())
		if err != nil {
			return nil, err
		}
		fs.Repeated, fs.Required = true, false
		return fs, nil

	case schema.KindMap:
		value, err := toField(path+"."+MapValueField, MapValueField, t.Values)
		if err != nil {
			return nil, err
		}
		return &bigquery.FieldSchema{
			Name:     name,
			Type:     bigquery.RecordFieldType,
			Repeated: true,
			Schema: bigquery.Schema{
				{Name: MapKeyField, Type: bigquery.StringFieldType, Required: true},
				value,
			},
		}, nil

	case schema.KindRecord:
		nested, err := toFields(path, t.Fields)
		if err != nil {
			return nil, err
		}
		return &bigquery.FieldSchema{
			Name:     name,
			Type:     bigquery.RecordFieldType,
			Required: !t.Nullable,
			Schema:   nested,
		}, nil
	}

	fs := &bigquery.FieldSchema{Name: name, Required: !t.Nullable}
	switch t.Logical {
	case schema.LogicalDate:
		fs.Type = bigquery.DateFieldType
	case schema.LogicalTimeMillis, schema.LogicalTimeMicros:
		fs.Type = bigquery.TimeFieldType
	case schema.LogicalTimestampMillis, schema.LogicalTimestampMicros:
		fs.Type = bigquery.TimestampFieldType
	case schema.LogicalDecimal:
		fs.Type = bigquery.NumericFieldType
		if t.Precision > numericMaxPrecision || t.Scale > numericMaxScale ||
			t.Precision-t.Scale > numericMaxPrecision-numericMaxScale {
			fs.Type = bigquery.BigNumericFieldType
		}
		fs.Precision, fs.Scale = int64(t.Precision), int64(t.Scale)
	case schema.LogicalJSON:
		fs.Type = bigquery.JSONFieldType
	case schema.LogicalUUID:
		fs.Type = bigquery.StringFieldType
	default:
		switch t.Kind {
		case schema.KindBoolean:
			fs.Type = bigquery.BooleanFieldType
		case schema.KindInt, schema.KindLong:
			fs.Type = bigquery.IntegerFieldType
		case schema.KindFloat, schema.KindDouble:
			fs.Type = bigquery.FloatFieldType
		case schema.KindString:
			fs.Type = bigquery.StringFieldType
		case schema.KindBytes:
			fs.Type = bigquery.BytesFieldType
		default:
			return nil, errors.Newf(errors.ErrorTypeSchema, "%s: %s has no BigQuery type", path, t)
		}
	}
	return fs, nil
}

// toRow converts coerced record data into BigQuery values
func toRow(fields []*schema.Field, data map[string]any) (map[string]bigquery.Value, error) {
	row := make(map[string]bigquery.Value, len(fields))
	for _, f := range fields {
		v, err := toValue(f.Name, f.Type, data[f.Name])
		if err != nil {
			return nil, err
		}
		row[f.Name] = v
	}
	return row, nil
}

func toValue(path string, t *schema.Type, v any) (bigquery.Value, error) {
	if v == nil {
		return nil, nil
	}
	switch t.Kind {
	case schema.KindRecord:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, valueError(path, t, v)
		}
		nested := make(map[string]bigquery.Value, len(t.Fields))
		for _, f := range t.Fields {
			fv, err := toValue(path+"."+f.Name, f.Type, m[f.Name])
			if err != nil {
				return nil, err
			}
			nested[f.Name] = fv
		}
		return nested, nil

	case schema.KindArray:
		items, ok := v.([]any)
		if !ok {
			return nil, valueError(path, t, v)
		}
		out := make([]bigquery.Value, 0, len(items))
		for i, item := range items {
			if item == nil {
				return nil, errors.Newf(errors.ErrorTypeConversion, "%s[%d]: BigQuery arrays cannot hold null", path, i)
			}
			iv, err := toValue(path, t.Items, item)
			if err != nil {
				return nil, err
			}
			if t.Items.Kind == schema.KindArray {
				iv = map[string]bigquery.Value{ListItemField: iv}
			}
			out = append(out, iv)
		}
		return out, nil

	case schema.KindMap:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, valueError(path, t, v)
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]bigquery.Value, 0, len(keys))
		for _, k := range keys {
			mv, err := toValue(path+"."+k, t.Values, m[k])
			if err != nil {
				return nil, err
			}
			out = append(out, map[string]bigquery.Value{MapKeyField: k, MapValueField: mv})
		}
		return out, nil
	}

	switch t.Logical {
	case schema.LogicalDate:
		d, ok := v.(time.Time)
		if !ok {
			return nil, valueError(path, t, v)
		}
		return civil.DateOf(d), nil
	case schema.LogicalTimeMillis, schema.LogicalTimeMicros:
		d, ok := v.(time.Duration)
		if !ok {
			return nil, valueError(path, t, v)
		}
		return civil.TimeOf(time.Unix(0, 0).UTC().Add(d)), nil
	case schema.LogicalDecimal:
		r, ok := v.(*big.Rat)
		if !ok {
			return nil, valueError(path, t, v)
		}
		return r, nil
	}

	switch x := v.(type) {
	case int32:
		return int64(x), nil
	case float32:
		return float64(x), nil
	}
	return v, nil
}

func valueError(path string, t *schema.Type, v any) error {
	return errors.Newf(errors.ErrorTypeConversion, "%s: %T is not a %s value", path, v, t)
}

// missingFields returns the fields of want that have is lacks, and an
// error when a field both have differs in type
func missingFields(have, want bigquery.Schema) (bigquery.Schema, error) {
	existing := make(map[string]*bigquery.FieldSchema, len(have))
	for _, f := range have {
		existing[f.Name] = f
	}
	var missing bigquery.Schema
	for _, f := range want {
		e, ok := existing[f.Name]
		if !ok {
			missing = append(missing, f)
			continue
		}
		if e.Type != f.Type || e.Repeated != f.Repeated {
			return nil, errors.Newf(errors.ErrorTypeSchema,
				"column %s is %s in the table but %s in the records", f.Name, describe(e), describe(f))
		}
	}
	return missing, nil
}

func describe(f *bigquery.FieldSchema) string {
	if f.Repeated {
		return "REPEATED " + string(f.Type)
	}
	return string(f.Type)
}
