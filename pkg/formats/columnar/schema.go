package columnar

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/formats"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// Metadata keys recordbridge stores on Arrow schemas and fields
const (
	MetaLogical   = "recordbridge.logical"
	MetaName      = "recordbridge.name"
	MetaNamespace = "recordbridge.namespace"
	// MetaNested holds the nullability of every type nested in a composite
	// field, in declaration order, as a string of 0 and 1. Parquet keeps the
	// metadata of top-level fields but not the nullability of list elements
	// and map values.
	MetaNested = "recordbridge.nested_nullable"
)

// ListElement is the name of the child field of list types
const ListElement = "element"

// ToArrow converts a schema to an Arrow schema. uuid and json are Arrow
// strings whose field metadata names the logical type; the schema name is
// kept in the schema metadata.
func ToArrow(s *schema.Schema) (*arrow.Schema, error) {
	if s == nil {
		return nil, errors.New(errors.ErrorTypeSchema, "schema is required")
	}
	fields := make([]arrow.Field, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = arrowField(f.Name, f.Type)
		var nested strings.Builder
		nestedNullability(f.Type, &nested)
		if nested.Len() > 0 {
			fields[i].Metadata = arrow.NewMetadata([]string{MetaNested}, []string{nested.String()})
		}
	}
	keys := []string{MetaName}
	values := []string{s.Name}
	if s.Namespace != "" {
		keys = append(keys, MetaNamespace)
		values = append(values, s.Namespace)
	}
	md := arrow.NewMetadata(keys, values)
	return arrow.NewSchema(fields, &md), nil
}

func arrowField(name string, t *schema.Type) arrow.Field {
	f := arrow.Field{Name: name, Type: arrowType(t), Nullable: t.Nullable}
	if t.Logical == schema.LogicalUUID || t.Logical == schema.LogicalJSON {
		f.Metadata = arrow.NewMetadata([]string{MetaLogical}, []string{string(t.Logical)})
	}
	return f
}

func arrowType(t *schema.Type) arrow.DataType {
	switch t.Logical {
	case schema.LogicalDate:
		return arrow.FixedWidthTypes.Date32
	case schema.LogicalTimeMillis:
		return arrow.FixedWidthTypes.Time32ms
	case schema.LogicalTimeMicros:
		return arrow.FixedWidthTypes.Time64us
	case schema.LogicalTimestampMillis:
		return &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}
	case schema.LogicalTimestampMicros:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	case schema.LogicalDecimal:
		return &arrow.Decimal128Type{Precision: int32(t.Precision), Scale: int32(t.Scale)}
	}

	switch t.Kind {
	case schema.KindBoolean:
		return arrow.FixedWidthTypes.Boolean
	case schema.KindInt:
		return arrow.PrimitiveTypes.Int32
	case schema.KindLong:
		return arrow.PrimitiveTypes.Int64
	case schema.KindFloat:
		return arrow.PrimitiveTypes.Float32
	case schema.KindDouble:
		return arrow.PrimitiveTypes.Float64
	case schema.KindBytes:
		return arrow.BinaryTypes.Binary
	case schema.KindRecord:
		fields := make([]arrow.Field, len(t.Fields))
		for i, f := range t.Fields {
			fields[i] = arrowField(f.Name, f.Type)
		}
		return arrow.StructOf(fields...)
	case schema.KindArray:
		return arrow.ListOfField(arrowField(ListElement, t.Items))
	case schema.KindMap:
		item := arrowField("value", t.Values)
		m := arrow.MapOfWithMetadata(arrow.BinaryTypes.String, arrow.Metadata{}, item.Type, item.Metadata)
		m.SetItemNullable(t.Values.Nullable)
		return m
	default:
		return arrow.BinaryTypes.String
	}
}

// FromArrow converts an Arrow schema, including ones recordbridge did not
// write: narrower integers widen to int or long, second and nanosecond
// timestamps map to the nearest supported unit and dictionaries decode to
// their value type.
func FromArrow(as *arrow.Schema) (*schema.Schema, error) {
	name := formats.DefaultSchemaName
	md := as.Metadata()
	if v, ok := md.GetValue(MetaName); ok && v != "" {
		name = v
	}
	fields := make([]*schema.Field, as.NumFields())
	for i, f := range as.Fields() {
		t, err := fromArrowField(f)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeSchema, "converting arrow field %q", f.Name)
		}
		if flags, ok := f.Metadata.GetValue(MetaNested); ok {
			restoreNullability(t, flags)
		}
		fields[i] = schema.NewField(f.Name, t)
	}
	s := schema.New(name, fields...)
	s.Namespace, _ = md.GetValue(MetaNamespace)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// nestedChildren lists the types directly nested in t
func nestedChildren(t *schema.Type) []*schema.Type {
	switch t.Kind {
	case schema.KindArray:
		return []*schema.Type{t.Items}
	case schema.KindMap:
		return []*schema.Type{t.Values}
	case schema.KindRecord:
		children := make([]*schema.Type, len(t.Fields))
		for i, f := range t.Fields {
			children[i] = f.Type
		}
		return children
	}
	return nil
}

func nestedNullability(t *schema.Type, b *strings.Builder) {
	for _, c := range nestedChildren(t) {
		if c.Nullable {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
		nestedNullability(c, b)
	}
}

func countNested(t *schema.Type) int {
	n := 0
	for _, c := range nestedChildren(t) {
		n += 1 + countNested(c)
	}
	return n
}

// restoreNullability applies flags written by nestedNullability. Flags that
// do not match the shape of t, from a file edited by another tool, are
// ignored.
func restoreNullability(t *schema.Type, flags string) {
	if countNested(t) != len(flags) {
		return
	}
	var apply func(t *schema.Type)
	apply = func(t *schema.Type) {
		for _, c := range nestedChildren(t) {
			c.Nullable = flags[0] == '1'
			flags = flags[1:]
			apply(c)
		}
	}
	apply(t)
}

func fromArrowField(f arrow.Field) (*schema.Type, error) {
	t, err := fromArrowType(f.Name, f.Type)
	if err != nil {
		return nil, err
	}
	if t.Kind == schema.KindString {
		if logical, ok := f.Metadata.GetValue(MetaLogical); ok {
			switch schema.LogicalType(logical) {
			case schema.LogicalUUID:
				t = schema.UUID()
			case schema.LogicalJSON:
				t = schema.JSON()
			}
		}
	}
	// arrow's null type only holds nulls
	t.Nullable = f.Nullable || f.Type.ID() == arrow.NULL
	return t, nil
}

func fromArrowType(name string, dt arrow.DataType) (*schema.Type, error) {
	switch dt.ID() {
	case arrow.BOOL:
		return schema.Boolean(), nil
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.UINT8, arrow.UINT16:
		return schema.Int(), nil
	case arrow.INT64, arrow.UINT32, arrow.UINT64:
		return schema.Long(), nil
	case arrow.FLOAT16, arrow.FLOAT32:
		return schema.Float(), nil
	case arrow.FLOAT64:
		return schema.Double(), nil
	case arrow.STRING, arrow.LARGE_STRING, arrow.STRING_VIEW, arrow.NULL:
		return schema.String(), nil
	case arrow.BINARY, arrow.LARGE_BINARY, arrow.BINARY_VIEW, arrow.FIXED_SIZE_BINARY:
		return schema.Bytes(), nil
	case arrow.DATE32, arrow.DATE64:
		return schema.Date(), nil
	case arrow.TIME32:
		return schema.TimeMillis(), nil
	case arrow.TIME64:
		return schema.TimeMicros(), nil
	case arrow.TIMESTAMP:
		switch dt.(*arrow.TimestampType).Unit {
		case arrow.Second, arrow.Millisecond:
			return schema.TimestampMillis(), nil
		default:
			return schema.TimestampMicros(), nil
		}
	case arrow.DECIMAL128, arrow.DECIMAL256:
		d := dt.(arrow.DecimalType)
		if d.GetPrecision() > schema.MaxDecimalPrecision {
			return nil, fmt.Errorf("decimal precision %d exceeds %d", d.GetPrecision(), schema.MaxDecimalPrecision)
		}
		return schema.Decimal(int(d.GetPrecision()), int(d.GetScale())), nil
	case arrow.STRUCT:
		st := dt.(*arrow.StructType)
		fields := make([]*schema.Field, st.NumFields())
		for i, f := range st.Fields() {
			t, err := fromArrowField(f)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", name, f.Name, err)
			}
			fields[i] = schema.NewField(f.Name, t)
		}
		return schema.Record(name, fields...), nil
	case arrow.MAP:
		mt := dt.(*arrow.MapType)
		if !isStringType(mt.KeyType()) {
			return nil, fmt.Errorf("map keys must be strings, got %s", mt.KeyType())
		}
		values, err := fromArrowField(mt.ItemField())
		if err != nil {
			return nil, fmt.Errorf("%s values: %w", name, err)
		}
		return schema.Map(values), nil
	case arrow.LIST, arrow.LARGE_LIST, arrow.FIXED_SIZE_LIST:
		elem := dt.(arrow.ListLikeType).ElemField()
		items, err := fromArrowField(elem)
		if err != nil {
			return nil, fmt.Errorf("%s items: %w", name, err)
		}
		return schema.Array(items), nil
	case arrow.DICTIONARY:
		return fromArrowType(name, dt.(*arrow.DictionaryType).ValueType)
	}
	return nil, fmt.Errorf("unsupported arrow type %s", dt)
}

func isStringType(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.STRING, arrow.LARGE_STRING, arrow.STRING_VIEW:
		return true
	}
	return false
}
