// Package schema defines the self-describing record model that every format
// converter and connector in recordbridge translates to and from.
//
// A Schema is a named top-level record. Each Field carries a *Type, which is a
// physical Kind (boolean, int, long, float, double, string, bytes, record,
// array, map), an optional LogicalType refining it (date, time, timestamp,
// decimal, uuid, json) and a Nullable flag. Types nest without limit: records
// hold fields, arrays hold an item type, maps hold a value type keyed by
// strings.
//
// Values travel in a canonical Go representation (see Coerce) so that each
// format only has to map canonical values onto its own native ones.
package schema

import (
	"fmt"
	"strings"
)

// Kind is the physical type of a value
type Kind string

const (
	KindBoolean Kind = "boolean"
	KindInt     Kind = "int"
	KindLong    Kind = "long"
	KindFloat   Kind = "float"
	KindDouble  Kind = "double"
	KindString  Kind = "string"
	KindBytes   Kind = "bytes"
	KindRecord  Kind = "record"
	KindArray   Kind = "array"
	KindMap     Kind = "map"
)

// LogicalType refines a physical Kind with a semantic interpretation
type LogicalType string

const (
	LogicalNone            LogicalType = ""
	LogicalDate            LogicalType = "date"
	LogicalTimeMillis      LogicalType = "time-millis"
	LogicalTimeMicros      LogicalType = "time-micros"
	LogicalTimestampMillis LogicalType = "timestamp-millis"
	LogicalTimestampMicros LogicalType = "timestamp-micros"
	LogicalDecimal         LogicalType = "decimal"
	LogicalUUID            LogicalType = "uuid"
	LogicalJSON            LogicalType = "json"
)

// MaxDecimalPrecision is the widest decimal every supported format can hold
const MaxDecimalPrecision = 38

// logicalKinds lists the physical kind each logical type annotates
var logicalKinds = map[LogicalType]Kind{
	LogicalDate:            KindInt,
	LogicalTimeMillis:      KindInt,
	LogicalTimeMicros:      KindLong,
	LogicalTimestampMillis: KindLong,
	LogicalTimestampMicros: KindLong,
	LogicalDecimal:         KindBytes,
	LogicalUUID:            KindString,
	LogicalJSON:            KindString,
}

// PhysicalKind returns the kind a logical type is carried on
func (l LogicalType) PhysicalKind() (Kind, bool) {
	k, ok := logicalKinds[l]
	return k, ok
}

// IsTemporal reports whether the logical type is a date, time or timestamp
func (l LogicalType) IsTemporal() bool {
	switch l {
	case LogicalDate, LogicalTimeMillis, LogicalTimeMicros, LogicalTimestampMillis, LogicalTimestampMicros:
		return true
	}
	return false
}

// Type describes the shape of a value
type Type struct {
	Kind      Kind        `json:"kind" yaml:"kind"`
	Logical   LogicalType `json:"logical,omitempty" yaml:"logical,omitempty"`
	Nullable  bool        `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Precision int         `json:"precision,omitempty" yaml:"precision,omitempty"`
	Scale     int         `json:"scale,omitempty" yaml:"scale,omitempty"`

	// Name optionally names a record type; format converters generate one
	// when the target type system requires it.
	Name   string   `json:"name,omitempty" yaml:"name,omitempty"`
	Fields []*Field `json:"fields,omitempty" yaml:"fields,omitempty"`
	Items  *Type    `json:"items,omitempty" yaml:"items,omitempty"`
	Values *Type    `json:"values,omitempty" yaml:"values,omitempty"`
}

// Field is a named member of a record
type Field struct {
	Name string `json:"name" yaml:"name"`
	Type *Type  `json:"type" yaml:"type"`
	Doc  string `json:"doc,omitempty" yaml:"doc,omitempty"`
}

// Schema is the top-level record describing a stream of records
type Schema struct {
	Name      string   `json:"name" yaml:"name"`
	Namespace string   `json:"namespace,omitempty" yaml:"namespace,omitempty"`
	Doc       string   `json:"doc,omitempty" yaml:"doc,omitempty"`
	Version   int      `json:"version,omitempty" yaml:"version,omitempty"`
	Fields    []*Field `json:"fields" yaml:"fields"`
}

// Primitive constructors

func Boolean() *Type { return &Type{Kind: KindBoolean} }
func Int() *Type     { return &Type{Kind: KindInt} }
func Long() *Type    { return &Type{Kind: KindLong} }
func Float() *Type   { return &Type{Kind: KindFloat} }
func Double() *Type  { return &Type{Kind: KindDouble} }
func String() *Type  { return &Type{Kind: KindString} }
func Bytes() *Type   { return &Type{Kind: KindBytes} }

func Date() *Type            { return &Type{Kind: KindInt, Logical: LogicalDate} }
func TimeMillis() *Type      { return &Type{Kind: KindInt, Logical: LogicalTimeMillis} }
func TimeMicros() *Type      { return &Type{Kind: KindLong, Logical: LogicalTimeMicros} }
func TimestampMillis() *Type { return &Type{Kind: KindLong, Logical: LogicalTimestampMillis} }
func TimestampMicros() *Type { return &Type{Kind: KindLong, Logical: LogicalTimestampMicros} }
func UUID() *Type            { return &Type{Kind: KindString, Logical: LogicalUUID} }
func JSON() *Type            { return &Type{Kind: KindString, Logical: LogicalJSON} }

// Decimal returns a fixed-point decimal type
func Decimal(precision, scale int) *Type {
	return &Type{Kind: KindBytes, Logical: LogicalDecimal, Precision: precision, Scale: scale}
}

// Record returns a record type with the given fields
func Record(name string, fields ...*Field) *Type {
	return &Type{Kind: KindRecord, Name: name, Fields: fields}
}

// Array returns an array type of items
func Array(items *Type) *Type {
	return &Type{Kind: KindArray, Items: items}
}

// Map returns a string-keyed map type of values
func Map(values *Type) *Type {
	return &Type{Kind: KindMap, Values: values}
}

// NewField builds a field
func NewField(name string, t *Type) *Field {
	return &Field{Name: name, Type: t}
}

// New builds a schema from fields
func New(name string, fields ...*Field) *Schema {
	return &Schema{Name: name, Fields: fields}
}

// Optional returns a nullable copy of t
func (t *Type) Optional() *Type {
	c := t.Clone()
	c.Nullable = true
	return c
}

// Required returns a non-nullable copy of t
func (t *Type) Required() *Type {
	c := t.Clone()
	c.Nullable = false
	return c
}

// IsPrimitive reports whether t is neither a record, array nor map
func (t *Type) IsPrimitive() bool {
	switch t.Kind {
	case KindRecord, KindArray, KindMap:
		return false
	}
	return true
}

// IsNumeric reports whether t is an integer or floating point type without
// a logical annotation
func (t *Type) IsNumeric() bool {
	if t.Logical != LogicalNone {
		return false
	}
	switch t.Kind {
	case KindInt, KindLong, KindFloat, KindDouble:
		return true
	}
	return false
}

// Field looks up a record field by name
func (t *Type) Field(name string) (*Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Clone returns a deep copy of t
func (t *Type) Clone() *Type {
	if t == nil {
		return nil
	}
	c := *t
	if t.Fields != nil {
		c.Fields = make([]*Field, len(t.Fields))
		for i, f := range t.Fields {
			c.Fields[i] = f.Clone()
		}
	}
	c.Items = t.Items.Clone()
	c.Values = t.Values.Clone()
	return &c
}

// Clone returns a deep copy of f
func (f *Field) Clone() *Field {
	if f == nil {
		return nil
	}
	return &Field{Name: f.Name, Type: f.Type.Clone(), Doc: f.Doc}
}

// String renders t in a compact notation, e.g. "array<record{a:long?}>"
func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}
	var b strings.Builder
	t.writeTo(&b)
	return b.String()
}

func (t *Type) writeTo(b *strings.Builder) {
	switch t.Kind {
	case KindRecord:
		b.WriteString("record{")
		for i, f := range t.Fields {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(f.Name)
			b.WriteString(":")
			f.Type.writeTo(b)
		}
		b.WriteString("}")
	case KindArray:
		b.WriteString("array<")
		t.Items.writeTo(b)
		b.WriteString(">")
	case KindMap:
		b.WriteString("map<")
		t.Values.writeTo(b)
		b.WriteString(">")
	default:
		switch {
		case t.Logical == LogicalDecimal:
			fmt.Fprintf(b, "decimal(%d,%d)", t.Precision, t.Scale)
		case t.Logical != LogicalNone:
			b.WriteString(string(t.Logical))
		default:
			b.WriteString(string(t.Kind))
		}
	}
	if t.Nullable {
		b.WriteString("?")
	}
}

// Equal reports whether a and b describe the same type. Record names and
// field docs are ignored.
func Equal(a, b *Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind || a.Logical != b.Logical || a.Nullable != b.Nullable {
		return false
	}
	if a.Logical == LogicalDecimal && (a.Precision != b.Precision || a.Scale != b.Scale) {
		return false
	}
	switch a.Kind {
	case KindRecord:
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for i := range a.Fields {
			if a.Fields[i].Name != b.Fields[i].Name || !Equal(a.Fields[i].Type, b.Fields[i].Type) {
				return false
			}
		}
	case KindArray:
		return Equal(a.Items, b.Items)
	case KindMap:
		return Equal(a.Values, b.Values)
	}
	return true
}

// RecordType returns the schema as a non-nullable record type. The fields
// are shared with the schema, not copied.
func (s *Schema) RecordType() *Type {
	return &Type{Kind: KindRecord, Name: s.Name, Fields: s.Fields}
}

// FromRecordType builds a schema from a record type
func FromRecordType(name string, t *Type) *Schema {
	return &Schema{Name: name, Fields: t.Fields}
}

// Field looks up a top-level field by name
func (s *Schema) Field(name string) (*Field, bool) {
	return s.RecordType().Field(name)
}

// FieldNames returns the top-level field names in order
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// FullName returns namespace.name, or name when there is no namespace
func (s *Schema) FullName() string {
	if s.Namespace == "" {
		return s.Name
	}
	return s.Namespace + "." + s.Name
}

// Clone returns a deep copy of s
func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	c := *s
	c.Fields = make([]*Field, len(s.Fields))
	for i, f := range s.Fields {
		c.Fields[i] = f.Clone()
	}
	return &c
}

// Equal reports whether two schemas have the same fields and types
func (s *Schema) Equal(other *Schema) bool {
	if s == nil || other == nil {
		return s == other
	}
	return Equal(s.RecordType(), other.RecordType())
}
