// Package avro converts between recordbridge schemas and Avro, and reads and
// writes Avro object container files and single-datum messages.
package avro

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	jsonpool "github.com/ajitpratap0/recordbridge/pkg/json"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// Logical type annotations that are not part of the Avro specification but
// are carried on the wire so recordbridge can restore them.
const (
	logicalJSON = "json"
)

// mapping is the result of converting a schema: the Avro schema itself and
// the full name assigned to every record type, which goavro needs to name
// union branches.
type mapping struct {
	avro  map[string]any
	names map[*schema.Type]string
}

// ToAvro converts s into an Avro record schema. Nested records get unique
// names, nullable types become ["null", T] unions with a null default.
func ToAvro(s *schema.Schema) (map[string]any, error) {
	m, err := newMapping(s)
	if err != nil {
		return nil, err
	}
	return m.avro, nil
}

// ToAvroJSON returns the Avro schema of s as JSON text
func ToAvroJSON(s *schema.Schema) (string, error) {
	m, err := newMapping(s)
	if err != nil {
		return "", err
	}
	return m.json()
}

func (m *mapping) json() (string, error) {
	data, err := jsonpool.Marshal(m.avro)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeSchema, "encoding avro schema")
	}
	return string(data), nil
}

type schemaBuilder struct {
	namespace string
	used      map[string]int
	names     map[*schema.Type]string
}

func newMapping(s *schema.Schema) (*mapping, error) {
	if s == nil {
		return nil, errors.New(errors.ErrorTypeSchema, "schema is required")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	b := &schemaBuilder{
		namespace: s.Namespace,
		used:      make(map[string]int),
		names:     make(map[*schema.Type]string),
	}
	b.reserve(s.Name)

	root := map[string]any{
		"type":   "record",
		"name":   s.Name,
		"fields": b.fields(s.Fields),
	}
	if s.Namespace != "" {
		root["namespace"] = s.Namespace
	}
	if s.Doc != "" {
		root["doc"] = s.Doc
	}
	return &mapping{avro: root, names: b.names}, nil
}

// reserve claims a record name, suffixing it with a counter when it is
// taken already
func (b *schemaBuilder) reserve(name string) string {
	name = schema.SanitizeName(name)
	n := b.used[name]
	b.used[name] = n + 1
	if n == 0 {
		return name
	}
	for {
		candidate := name + "_" + strconv.Itoa(n+1)
		if b.used[candidate] == 0 {
			b.used[candidate] = 1
			return candidate
		}
		n++
	}
}

func (b *schemaBuilder) fullName(name string) string {
	if b.namespace == "" {
		return name
	}
	return b.namespace + "." + name
}

func (b *schemaBuilder) fields(fields []*schema.Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		field := map[string]any{
			"name": f.Name,
			"type": b.typeOf(f.Type, f.Name),
		}
		if f.Type.Nullable {
			field["default"] = nil
		}
		if f.Doc != "" {
			field["doc"] = f.Doc
		}
		out = append(out, field)
	}
	return out
}

// typeOf converts t. hint names a nested record that has no name of its own.
func (b *schemaBuilder) typeOf(t *schema.Type, hint string) any {
	base := b.required(t, hint)
	if t.Nullable {
		return []any{"null", base}
	}
	return base
}

func (b *schemaBuilder) required(t *schema.Type, hint string) any {
	switch t.Logical {
	case schema.LogicalDecimal:
		return map[string]any{
			"type":        "bytes",
			"logicalType": string(schema.LogicalDecimal),
			"precision":   t.Precision,
			"scale":       t.Scale,
		}
	case schema.LogicalNone:
	default:
		return map[string]any{
			"type":        string(t.Kind),
			"logicalType": string(t.Logical),
		}
	}

	switch t.Kind {
	case schema.KindRecord:
		name := t.Name
		if name == "" {
			name = hint
		}
		name = b.reserve(name)
		b.names[t] = b.fullName(name)
		return map[string]any{
			"type":   "record",
			"name":   name,
			"fields": b.fields(t.Fields),
		}
	case schema.KindArray:
		return map[string]any{"type": "array", "items": b.typeOf(t.Items, hint+"_item")}
	case schema.KindMap:
		return map[string]any{"type": "map", "values": b.typeOf(t.Values, hint+"_value")}
	default:
		return string(t.Kind)
	}
}

// FromAvro converts an Avro record schema (JSON text) into a schema.
// Named types may be referenced after their definition. Unions must have at
// most one non-null branch.
func FromAvro(data []byte) (*schema.Schema, error) {
	var root any
	if err := jsonpool.Unmarshal(data, &root); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "parsing avro schema")
	}
	p := &parser{named: make(map[string]*schema.Type)}
	t, err := p.parse(root, "")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "converting avro schema")
	}
	if t.Kind != schema.KindRecord || t.Nullable {
		return nil, errors.Newf(errors.ErrorTypeSchema, "avro schema must be a record, got %s", t)
	}

	obj := root.(map[string]any)
	name, namespace := splitName(str(obj, "name"), str(obj, "namespace"))
	s := schema.FromRecordType(name, t)
	s.Namespace = namespace
	s.Doc = str(obj, "doc")
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

type parser struct {
	named map[string]*schema.Type
}

var primitives = map[string]func() *schema.Type{
	"boolean": schema.Boolean,
	"int":     schema.Int,
	"long":    schema.Long,
	"float":   schema.Float,
	"double":  schema.Double,
	"string":  schema.String,
	"bytes":   schema.Bytes,
}

func (p *parser) parse(v any, namespace string) (*schema.Type, error) {
	switch t := v.(type) {
	case string:
		return p.reference(t, namespace)
	case []any:
		return p.union(t, namespace)
	case map[string]any:
		return p.complex(t, namespace)
	}
	return nil, fmt.Errorf("unexpected avro type %v", v)
}

func (p *parser) reference(name, namespace string) (*schema.Type, error) {
	if name == "null" {
		return nil, fmt.Errorf("null is only supported as a union branch")
	}
	if newType, ok := primitives[name]; ok {
		return newType(), nil
	}
	candidates := []string{name}
	if !strings.Contains(name, ".") && namespace != "" {
		candidates = []string{namespace + "." + name, name}
	}
	for _, c := range candidates {
		if t, ok := p.named[c]; ok {
			return t.Clone(), nil
		}
	}
	return nil, fmt.Errorf("unknown avro type %q", name)
}

func (p *parser) union(branches []any, namespace string) (*schema.Type, error) {
	var (
		nullable bool
		value    any
		count    int
	)
	for _, b := range branches {
		if b == "null" {
			nullable = true
			continue
		}
		value = b
		count++
	}
	switch {
	case count == 0:
		return nil, fmt.Errorf("union has no non-null branch")
	case count > 1:
		return nil, fmt.Errorf("unions with %d non-null branches are not supported", count)
	}
	t, err := p.parse(value, namespace)
	if err != nil {
		return nil, err
	}
	if nullable {
		t = t.Optional()
	}
	return t, nil
}

func (p *parser) complex(obj map[string]any, namespace string) (*schema.Type, error) {
	typ := obj["type"]
	name, ok := typ.(string)
	if !ok {
		// {"type": {...}} or {"type": [...]}
		return p.parse(typ, namespace)
	}
	logical := str(obj, "logicalType")

	switch name {
	case "record", "error":
		return p.record(obj, namespace)
	case "enum":
		t := schema.String()
		return t, p.define(obj, namespace, t)
	case "fixed":
		t := schema.Bytes()
		if logical == string(schema.LogicalDecimal) {
			var err error
			if t, err = decimal(obj); err != nil {
				return nil, err
			}
		}
		return t, p.define(obj, namespace, t)
	case "array":
		items, err := p.parse(obj["items"], namespace)
		if err != nil {
			return nil, fmt.Errorf("array items: %w", err)
		}
		return schema.Array(items), nil
	case "map":
		values, err := p.parse(obj["values"], namespace)
		if err != nil {
			return nil, fmt.Errorf("map values: %w", err)
		}
		return schema.Map(values), nil
	}

	base, err := p.reference(name, namespace)
	if err != nil {
		return nil, err
	}
	if logical == "" {
		return base, nil
	}
	return annotate(base, logical, obj)
}

// annotate applies a logicalType to a primitive. Annotations that do not
// apply to the primitive are ignored, as Avro readers must.
func annotate(base *schema.Type, logical string, obj map[string]any) (*schema.Type, error) {
	switch {
	case base.Kind == schema.KindInt && logical == "date":
		return schema.Date(), nil
	case base.Kind == schema.KindInt && logical == "time-millis":
		return schema.TimeMillis(), nil
	case base.Kind == schema.KindLong && logical == "time-micros":
		return schema.TimeMicros(), nil
	case base.Kind == schema.KindLong && (logical == "timestamp-millis" || logical == "local-timestamp-millis"):
		return schema.TimestampMillis(), nil
	case base.Kind == schema.KindLong && (logical == "timestamp-micros" || logical == "local-timestamp-micros"):
		return schema.TimestampMicros(), nil
	case base.Kind == schema.KindBytes && logical == "decimal":
		return decimal(obj)
	case base.Kind == schema.KindString && logical == "uuid":
		return schema.UUID(), nil
	case base.Kind == schema.KindString && logical == logicalJSON:
		return schema.JSON(), nil
	}
	return base, nil
}

func decimal(obj map[string]any) (*schema.Type, error) {
	precision, ok := number(obj["precision"])
	if !ok {
		return nil, fmt.Errorf("decimal without precision")
	}
	scale, _ := number(obj["scale"])
	return schema.Decimal(precision, scale), nil
}

func (p *parser) record(obj map[string]any, namespace string) (*schema.Type, error) {
	name, ns := splitName(str(obj, "name"), str(obj, "namespace"))
	if name == "" {
		return nil, fmt.Errorf("record without a name")
	}
	if ns == "" {
		ns = namespace
	}
	raw, ok := obj["fields"].([]any)
	if !ok {
		return nil, fmt.Errorf("record %q has no fields", name)
	}

	fields := make([]*schema.Field, 0, len(raw))
	for i, r := range raw {
		f, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record %q field %d is not an object", name, i)
		}
		fname := str(f, "name")
		ft, err := p.parse(f["type"], ns)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, fname, err)
		}
		field := schema.NewField(fname, ft)
		field.Doc = str(f, "doc")
		fields = append(fields, field)
	}

	t := schema.Record(name, fields...)
	p.named[qualify(name, ns)] = t
	return t, nil
}

func (p *parser) define(obj map[string]any, namespace string, t *schema.Type) error {
	name, ns := splitName(str(obj, "name"), str(obj, "namespace"))
	if name == "" {
		return fmt.Errorf("named type without a name")
	}
	if ns == "" {
		ns = namespace
	}
	p.named[qualify(name, ns)] = t
	return nil
}

// splitName separates a full name into its short name and namespace
func splitName(name, namespace string) (string, string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:], name[:i]
	}
	return name, namespace
}

func qualify(name, namespace string) string {
	if namespace == "" {
		return name
	}
	return namespace + "." + name
}

func str(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func number(v any) (int, bool) {
	switch n := v.(type) {
	case jsonpool.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
