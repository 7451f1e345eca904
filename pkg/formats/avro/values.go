package avro

import (
	"fmt"
	"sync"

	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// unionNames are the names goavro gives union branches. Records use their
// full name, which comes from the schema mapping.
var unionNames = map[schema.LogicalType]string{
	schema.LogicalDate:            "int.date",
	schema.LogicalTimeMillis:      "int.time-millis",
	schema.LogicalTimeMicros:      "long.time-micros",
	schema.LogicalTimestampMillis: "long.timestamp-millis",
	schema.LogicalTimestampMicros: "long.timestamp-micros",
	schema.LogicalDecimal:         "bytes.decimal",
	schema.LogicalJSON:            "string",
}

var (
	uuidOnce  sync.Once
	uuidUnion = "string"
)

// uuidUnionName returns the branch name of a uuid in a union. goavro
// versions that know the uuid logical type name it "string.uuid", older
// ones drop the annotation.
func uuidUnionName() string {
	uuidOnce.Do(func() {
		codec, err := goavro.NewCodec(`["null",{"type":"string","logicalType":"uuid"}]`)
		if err != nil {
			return
		}
		probe := "00000000-0000-0000-0000-000000000000"
		if _, err := codec.BinaryFromNative(nil, goavro.Union("string.uuid", probe)); err == nil {
			uuidUnion = "string.uuid"
		}
	})
	return uuidUnion
}

func (m *mapping) unionName(t *schema.Type) string {
	if t.Logical == schema.LogicalUUID {
		return uuidUnionName()
	}
	if name, ok := unionNames[t.Logical]; ok {
		return name
	}
	if t.Kind == schema.KindRecord {
		return m.names[t]
	}
	return string(t.Kind)
}

// toNative converts coerced record data into goavro's native form
func (m *mapping) toNative(fields []*schema.Field, data map[string]any) map[string]any {
	native := make(map[string]any, len(fields))
	for _, f := range fields {
		native[f.Name] = m.value(f.Type, data[f.Name])
	}
	return native
}

func (m *mapping) value(t *schema.Type, v any) any {
	if v == nil {
		return nil
	}
	var native any
	switch t.Kind {
	case schema.KindRecord:
		native = m.toNative(t.Fields, v.(map[string]any))
	case schema.KindArray:
		items := v.([]any)
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = m.value(t.Items, item)
		}
		native = out
	case schema.KindMap:
		entries := v.(map[string]any)
		out := make(map[string]any, len(entries))
		for k, e := range entries {
			out[k] = m.value(t.Values, e)
		}
		native = out
	default:
		// canonical primitives are what goavro expects, logical types
		// included: time.Time, time.Duration and *big.Rat
		native = v
	}
	if t.Nullable {
		return goavro.Union(m.unionName(t), native)
	}
	return native
}

// fromNative strips goavro's union wrappers from decoded data. The result
// still needs coercion: enums arrive as strings, local timestamps as numbers.
func fromNative(fields []*schema.Field, native map[string]any) (map[string]any, error) {
	data := make(map[string]any, len(fields))
	for _, f := range fields {
		v, err := unwrap(f.Type, native[f.Name])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		data[f.Name] = v
	}
	return data, nil
}

func unwrap(t *schema.Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if t.Nullable {
		branch, ok := v.(map[string]any)
		if !ok || len(branch) != 1 {
			return nil, fmt.Errorf("expected a union value, got %T", v)
		}
		for _, inner := range branch {
			v = inner
		}
		if v == nil {
			return nil, nil
		}
	}

	switch t.Kind {
	case schema.KindRecord:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected a record, got %T", v)
		}
		return fromNative(t.Fields, m)
	case schema.KindArray:
		items, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("expected an array, got %T", v)
		}
		out := make([]any, len(items))
		for i, item := range items {
			u, err := unwrap(t.Items, item)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = u
		}
		return out, nil
	case schema.KindMap:
		entries, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected a map, got %T", v)
		}
		out := make(map[string]any, len(entries))
		for k, e := range entries {
			u, err := unwrap(t.Values, e)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			out[k] = u
		}
		return out, nil
	}
	return v, nil
}
