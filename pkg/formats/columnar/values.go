package columnar

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/decimal128"

	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// appendValue appends a canonical value to b. v must already be coerced to t.
func appendValue(b array.Builder, t *schema.Type, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}

	switch bb := b.(type) {
	case *array.BooleanBuilder:
		bb.Append(v.(bool))
	case *array.Int32Builder:
		bb.Append(v.(int32))
	case *array.Int64Builder:
		bb.Append(v.(int64))
	case *array.Float32Builder:
		bb.Append(v.(float32))
	case *array.Float64Builder:
		bb.Append(v.(float64))
	case *array.StringBuilder:
		bb.Append(v.(string))
	case *array.BinaryBuilder:
		bb.Append(v.([]byte))
	case *array.Date32Builder:
		bb.Append(arrow.Date32(schema.DaysSinceEpoch(v.(time.Time))))
	case *array.Time32Builder:
		bb.Append(arrow.Time32(v.(time.Duration) / time.Millisecond))
	case *array.Time64Builder:
		bb.Append(arrow.Time64(v.(time.Duration) / time.Microsecond))
	case *array.TimestampBuilder:
		ts := v.(time.Time)
		if t.Logical == schema.LogicalTimestampMillis {
			bb.Append(arrow.Timestamp(ts.UnixMilli()))
		} else {
			bb.Append(arrow.Timestamp(ts.UnixMicro()))
		}
	case *array.Decimal128Builder:
		bb.Append(decimal128.FromBigInt(schema.DecimalUnscaled(v.(*big.Rat), t.Scale)))
	case *array.StructBuilder:
		m := v.(map[string]any)
		bb.Append(true)
		for i, f := range t.Fields {
			if err := appendValue(bb.FieldBuilder(i), f.Type, m[f.Name]); err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
		}
	case *array.MapBuilder:
		m := v.(map[string]any)
		bb.Append(true)
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kb := bb.KeyBuilder().(*array.StringBuilder)
		for _, k := range keys {
			kb.Append(k)
			if err := appendValue(bb.ItemBuilder(), t.Values, m[k]); err != nil {
				return fmt.Errorf("[%q]: %w", k, err)
			}
		}
	case *array.ListBuilder:
		items := v.([]any)
		bb.Append(true)
		for i, item := range items {
			if err := appendValue(bb.ValueBuilder(), t.Items, item); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unsupported arrow builder %T", b)
	}
	return nil
}

type stringArray interface {
	Value(i int) string
}

type binaryArray interface {
	Value(i int) []byte
}

// valueAt extracts row i of arr as a value of t. The result is close to
// canonical; callers coerce it to normalize units and widths.
func valueAt(arr arrow.Array, t *schema.Type, i int) (any, error) {
	if arr.IsNull(i) {
		return nil, nil
	}

	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Int8:
		return int32(a.Value(i)), nil
	case *array.Int16:
		return int32(a.Value(i)), nil
	case *array.Int32:
		return a.Value(i), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Uint8:
		return int32(a.Value(i)), nil
	case *array.Uint16:
		return int32(a.Value(i)), nil
	case *array.Uint32:
		return int64(a.Value(i)), nil
	case *array.Uint64:
		u := a.Value(i)
		if u > math.MaxInt64 {
			return nil, fmt.Errorf("uint64 %d overflows long", u)
		}
		return int64(u), nil
	case *array.Float16:
		return a.Value(i).Float32(), nil
	case *array.Float32:
		return a.Value(i), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.Date32:
		return schema.DateFromDays(int64(a.Value(i))), nil
	case *array.Date64:
		return schema.TruncateDate(time.UnixMilli(int64(a.Value(i))).UTC()), nil
	case *array.Time32:
		unit := a.DataType().(*arrow.Time32Type).Unit
		return time.Duration(a.Value(i)) * unit.Multiplier(), nil
	case *array.Time64:
		unit := a.DataType().(*arrow.Time64Type).Unit
		return time.Duration(a.Value(i)) * unit.Multiplier(), nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit), nil
	case *array.Decimal128:
		scale := a.DataType().(*arrow.Decimal128Type).Scale
		return schema.DecimalFromUnscaled(a.Value(i).BigInt(), int(scale)), nil
	case *array.Decimal256:
		scale := a.DataType().(*arrow.Decimal256Type).Scale
		return schema.DecimalFromUnscaled(a.Value(i).BigInt(), int(scale)), nil
	case *array.Struct:
		m := make(map[string]any, len(t.Fields))
		for j, f := range t.Fields {
			v, err := valueAt(a.Field(j), f.Type, i)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			m[f.Name] = v
		}
		return m, nil
	case *array.Map:
		start, end := a.ValueOffsets(i)
		keys, ok := a.Keys().(stringArray)
		if !ok {
			return nil, fmt.Errorf("map keys are %s, not strings", a.Keys().DataType())
		}
		m := make(map[string]any, end-start)
		for j := int(start); j < int(end); j++ {
			v, err := valueAt(a.Items(), t.Values, j)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", keys.Value(j), err)
			}
			m[keys.Value(j)] = v
		}
		return m, nil
	case array.ListLike:
		start, end := a.ValueOffsets(i)
		values := a.ListValues()
		items := make([]any, 0, end-start)
		for j := int(start); j < int(end); j++ {
			v, err := valueAt(values, t.Items, j)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", j-int(start), err)
			}
			items = append(items, v)
		}
		return items, nil
	case *array.Dictionary:
		return valueAt(a.Dictionary(), t, a.GetValueIndex(i))
	case stringArray:
		return a.Value(i), nil
	case binaryArray:
		// the slice aliases the arrow buffer, which is released with the batch
		return append([]byte(nil), a.Value(i)...), nil
	}
	return nil, fmt.Errorf("unsupported arrow array %s", arr.DataType())
}
