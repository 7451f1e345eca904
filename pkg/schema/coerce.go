package schema

import (
	"database/sql/driver"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/json"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// jsonNumber matches both goccy and encoding/json numbers
type jsonNumber interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}

// coercer converts loosely typed values into canonical ones. In JSON mode
// the input is a decoded JSON document: bytes arrive as base64 text and json
// typed values arrive decoded.
type coercer struct {
	jsonMode bool
}

// Coerce converts v into the canonical value for t. nil is accepted only
// when t is nullable.
func Coerce(t *Type, v any) (any, error) {
	return coercer{}.coerce("", t, v)
}

// CoerceJSON converts a decoded JSON value into the canonical value for t
func CoerceJSON(t *Type, v any) (any, error) {
	return coercer{jsonMode: true}.coerce("", t, v)
}

// CoerceRecord coerces a whole record against s. The result holds every
// field of s; keys not in s are rejected.
func CoerceRecord(s *Schema, data map[string]any) (map[string]any, error) {
	return coercer{}.record("", s.Fields, data)
}

// CoerceRecordJSON is CoerceRecord for decoded JSON documents
func CoerceRecordJSON(s *Schema, data map[string]any) (map[string]any, error) {
	return coercer{jsonMode: true}.record("", s.Fields, data)
}

func conversionError(path string, t *Type, v any, reason string) error {
	if path == "" {
		path = "$"
	}
	return errors.Newf(errors.ErrorTypeConversion, "%s: cannot convert %T to %s: %s", path, v, t, reason).
		At(path)
}

func (c coercer) coerce(path string, t *Type, v any) (any, error) {
	// a typed nil Valuer is null; calling Value on it would panic
	if valuer, ok := v.(driver.Valuer); ok && !isNilPointer(v) {
		dv, err := valuer.Value()
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConversion, "%s: reading driver value", path)
		}
		v = dv
	}
	if v == nil || isNilPointer(v) {
		if t.Nullable {
			return nil, nil
		}
		return nil, errors.Newf(errors.ErrorTypeConversion, "%s: null value for non-nullable %s", displayPath(path), t).
			At(displayPath(path))
	}
	v = deref(v)

	switch t.Logical {
	case LogicalDate:
		return c.date(path, t, v)
	case LogicalTimeMillis, LogicalTimeMicros:
		return c.timeOfDay(path, t, v)
	case LogicalTimestampMillis, LogicalTimestampMicros:
		return c.timestamp(path, t, v)
	case LogicalDecimal:
		return c.decimal(path, t, v)
	case LogicalUUID:
		return c.uuid(path, t, v)
	case LogicalJSON:
		return c.json(path, t, v)
	}

	switch t.Kind {
	case KindBoolean:
		return c.boolean(path, t, v)
	case KindInt:
		n, err := toInt64(v)
		if err != nil {
			return nil, conversionError(path, t, v, err.Error())
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, conversionError(path, t, v, "value overflows int")
		}
		return int32(n), nil
	case KindLong:
		n, err := toInt64(v)
		if err != nil {
			return nil, conversionError(path, t, v, err.Error())
		}
		return n, nil
	case KindFloat:
		f, err := toFloat64(v)
		if err != nil {
			return nil, conversionError(path, t, v, err.Error())
		}
		if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Abs(f) > math.MaxFloat32 {
			return nil, conversionError(path, t, v, "value overflows float")
		}
		return float32(f), nil
	case KindDouble:
		f, err := toFloat64(v)
		if err != nil {
			return nil, conversionError(path, t, v, err.Error())
		}
		return f, nil
	case KindString:
		return c.string(path, t, v)
	case KindBytes:
		return c.bytes(path, t, v)
	case KindRecord:
		m, fromText, err := c.asMap(path, t, v)
		if err != nil {
			return nil, err
		}
		if fromText {
			c.jsonMode = true
		}
		return c.record(path, t.Fields, m)
	case KindArray:
		return c.array(path, t, v)
	case KindMap:
		return c.mapValue(path, t, v)
	}
	return nil, conversionError(path, t, v, "unknown kind")
}

func displayPath(path string) string {
	if path == "" {
		return "$"
	}
	return path
}

func isNilPointer(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		// empty slices and maps are values, only typed nils are null
		return rv.IsNil() && rv.Kind() != reflect.Slice && rv.Kind() != reflect.Map
	}
	return false
}

// deref unwraps pointers to non-big values (e.g. *string from SQL scans)
func deref(v any) any {
	switch v.(type) {
	case *big.Rat, *big.Int, *big.Float:
		return v
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr && !rv.IsNil() {
		rv = rv.Elem()
	}
	return rv.Interface()
}

func (c coercer) record(path string, fields []*Field, data map[string]any) (map[string]any, error) {
	if unknown := unknownKeys(fields, data); len(unknown) > 0 {
		return nil, errors.Newf(errors.ErrorTypeConversion, "%s: unknown fields %s", displayPath(path), strings.Join(unknown, ", ")).
			At(displayPath(path))
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		val, err := c.coerce(join(path, f.Name), f.Type, data[f.Name])
		if err != nil {
			return nil, err
		}
		out[f.Name] = val
	}
	return out, nil
}

func unknownKeys(fields []*Field, data map[string]any) []string {
	known := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		known[f.Name] = struct{}{}
	}
	var unknown []string
	for k := range data {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, strconv.Quote(k))
		}
	}
	sort.Strings(unknown)
	return unknown
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// asMap accepts map[string]any, any string-keyed map type and JSON object
// text. fromText reports the latter, whose nested values are JSON decoded.
func (c coercer) asMap(path string, t *Type, v any) (m map[string]any, fromText bool, err error) {
	switch x := v.(type) {
	case map[string]any:
		return x, false, nil
	case string, []byte:
		decoded, err := decodeJSONText(v)
		if err != nil {
			return nil, false, conversionError(path, t, v, err.Error())
		}
		if dm, ok := decoded.(map[string]any); ok {
			return dm, true, nil
		}
		return nil, false, conversionError(path, t, v, "JSON text is not an object")
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false, conversionError(path, t, v, "expected a string-keyed map")
	}
	m = make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		m[iter.Key().String()] = iter.Value().Interface()
	}
	return m, false, nil
}

func (c coercer) array(path string, t *Type, v any) (any, error) {
	var items []any
	switch a := v.(type) {
	case []any:
		items = a
	case string, []byte:
		decoded, err := decodeJSONText(v)
		if err != nil {
			return nil, conversionError(path, t, v, err.Error())
		}
		da, ok := decoded.([]any)
		if !ok {
			return nil, conversionError(path, t, v, "JSON text is not an array")
		}
		items = da
		c.jsonMode = true
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return nil, conversionError(path, t, v, "expected a list")
		}
		items = make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
	}
	out := make([]any, len(items))
	for i, item := range items {
		val, err := c.coerce(fmt.Sprintf("%s[%d]", displayPath(path), i), t.Items, item)
		if err != nil {
			return nil, err
		}
		out[i] = val
	}
	return out, nil
}

func (c coercer) mapValue(path string, t *Type, v any) (any, error) {
	m, fromText, err := c.asMap(path, t, v)
	if err != nil {
		return nil, err
	}
	if fromText {
		c.jsonMode = true
	}
	out := make(map[string]any, len(m))
	for k, item := range m {
		val, err := c.coerce(fmt.Sprintf("%s[%q]", displayPath(path), k), t.Values, item)
		if err != nil {
			return nil, err
		}
		out[k] = val
	}
	return out, nil
}

func decodeJSONText(v any) (any, error) {
	var data []byte
	switch s := v.(type) {
	case string:
		data = []byte(s)
	case []byte:
		data = s
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("invalid JSON text: %w", err)
	}
	return decoded, nil
}

func (c coercer) boolean(path string, t *Type, v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		if parsed, ok := ParseBool(b); ok {
			return parsed, nil
		}
		return nil, conversionError(path, t, v, fmt.Sprintf("%q is not a boolean", b))
	case []byte:
		if parsed, ok := ParseBool(string(b)); ok {
			return parsed, nil
		}
		return nil, conversionError(path, t, v, fmt.Sprintf("%q is not a boolean", b))
	}
	if n, err := toInt64(v); err == nil {
		switch n {
		case 0:
			return false, nil
		case 1:
			return true, nil
		}
	}
	return nil, conversionError(path, t, v, "not a boolean")
}

// ParseBool accepts true/false, 1/0, yes/no, t/f and y/n in any case
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "t", "y":
		return true, true
	case "false", "0", "no", "f", "n":
		return false, true
	}
	return false, false
}

func (c coercer) string(path string, t *Type, v any) (any, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case bool:
		return strconv.FormatBool(s), nil
	case time.Time:
		return s.UTC().Format(time.RFC3339Nano), nil
	case time.Duration:
		return FormatTimeOfDay(s), nil
	case *big.Rat:
		return strings.TrimRight(strings.TrimRight(s.FloatString(MaxDecimalPrecision), "0"), "."), nil
	case float32:
		return strconv.FormatFloat(float64(s), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(s, 'g', -1, 64), nil
	case jsonNumber:
		return s.String(), nil
	case fmt.Stringer:
		return s.String(), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.String:
		return rv.String(), nil
	}
	return nil, conversionError(path, t, v, "not a scalar")
}

func (c coercer) bytes(path string, t *Type, v any) (any, error) {
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		if c.jsonMode {
			decoded, err := base64.StdEncoding.DecodeString(b)
			if err != nil {
				return nil, conversionError(path, t, v, "invalid base64")
			}
			return decoded, nil
		}
		return []byte(b), nil
	}
	return nil, conversionError(path, t, v, "not bytes")
}

func (c coercer) uuid(path string, t *Type, v any) (any, error) {
	var s string
	switch u := v.(type) {
	case string:
		s = u
	case []byte:
		if len(u) == 16 {
			s = formatUUID(u)
		} else {
			s = string(u)
		}
	case [16]byte:
		s = formatUUID(u[:])
	case fmt.Stringer:
		s = u.String()
	default:
		return nil, conversionError(path, t, v, "not a uuid")
	}
	if !uuidPattern.MatchString(s) {
		return nil, conversionError(path, t, v, fmt.Sprintf("%q is not a uuid", s))
	}
	return strings.ToLower(s), nil
}

func formatUUID(b []byte) string {
	h := hex.EncodeToString(b)
	return h[0:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:32]
}

func (c coercer) json(path string, t *Type, v any) (any, error) {
	if !c.jsonMode {
		switch s := v.(type) {
		case string:
			if json.Valid([]byte(s)) {
				return s, nil
			}
		case []byte:
			if json.Valid(s) {
				return string(s), nil
			}
		case json.RawMessage:
			return string(s), nil
		}
	}
	data, err := json.Marshal(jsonFriendly(v))
	if err != nil {
		return nil, conversionError(path, t, v, err.Error())
	}
	return string(data), nil
}

// jsonFriendly replaces values whose default JSON encoding is unhelpful
func jsonFriendly(v any) any {
	switch x := v.(type) {
	case *big.Rat:
		return json.Number(strings.TrimRight(strings.TrimRight(x.FloatString(MaxDecimalPrecision), "0"), "."))
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return FormatTimeOfDay(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, item := range x {
			out[k] = jsonFriendly(item)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = jsonFriendly(item)
		}
		return out
	}
	return v
}

func (c coercer) date(path string, t *Type, v any) (any, error) {
	switch d := v.(type) {
	case time.Time:
		return TruncateDate(d), nil
	case string:
		if parsed, ok := ParseDate(d); ok {
			return parsed, nil
		}
		return nil, conversionError(path, t, v, fmt.Sprintf("%q is not a date", d))
	case []byte:
		if parsed, ok := ParseDate(string(d)); ok {
			return parsed, nil
		}
		return nil, conversionError(path, t, v, fmt.Sprintf("%q is not a date", d))
	}
	n, err := toInt64(v)
	if err != nil {
		return nil, conversionError(path, t, v, "expected a date, date text or days since epoch")
	}
	return DateFromDays(n), nil
}

func (c coercer) timeOfDay(path string, t *Type, v any) (any, error) {
	unit := TimestampUnit(t.Logical)
	var d time.Duration
	switch x := v.(type) {
	case time.Duration:
		d = x
	case time.Time:
		d = TimeOfDay(x)
	case string, []byte:
		s := fmt.Sprintf("%s", x)
		parsed, ok := ParseTimeOfDay(s)
		if !ok {
			return nil, conversionError(path, t, v, fmt.Sprintf("%q is not a time of day", s))
		}
		d = parsed
	default:
		n, err := toInt64(v)
		if err != nil {
			return nil, conversionError(path, t, v, "expected a time, time text or count since midnight")
		}
		d = time.Duration(n) * unit
	}
	if d < 0 || d >= Day {
		return nil, conversionError(path, t, v, "time of day out of range")
	}
	return d.Truncate(unit), nil
}

func (c coercer) timestamp(path string, t *Type, v any) (any, error) {
	unit := TimestampUnit(t.Logical)
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Truncate(unit), nil
	case string, []byte:
		s := fmt.Sprintf("%s", x)
		parsed, ok := ParseTimestamp(s)
		if !ok {
			return nil, conversionError(path, t, v, fmt.Sprintf("%q is not a timestamp", s))
		}
		return parsed.Truncate(unit), nil
	}
	n, err := toInt64(v)
	if err != nil {
		return nil, conversionError(path, t, v, "expected a time, timestamp text or epoch count")
	}
	if unit == time.Millisecond {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.UnixMicro(n).UTC(), nil
}

func (c coercer) decimal(path string, t *Type, v any) (any, error) {
	r, err := toRat(v)
	if err != nil {
		return nil, conversionError(path, t, v, err.Error())
	}
	fitted, err := FitDecimal(r, t.Precision, t.Scale)
	if err != nil {
		return nil, conversionError(path, t, v, err.Error())
	}
	return fitted, nil
}

func toRat(v any) (*big.Rat, error) {
	switch x := v.(type) {
	case *big.Rat:
		return x, nil
	case *big.Int:
		return new(big.Rat).SetInt(x), nil
	case *big.Float:
		r, _ := x.Rat(nil)
		if r == nil {
			return nil, fmt.Errorf("infinite value")
		}
		return r, nil
	case float32:
		return ratFromString(strconv.FormatFloat(float64(x), 'f', -1, 32))
	case float64:
		if math.IsInf(x, 0) || math.IsNaN(x) {
			return nil, fmt.Errorf("non-finite value")
		}
		return ratFromString(strconv.FormatFloat(x, 'f', -1, 64))
	case string:
		return ratFromString(x)
	case []byte:
		return ratFromString(string(x))
	case jsonNumber:
		return ratFromString(x.String())
	}
	n, err := toInt64(v)
	if err != nil {
		return nil, fmt.Errorf("not a number")
	}
	return new(big.Rat).SetInt64(n), nil
}

func ratFromString(s string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return nil, fmt.Errorf("%q is not a number", s)
	}
	return r, nil
}

// toInt64 converts any integral number. Fractions and out of range values
// are rejected.
func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, fmt.Errorf("value overflows long")
		}
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("value overflows long")
		}
		return int64(x), nil
	case float32:
		return floatToInt64(float64(x))
	case float64:
		return floatToInt64(x)
	case *big.Int:
		if !x.IsInt64() {
			return 0, fmt.Errorf("value overflows long")
		}
		return x.Int64(), nil
	case *big.Rat:
		if !x.IsInt() {
			return 0, fmt.Errorf("fractional value")
		}
		return toInt64(x.Num())
	case string:
		return parseInt64(x)
	case []byte:
		return parseInt64(string(x))
	case jsonNumber:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		return parseInt64(x.String())
	case bool:
		return 0, fmt.Errorf("boolean is not a number")
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if rv.Uint() > math.MaxInt64 {
			return 0, fmt.Errorf("value overflows long")
		}
		return int64(rv.Uint()), nil
	}
	return 0, fmt.Errorf("not a number")
}

func parseInt64(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	return toInt64(r)
}

func floatToInt64(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite value")
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("fractional value")
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("value overflows long")
	}
	return int64(f), nil
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
	case jsonNumber:
		return x.Float64()
	case *big.Rat:
		f, _ := x.Float64()
		return f, nil
	case *big.Float:
		f, _ := x.Float64()
		return f, nil
	case *big.Int:
		f, _ := new(big.Float).SetInt(x).Float64()
		return f, nil
	case bool:
		return 0, fmt.Errorf("boolean is not a number")
	}
	n, err := toInt64(v)
	if err != nil {
		return 0, err
	}
	return float64(n), nil
}
