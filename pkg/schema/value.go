package schema

import (
	"encoding/base64"
	"fmt"
	"math/big"
	"time"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/json"
)

// ValidateValue checks that v is a canonical value of type t
func ValidateValue(t *Type, v any) error {
	return validateValue("$", t, v)
}

// ValidateRecord checks every field of data against s
func ValidateRecord(s *Schema, data map[string]any) error {
	return validateValue("$", s.RecordType(), data)
}

func invalidValue(path string, t *Type, v any) error {
	return errors.Newf(errors.ErrorTypeValidation, "%s: %T is not a canonical %s value", path, v, t).
		At(path)
}

func validateValue(path string, t *Type, v any) error {
	if v == nil {
		if t.Nullable {
			return nil
		}
		return errors.Newf(errors.ErrorTypeValidation, "%s: null value for non-nullable %s", path, t).
			At(path)
	}

	switch t.Logical {
	case LogicalDate:
		d, ok := v.(time.Time)
		if !ok || d.Location() != time.UTC || !d.Equal(TruncateDate(d)) {
			return invalidValue(path, t, v)
		}
		return nil
	case LogicalTimeMillis, LogicalTimeMicros:
		d, ok := v.(time.Duration)
		if !ok || d < 0 || d >= Day {
			return invalidValue(path, t, v)
		}
		return nil
	case LogicalTimestampMillis, LogicalTimestampMicros:
		if _, ok := v.(time.Time); !ok {
			return invalidValue(path, t, v)
		}
		return nil
	case LogicalDecimal:
		r, ok := v.(*big.Rat)
		if !ok {
			return invalidValue(path, t, v)
		}
		if _, err := FitDecimal(r, t.Precision, t.Scale); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeValidation, "%s", path)
		}
		return nil
	case LogicalUUID:
		s, ok := v.(string)
		if !ok || !uuidPattern.MatchString(s) {
			return invalidValue(path, t, v)
		}
		return nil
	case LogicalJSON:
		s, ok := v.(string)
		if !ok || !json.Valid([]byte(s)) {
			return invalidValue(path, t, v)
		}
		return nil
	}

	var ok bool
	switch t.Kind {
	case KindBoolean:
		_, ok = v.(bool)
	case KindInt:
		_, ok = v.(int32)
	case KindLong:
		_, ok = v.(int64)
	case KindFloat:
		_, ok = v.(float32)
	case KindDouble:
		_, ok = v.(float64)
	case KindString:
		_, ok = v.(string)
	case KindBytes:
		_, ok = v.([]byte)
	case KindRecord:
		m, isMap := v.(map[string]any)
		if !isMap {
			return invalidValue(path, t, v)
		}
		if unknown := unknownKeys(t.Fields, m); len(unknown) > 0 {
			return errors.Newf(errors.ErrorTypeValidation, "%s: unknown fields %v", path, unknown)
		}
		for _, f := range t.Fields {
			if err := validateValue(path+"."+f.Name, f.Type, m[f.Name]); err != nil {
				return err
			}
		}
		return nil
	case KindArray:
		a, isSlice := v.([]any)
		if !isSlice {
			return invalidValue(path, t, v)
		}
		for i, item := range a {
			if err := validateValue(fmt.Sprintf("%s[%d]", path, i), t.Items, item); err != nil {
				return err
			}
		}
		return nil
	case KindMap:
		m, isMap := v.(map[string]any)
		if !isMap {
			return invalidValue(path, t, v)
		}
		for k, item := range m {
			if err := validateValue(fmt.Sprintf("%s[%q]", path, k), t.Values, item); err != nil {
				return err
			}
		}
		return nil
	}
	if !ok {
		return invalidValue(path, t, v)
	}
	return nil
}

// ToJSONValue converts a canonical value into a value whose JSON encoding is
// the text form used by NDJSON and by nested columns of flat formats.
// CoerceJSON reverses it.
func ToJSONValue(t *Type, v any) any {
	if v == nil {
		return nil
	}
	switch t.Logical {
	case LogicalDate, LogicalTimeMillis, LogicalTimeMicros, LogicalTimestampMillis, LogicalTimestampMicros:
		return FormatTemporal(t.Logical, v)
	case LogicalDecimal:
		if r, ok := v.(*big.Rat); ok {
			return json.Number(FormatDecimal(r, t.Scale))
		}
	case LogicalJSON:
		if s, ok := v.(string); ok {
			return json.RawMessage(s)
		}
	}
	switch t.Kind {
	case KindBytes:
		if b, ok := v.([]byte); ok {
			return base64.StdEncoding.EncodeToString(b)
		}
	case KindRecord:
		m, ok := v.(map[string]any)
		if !ok {
			return v
		}
		out := make(map[string]any, len(t.Fields))
		for _, f := range t.Fields {
			out[f.Name] = ToJSONValue(f.Type, m[f.Name])
		}
		return out
	case KindArray:
		a, ok := v.([]any)
		if !ok {
			return v
		}
		out := make([]any, len(a))
		for i, item := range a {
			out[i] = ToJSONValue(t.Items, item)
		}
		return out
	case KindMap:
		m, ok := v.(map[string]any)
		if !ok {
			return v
		}
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[k] = ToJSONValue(t.Values, item)
		}
		return out
	}
	return v
}

// MarshalJSONValue encodes a canonical value as JSON text
func MarshalJSONValue(t *Type, v any) (string, error) {
	data, err := json.Marshal(ToJSONValue(t, v))
	if err != nil {
		return "", errors.Wrapf(err, errors.ErrorTypeConversion, "encoding %s as JSON", t)
	}
	return string(data), nil
}
