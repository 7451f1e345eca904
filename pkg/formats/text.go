package formats

import (
	"encoding/base64"
	"io"
	"math/big"
	"strconv"

	"github.com/ajitpratap0/recordbridge/pkg/compression"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// StreamWriter wraps w with the stream compression named by name. Closing
// the result finishes the stream but leaves w open.
func StreamWriter(w io.Writer, name string) (io.WriteCloser, error) {
	alg, err := compression.Parse(name)
	if err != nil {
		return nil, err
	}
	return compression.NewWriter(w, alg, compression.Default)
}

// StreamReader wraps r with the stream decompression named by name. "auto"
// picks the codec from the magic bytes of the stream.
func StreamReader(r io.Reader, name string) (io.ReadCloser, error) {
	if name == "auto" {
		alg, br, err := compression.Detect(r)
		if err != nil {
			return nil, err
		}
		return compression.NewReader(br, alg)
	}
	alg, err := compression.Parse(name)
	if err != nil {
		return nil, err
	}
	return compression.NewReader(r, alg)
}

// FormatText renders a canonical value as the cell text of flat formats:
// RFC 3339 timestamps, ISO dates, decimals at their scale, base64 bytes and
// JSON for arrays, maps and records
func FormatText(t *schema.Type, v any, nullToken string) (string, error) {
	if v == nil {
		return nullToken, nil
	}
	switch t.Logical {
	case schema.LogicalDate, schema.LogicalTimeMillis, schema.LogicalTimeMicros,
		schema.LogicalTimestampMillis, schema.LogicalTimestampMicros:
		if s := schema.FormatTemporal(t.Logical, v); s != "" {
			return s, nil
		}
		return "", textError(t, v)
	case schema.LogicalDecimal:
		r, ok := v.(*big.Rat)
		if !ok {
			return "", textError(t, v)
		}
		return schema.FormatDecimal(r, t.Scale), nil
	}

	switch t.Kind {
	case schema.KindBoolean:
		if b, ok := v.(bool); ok {
			return strconv.FormatBool(b), nil
		}
	case schema.KindInt:
		if n, ok := v.(int32); ok {
			return strconv.FormatInt(int64(n), 10), nil
		}
	case schema.KindLong:
		if n, ok := v.(int64); ok {
			return strconv.FormatInt(n, 10), nil
		}
	case schema.KindFloat:
		if f, ok := v.(float32); ok {
			return strconv.FormatFloat(float64(f), 'g', -1, 32), nil
		}
	case schema.KindDouble:
		if f, ok := v.(float64); ok {
			return strconv.FormatFloat(f, 'g', -1, 64), nil
		}
	case schema.KindString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case schema.KindBytes:
		if b, ok := v.([]byte); ok {
			return base64.StdEncoding.EncodeToString(b), nil
		}
	case schema.KindArray, schema.KindMap, schema.KindRecord:
		return schema.MarshalJSONValue(t, v)
	}
	return "", textError(t, v)
}

func textError(t *schema.Type, v any) error {
	return errors.Newf(errors.ErrorTypeConversion, "cannot render %T as %s text", v, t)
}

// ParseText reads cell text written by FormatText. The null token is null
// except in non-nullable string columns, where it is the literal text.
func ParseText(t *schema.Type, cell, nullToken string) (any, error) {
	if cell == nullToken && (t.Nullable || t.Kind != schema.KindString) {
		return schema.Coerce(t, nil)
	}
	if t.Kind == schema.KindBytes && t.Logical == "" {
		b, err := base64.StdEncoding.DecodeString(cell)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConversion, "cell %q is not base64", cell)
		}
		return b, nil
	}
	return schema.Coerce(t, cell)
}
