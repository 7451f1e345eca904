package schema

import (
	"database/sql"
	"math"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/json"
)

func TestCoerce_Primitives(t *testing.T) {
	tests := []struct {
		name string
		typ  *Type
		in   any
		want any
	}{
		{"int from int64", Int(), int64(42), int32(42)},
		{"int from string", Int(), " 7 ", int32(7)},
		{"int from integral float", Int(), 3.0, int32(3)},
		{"long from json number", Long(), json.Number("9007199254740993"), int64(9007199254740993)},
		{"long from uint32", Long(), uint32(5), int64(5)},
		{"long from sql bytes", Long(), []byte("12"), int64(12)},
		{"float from double", Float(), 1.5, float32(1.5)},
		{"double from int", Double(), 2, float64(2)},
		{"double from string", Double(), "2.25", 2.25},
		{"bool from yes", Boolean(), "yes", true},
		{"bool from 0", Boolean(), int64(0), false},
		{"bool from FALSE", Boolean(), "FALSE", false},
		{"string from int", String(), 12, "12"},
		{"string from bool", String(), true, "true"},
		{"bytes from string", Bytes(), "ab", []byte("ab")},
		{"uuid lowercased", UUID(), "6BA7B810-9DAD-11D1-80B4-00C04FD430C8", "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"uuid from bytes", UUID(), []byte{0x6b, 0xa7, 0xb8, 0x10, 0x9d, 0xad, 0x11, 0xd1, 0x80, 0xb4, 0x00, 0xc0, 0x4f, 0xd4, 0x30, 0xc8}, "6ba7b810-9dad-11d1-80b4-00c04fd430c8"},
		{"json keeps valid text", JSON(), `{"a":1}`, `{"a":1}`},
		{"json encodes plain text", JSON(), "hello", `"hello"`},
		{"json encodes map", JSON(), map[string]any{"a": int64(1)}, `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.typ, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerce_Errors(t *testing.T) {
	tests := []struct {
		name string
		typ  *Type
		in   any
	}{
		{"null for required", Long(), nil},
		{"int overflow", Int(), int64(math.MaxInt32) + 1},
		{"fraction to long", Long(), 1.5},
		{"fraction text to long", Long(), "1.5"},
		{"uint64 overflow", Long(), uint64(math.MaxUint64)},
		{"float overflow", Float(), math.MaxFloat64},
		{"not a bool", Boolean(), "maybe"},
		{"bool to long", Long(), true},
		{"bad uuid", UUID(), "not-a-uuid"},
		{"decimal over precision", Decimal(4, 2), "123.45"},
		{"bad date", Date(), "yesterday"},
		{"time out of range", TimeMillis(), 25 * time.Hour},
		{"record from scalar", Record("r", NewField("a", Int())), 5},
		{"array from scalar", Array(Int()), 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Coerce(tt.typ, tt.in)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConversion), "got %v", err)
		})
	}
}

func TestCoerce_Nullable(t *testing.T) {
	got, err := Coerce(Long().Optional(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	var p *string
	got, err = Coerce(String().Optional(), p)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = Coerce(String().Optional(), sql.NullString{})
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = Coerce(String().Optional(), sql.NullString{String: "x", Valid: true})
	require.NoError(t, err)
	assert.Equal(t, "x", got)

	var ns *sql.NullString
	got, err = Coerce(String().Optional(), ns)
	require.NoError(t, err)
	assert.Nil(t, got)
	_, err = Coerce(String(), ns)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConversion), "got %v", err)

	s := "ptr"
	got, err = Coerce(String(), &s)
	require.NoError(t, err)
	assert.Equal(t, "ptr", got)
}

func TestCoerce_Temporal(t *testing.T) {
	ts := time.Date(2024, 3, 9, 13, 45, 30, 123456789, time.FixedZone("CET", 3600))

	got, err := Coerce(TimestampMillis(), ts)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 9, 12, 45, 30, 123000000, time.UTC), got)

	got, err = Coerce(TimestampMicros(), "2024-03-09T12:45:30.123456Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 9, 12, 45, 30, 123456000, time.UTC), got)

	got, err = Coerce(TimestampMicros(), "2024-03-09 12:45:30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 9, 12, 45, 30, 0, time.UTC), got)

	got, err = Coerce(TimestampMillis(), int64(1700000000000))
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), got)

	got, err = Coerce(Date(), ts)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), got)

	got, err = Coerce(Date(), "2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), got)

	got, err = Coerce(Date(), int32(1))
	require.NoError(t, err)
	assert.Equal(t, time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC), got)

	got, err = Coerce(TimeMicros(), "08:30:15.250")
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour+30*time.Minute+15*time.Second+250*time.Millisecond, got)

	got, err = Coerce(TimeMillis(), int32(1500))
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, got)
}

func TestCoerce_Decimal(t *testing.T) {
	got, err := Coerce(Decimal(10, 2), "12.345")
	require.NoError(t, err)
	assert.Equal(t, "12.35", got.(*big.Rat).FloatString(2))

	got, err = Coerce(Decimal(10, 2), -0.105)
	require.NoError(t, err)
	assert.Equal(t, "-0.11", got.(*big.Rat).FloatString(2))

	got, err = Coerce(Decimal(38, 0), json.Number("123456789012345678901234567890"))
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", got.(*big.Rat).FloatString(0))

	got, err = Coerce(Decimal(5, 1), int64(42))
	require.NoError(t, err)
	assert.Equal(t, 0, got.(*big.Rat).Cmp(big.NewRat(42, 1)))
}

func TestCoerceRecord(t *testing.T) {
	s := customerSchema()
	data := map[string]any{
		"id":        7,
		"balance":   "10.5",
		"signed_up": "2024-01-02T03:04:05Z",
		"address":   map[string]any{"street": "Main", "zip": "12345"},
		"tags":      []string{"a", "b"},
		"attributes": map[string]float64{
			"score": 0.5,
		},
	}

	out, err := CoerceRecord(s, data)
	require.NoError(t, err)
	assert.Equal(t, int64(7), out["id"])
	assert.Nil(t, out["name"])
	assert.Contains(t, out, "name")
	assert.Equal(t, map[string]any{"street": "Main", "zip": int32(12345)}, out["address"])
	assert.Equal(t, []any{"a", "b"}, out["tags"])
	assert.Equal(t, map[string]any{"score": 0.5}, out["attributes"])
	require.NoError(t, ValidateRecord(s, out))

	data["nickname"] = "x"
	_, err = CoerceRecord(s, data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown fields "nickname"`)
}

func TestCoerceRecord_ErrorPath(t *testing.T) {
	s := customerSchema()
	_, err := CoerceRecord(s, map[string]any{
		"id":         1,
		"balance":    1,
		"signed_up":  time.Now(),
		"address":    map[string]any{"street": nil},
		"tags":       []any{},
		"attributes": map[string]any{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "address.street")
	assert.Equal(t, "address.street", errors.PathOf(err))
}

func TestCoerce_NestedFromJSONText(t *testing.T) {
	typ := Array(Record("item",
		NewField("sku", String()),
		NewField("blob", Bytes()),
		NewField("price", Decimal(6, 2)),
	))
	got, err := Coerce(typ, `[{"sku":"a","blob":"aGk=","price":1.5}]`)
	require.NoError(t, err)
	items := got.([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, []byte("hi"), item["blob"])
	assert.Equal(t, "1.50", item["price"].(*big.Rat).FloatString(2))
}

func TestToJSONValue_RoundTrip(t *testing.T) {
	s := customerSchema()
	in, err := CoerceRecord(s, map[string]any{
		"id":         1,
		"name":       "Ada",
		"balance":    "99.90",
		"signed_up":  "2024-01-02T03:04:05.678Z",
		"address":    nil,
		"tags":       []any{"x"},
		"attributes": map[string]any{"k": nil},
	})
	require.NoError(t, err)

	text, err := MarshalJSONValue(s.RecordType(), in)
	require.NoError(t, err)
	assert.Contains(t, text, `"balance":99.90`)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &decoded))
	out, err := CoerceRecordJSON(s, decoded)
	require.NoError(t, err)

	assert.Equal(t, in["id"], out["id"])
	assert.Equal(t, in["signed_up"], out["signed_up"])
	assert.Equal(t, 0, in["balance"].(*big.Rat).Cmp(out["balance"].(*big.Rat)))
	assert.Nil(t, out["address"])
	assert.Equal(t, in["attributes"], out["attributes"])
}

func TestValidateValue(t *testing.T) {
	assert.NoError(t, ValidateValue(Int(), int32(1)))
	assert.Error(t, ValidateValue(Int(), int64(1)))
	assert.Error(t, ValidateValue(Date(), time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)))
	assert.NoError(t, ValidateValue(Date(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Error(t, ValidateValue(Decimal(3, 1), big.NewRat(10000, 1)))
	assert.Error(t, ValidateValue(JSON(), "{"))
	assert.NoError(t, ValidateValue(Array(Long().Optional()), []any{int64(1), nil}))
	assert.Error(t, ValidateValue(Array(Long()), []any{nil}))
}
