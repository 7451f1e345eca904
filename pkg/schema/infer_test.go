package schema

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/recordbridge/pkg/json"
)

func TestInferType(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want *Type
	}{
		{"bool", true, Boolean()},
		{"int32", int32(1), Int()},
		{"int", 1, Long()},
		{"float32", float32(1), Float()},
		{"float64", 1.5, Double()},
		{"json integer", json.Number("12"), Long()},
		{"json fraction", json.Number("1.2"), Double()},
		{"string", "x", String()},
		{"bytes", []byte("x"), Bytes()},
		{"time", time.Now(), TimestampMicros()},
		{"rat", big.NewRat(1, 2), Decimal(38, 9)},
		{"record sorted", map[string]any{"b": "x", "a": int64(1)},
			Record("", NewField("a", Long()), NewField("b", String()))},
		{"array joins items", []any{int32(1), int64(2), nil}, Array(Long().Optional())},
		{"typed slice", []string{"a"}, Array(String())},
		{"empty array", []any{}, &Type{Kind: KindArray}},
		{"empty object", map[string]any{}, JSON().Optional()},
		{"nested empty object", map[string]any{"meta": map[string]any{}, "id": int64(1)},
			Record("", NewField("id", Long()), NewField("meta", JSON().Optional()))},
		{"empty typed map", map[string]int{}, JSON().Optional()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, Equal(tt.want, InferType(tt.in)), "got %s", InferType(tt.in))
		})
	}
	assert.Nil(t, InferType(nil))
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name string
		a, b *Type
		want *Type
	}{
		{"null and long", nil, Long(), Long().Optional()},
		{"int and long", Int(), Long(), Long()},
		{"long and float", Long(), Float(), Double()},
		{"int and double", Int(), Double(), Double()},
		{"float and double", Float(), Double(), Double()},
		{"date and timestamp", Date(), TimestampMicros(), TimestampMicros()},
		{"date and timestamp millis", Date(), TimestampMillis(), TimestampMillis()},
		{"timestamp units", TimestampMillis(), TimestampMicros(), TimestampMicros()},
		{"bool and long", Boolean(), Long(), String()},
		{"string and date", String(), Date(), String()},
		{"nullable propagates", Long().Optional(), Int(), Long().Optional()},
		{"decimals widen", Decimal(10, 2), Decimal(6, 4), Decimal(12, 4)},
		{"arrays", Array(Int()), Array(Double()), Array(Double())},
		{"maps", Map(Int()), Map(nil), Map(Int().Optional())},
		{"record and long", Record("", NewField("a", Int())), Long(), JSON()},
		{"array and map", Array(Int()), Map(Int()), JSON()},
		{"json and long", JSON(), Long(), String()},
		{"json and record", JSON(), Record("", NewField("a", Int())), JSON()},
		{"records union",
			Record("", NewField("a", Int()), NewField("b", String())),
			Record("", NewField("a", Long()), NewField("c", Boolean())),
			Record("", NewField("a", Long()), NewField("b", String().Optional()), NewField("c", Boolean().Optional()))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.a, tt.b)
			assert.True(t, Equal(tt.want, got), "want %s got %s", tt.want, got)
			// join is commutative up to field order
			assert.Equal(t, got.Nullable, Merge(tt.b, tt.a).Nullable)
		})
	}
}

func TestMerge_MapOfNullsStaysNullable(t *testing.T) {
	got := Merge(Map(nil), Map(nil))
	require.NotNil(t, got)
	assert.Nil(t, got.Values)
	assert.True(t, Equal(Map(String().Optional()), Finalize(got)))
}

func TestInferStrings(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   *Type
	}{
		{"booleans", []string{"true", "FALSE"}, Boolean()},
		{"longs with null", []string{"1", "", "-3"}, Long().Optional()},
		{"doubles", []string{"1", "2.5", "1e3"}, Double()},
		{"nan is text", []string{"1", "NaN"}, String()},
		{"dates", []string{"2024-01-01", "1999-12-31"}, Date()},
		{"timestamps", []string{"2024-01-01", "2024-01-01T10:00:00Z"}, TimestampMicros()},
		{"mixed", []string{"1", "x"}, String()},
		{"bool words are not numbers", []string{"1", "true"}, String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InferStrings(tt.values)
			assert.True(t, Equal(tt.want, got), "got %s", got)
		})
	}
	assert.Nil(t, InferStrings([]string{"", ""}))
	assert.True(t, Equal(Long().Optional(), InferStrings([]string{"NULL", "4"}, "NULL")))
}

func TestInferrer_InferSchema(t *testing.T) {
	inf := NewInferrer(zap.NewNop(), WithSampleSize(2))
	s, err := inf.InferSchema("events", []map[string]any{
		{"id": int64(1), "payload": map[string]any{"x": 1.5}, "note": nil},
		{"id": int64(2), "payload": map[string]any{"x": 2.5, "y": "a"}, "note": nil},
		{"id": "ignored beyond sample size"},
	})
	require.NoError(t, err)

	want := New("events",
		NewField("id", Long()),
		NewField("note", String().Optional()),
		NewField("payload", Record("",
			NewField("x", Double()),
			NewField("y", String().Optional()),
		)),
	)
	assert.True(t, want.Equal(s), "got %s", s.RecordType())
	require.NoError(t, s.Validate())

	_, err = inf.InferSchema("empty", nil)
	assert.Error(t, err)
}

func TestInferrer_InferRows(t *testing.T) {
	inf := NewInferrer(nil, WithSeparator("."), WithNullTokens("", "NULL"))
	header := []string{"id", "address.city", "joined", "address.zip", "score"}
	rows := [][]string{
		{"1", "Oslo", "2024-01-01", "0150", "1.5"},
		{"2", "NULL", "2024-02-01", "NULL"},
	}

	s, err := inf.InferRows("people", header, rows)
	require.NoError(t, err)

	want := New("people",
		NewField("id", Long()),
		NewField("address", Record("address",
			NewField("city", String().Optional()),
			NewField("zip", Long().Optional()),
		)),
		NewField("joined", Date()),
		NewField("score", Double().Optional()),
	)
	assert.True(t, want.Equal(s), "got %s", s.RecordType())
	assert.Equal(t, []string{"id", "address.city", "address.zip", "joined", "score"}, ColumnNames(Flatten(s, ".")))
}

func TestInferrer_TemporalDetectionOff(t *testing.T) {
	inf := NewInferrer(nil, WithTemporalDetection(false))
	s, err := inf.InferRows("t", []string{"d"}, [][]string{{"2024-01-01"}})
	require.NoError(t, err)
	assert.True(t, Equal(String(), s.Fields[0].Type))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "ok_name", SanitizeName("ok_name"))
	assert.Equal(t, "first_name", SanitizeName("first name"))
	assert.Equal(t, "_1st", SanitizeName("1st"))
	assert.Equal(t, "_", SanitizeName(""))
}
