package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
)

func customerSchema() *Schema {
	return New("customer",
		NewField("id", Long()),
		NewField("name", String().Optional()),
		NewField("balance", Decimal(10, 2)),
		NewField("signed_up", TimestampMillis()),
		NewField("address", Record("address",
			NewField("street", String()),
			NewField("zip", Int().Optional()),
		).Optional()),
		NewField("tags", Array(String())),
		NewField("attributes", Map(Double().Optional())),
	)
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "long", Long().String())
	assert.Equal(t, "decimal(10,2)?", Decimal(10, 2).Optional().String())
	assert.Equal(t, "array<record{a:long?,b:date}>",
		Array(Record("", NewField("a", Long().Optional()), NewField("b", Date()))).String())
	assert.Equal(t, "map<json>", Map(JSON()).String())
}

func TestType_CloneIsDeep(t *testing.T) {
	orig := Record("r", NewField("inner", Array(Long())))
	c := orig.Clone()
	c.Fields[0].Type.Items.Nullable = true

	assert.False(t, orig.Fields[0].Type.Items.Nullable)
	assert.False(t, Equal(orig, c))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Decimal(5, 2), Decimal(5, 2)))
	assert.False(t, Equal(Decimal(5, 2), Decimal(6, 2)))
	assert.False(t, Equal(Long(), Long().Optional()))
	assert.False(t, Equal(Date(), Int()))
	assert.True(t, Equal(Record("a", NewField("x", Int())), Record("b", NewField("x", Int()))))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, Int()))

	s := customerSchema()
	assert.True(t, s.Equal(s.Clone()))
}

func TestSchema_Validate(t *testing.T) {
	require.NoError(t, customerSchema().Validate())

	tests := []struct {
		name   string
		schema *Schema
		want   string
	}{
		{"empty name", New("", NewField("a", Int())), "schema name is empty"},
		{"no fields", New("s"), "has no fields"},
		{"bad field name", New("s", NewField("first name", String())), "not a valid name"},
		{"duplicate field", New("s", NewField("a", Int()), NewField("a", Long())), "duplicate field"},
		{"logical on wrong kind", New("s", NewField("d", &Type{Kind: KindLong, Logical: LogicalDate})), "requires kind int"},
		{"decimal precision", New("s", NewField("d", Decimal(39, 2))), "precision 39"},
		{"decimal scale", New("s", NewField("d", Decimal(4, 5))), "scale 5"},
		{"array without items", New("s", NewField("a", &Type{Kind: KindArray})), "no item type"},
		{"map without values", New("s", NewField("m", &Type{Kind: KindMap})), "no value type"},
		{"empty nested record", New("s", NewField("r", Record("r"))), "record has no fields"},
		{"unknown kind", New("s", NewField("x", &Type{Kind: "uint"})), "unknown kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schema.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))
		})
	}
}

func TestSchema_ValidateAggregatesErrors(t *testing.T) {
	s := New("s",
		NewField("a b", Int()),
		NewField("d", Decimal(0, 0)),
	)
	err := s.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")
}

func TestParse(t *testing.T) {
	s := customerSchema()
	data, err := s.MarshalIndent()
	require.NoError(t, err)

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.True(t, s.Equal(parsed))
	assert.Equal(t, "customer", parsed.Name)

	_, err = Parse([]byte(`{"name":"x","fields":[]}`))
	assert.Error(t, err)
}
