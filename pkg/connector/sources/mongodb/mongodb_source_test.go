package mongodb

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/connector/registry"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

func TestNormalize(t *testing.T) {
	oid := primitive.NewObjectID()
	when := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	dec, err := primitive.ParseDecimal128("12.75")
	require.NoError(t, err)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"object id", oid, oid.Hex()},
		{"date", primitive.NewDateTimeFromTime(when), when},
		{"timestamp", primitive.Timestamp{T: uint32(when.Unix())}, when},
		{"decimal", dec, big.NewRat(51, 4)},
		{"binary", primitive.Binary{Data: []byte{1, 2}}, []byte{1, 2}},
		{"regex", primitive.Regex{Pattern: "^a", Options: "i"}, "/^a/i"},
		{"null", primitive.Null{}, nil},
		{"array", bson.A{int32(1), primitive.Null{}}, []any{int32(1), nil}},
		{"document", bson.D{{Key: "first name", Value: "ada"}}, map[string]any{"first_name": "ada"}},
		{"map", bson.M{"n": int64(2)}, map[string]any{"n": int64(2)}},
		{"plain", "text", "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if r, ok := tt.want.(*big.Rat); ok {
				require.IsType(t, &big.Rat{}, got)
				assert.Equal(t, 0, r.Cmp(got.(*big.Rat)))
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func marshal(t *testing.T, doc bson.D) bson.Raw {
	t.Helper()
	raw, err := bson.Marshal(doc)
	require.NoError(t, err)
	return raw
}

func TestInferAndConvertDocuments(t *testing.T) {
	oid := primitive.NewObjectID()
	when := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	docs := []bson.Raw{
		marshal(t, bson.D{
			{Key: "_id", Value: oid},
			{Key: "total", Value: 12.5},
			{Key: "placed", Value: primitive.NewDateTimeFromTime(when)},
			{Key: "customer", Value: bson.D{{Key: "name", Value: "ada"}, {Key: "vip", Value: true}}},
			{Key: "items", Value: bson.A{"a", "b"}},
		}),
		marshal(t, bson.D{
			{Key: "_id", Value: primitive.NewObjectID()},
			{Key: "total", Value: int32(3)},
			{Key: "customer", Value: bson.D{{Key: "name", Value: "linus"}}},
		}),
	}

	var samples []map[string]any
	for _, raw := range docs {
		doc, err := decodeDocument(raw)
		require.NoError(t, err)
		samples = append(samples, doc)
	}
	sch, err := schema.NewInferrer(nil).InferSchema("orders", samples)
	require.NoError(t, err)
	require.NoError(t, sch.Validate())
	assert.Equal(t, []string{"_id", "customer", "items", "placed", "total"}, sch.FieldNames())

	total, _ := sch.Field("total")
	assert.Equal(t, schema.KindDouble, total.Type.Kind)
	placed, _ := sch.Field("placed")
	assert.True(t, placed.Type.Nullable)
	customer, _ := sch.Field("customer")
	assert.Equal(t, schema.KindRecord, customer.Type.Kind)

	rec, err := toRecord(sch, docs[0])
	require.NoError(t, err)
	assert.Equal(t, oid.Hex(), rec.Data["_id"])
	assert.Equal(t, when, rec.Data["placed"])
	assert.Equal(t, "ada", rec.Data["customer"].(map[string]any)["name"])

	second, err := toRecord(sch, docs[1])
	require.NoError(t, err)
	assert.Equal(t, 3.0, second.Data["total"])
	assert.Nil(t, second.Data["placed"])

	// a field outside the sampled schema does not convert
	_, err = toRecord(sch, marshal(t, bson.D{{Key: "_id", Value: "x"}, {Key: "extra", Value: 1}}))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConversion))
}

func TestSource_ConfigErrors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		settings map[string]any
	}{
		{"missing uri", map[string]any{"database": "shop", "collection": "orders"}},
		{"missing collection", map[string]any{"uri": "mongodb://localhost", "database": "shop"}},
		{"bad filter", map[string]any{"uri": "mongodb://localhost", "database": "shop", "collection": "orders", "filter": "{status"}},
		{"unknown key", map[string]any{"uri": "mongodb://localhost", "database": "shop", "collection": "orders", "colection": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewBaseConfig("orders", "mongodb")
			cfg.Settings = tt.settings
			err := NewSource("mongodb").Initialize(ctx, cfg)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), err.Error())
		})
	}
}

func TestParseDocument(t *testing.T) {
	doc, err := parseDocument("filter", `{"status": "paid", "total": {"$gt": 10}}`)
	require.NoError(t, err)
	require.Len(t, doc, 2)
	assert.Equal(t, "status", doc[0].Key)

	doc, err = parseDocument("filter", "")
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestSource_DiscoverBeforeInitialize(t *testing.T) {
	_, err := NewSource("mongodb").Discover(context.Background())
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestSource_Registered(t *testing.T) {
	info, err := registry.GetConnectorInfo(core.ConnectorTypeSource, "mongodb")
	require.NoError(t, err)
	assert.Contains(t, info.Capabilities, "schema_inference")
}
