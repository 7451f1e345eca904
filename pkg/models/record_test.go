package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

func userSchema() *schema.Schema {
	return schema.New("user",
		schema.NewField("id", schema.Long()),
		schema.NewField("profile", schema.Record("profile",
			schema.NewField("tags", schema.Array(schema.String())),
		).Optional()),
	)
}

func TestRecord_GetSet(t *testing.T) {
	r := NewRecord(userSchema(), nil)
	r.Set("id", int64(1))

	v, ok := r.Get("id")
	assert.True(t, ok)
	assert.Equal(t, int64(1), v)

	_, ok = r.Get("missing")
	assert.False(t, ok)
	assert.False(t, r.Metadata.Timestamp.IsZero())
}

func TestRecord_ValidateAndCoerce(t *testing.T) {
	r := NewRecord(userSchema(), map[string]interface{}{"id": 5})
	assert.Error(t, r.Validate(), "int is not the canonical long")

	require.NoError(t, r.Coerce(userSchema()))
	assert.NoError(t, r.Validate())
	assert.Equal(t, int64(5), r.Data["id"])
	assert.Nil(t, r.Data["profile"])

	assert.Error(t, (&Record{}).Validate())
}

func TestRecord_CloneIsDeep(t *testing.T) {
	r := NewRecord(userSchema(), map[string]interface{}{
		"id":      int64(1),
		"profile": map[string]interface{}{"tags": []interface{}{"a"}},
	})
	r.SetMetadata("partition", 3)

	c := r.Clone()
	c.Data["profile"].(map[string]interface{})["tags"].([]interface{})[0] = "b"
	c.Metadata.Custom["partition"] = 4

	assert.Equal(t, "a", r.Data["profile"].(map[string]interface{})["tags"].([]interface{})[0])
	assert.Equal(t, 3, r.Metadata.Custom["partition"])
	assert.Same(t, r.Schema, c.Schema)
}

func TestRecordBatch(t *testing.T) {
	b := NewRecordBatch(2)
	b.Add(NewRecord(nil, nil))
	b.Add(NewRecord(nil, nil))
	b.Add(NewRecord(nil, nil))
	assert.Equal(t, 3, b.Size())

	b.Reset()
	assert.Equal(t, 0, b.Size())
	assert.GreaterOrEqual(t, cap(b.Records), 3)
}
