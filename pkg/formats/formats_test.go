package formats_test

import (
	"bytes"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/recordbridge/pkg/compression"
	"github.com/ajitpratap0/recordbridge/pkg/formats"
	_ "github.com/ajitpratap0/recordbridge/pkg/formats/all"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

func orderSchema() *schema.Schema {
	return schema.New("order",
		schema.NewField("id", schema.Long()),
		schema.NewField("customer", schema.String().Optional()),
		schema.NewField("placed", schema.TimestampMillis()),
		schema.NewField("total", schema.Decimal(10, 2)),
	)
}

func TestList(t *testing.T) {
	var names []formats.Format
	for _, info := range formats.List() {
		names = append(names, info.Format)
	}
	assert.Equal(t, []formats.Format{
		formats.Arrow, formats.Avro, formats.CSV, formats.Excel, formats.NDJSON, formats.Parquet,
	}, names)

	info, ok := formats.Lookup(formats.Parquet)
	require.True(t, ok)
	assert.True(t, info.SelfDescribed)
	assert.True(t, info.Nested)

	_, ok = formats.Lookup("orc")
	assert.False(t, ok)
}

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path   string
		format formats.Format
		alg    compression.Algorithm
	}{
		{"data/orders.parquet", formats.Parquet, compression.None},
		{"orders.AVRO", formats.Avro, compression.None},
		{"orders.csv.gz", formats.CSV, compression.Gzip},
		{"orders.jsonl.zst", formats.NDJSON, compression.Zstd},
		{"orders.json", formats.NDJSON, compression.None},
		{"orders.feather", formats.Arrow, compression.None},
		{"orders.xlsx", formats.Excel, compression.None},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			f, alg, err := formats.FormatFromPath(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.format, f)
			assert.Equal(t, tt.alg, alg)
		})
	}

	_, _, err := formats.FormatFromPath("orders.txt")
	assert.Error(t, err)
}

func TestNewWriter_Errors(t *testing.T) {
	_, err := formats.NewWriter(io.Discard, nil)
	assert.Error(t, err)

	_, err = formats.NewWriter(io.Discard, &formats.WriterConfig{Format: formats.CSV})
	assert.Error(t, err, "schema is required")

	_, err = formats.NewWriter(io.Discard, &formats.WriterConfig{Format: "orc", Schema: orderSchema()})
	assert.Error(t, err)

	_, err = formats.NewReader(bytes.NewReader(nil), &formats.ReaderConfig{Format: "orc"})
	assert.Error(t, err)
}

// Every format reads back what it wrote when the schema is supplied.
func TestRoundTrip_AllFormats(t *testing.T) {
	placed := time.Date(2024, 5, 6, 7, 8, 9, 10000000, time.UTC)
	input := []map[string]any{
		{"id": 1, "customer": "ada", "placed": placed, "total": "19.99"},
		{"id": 2, "customer": nil, "placed": placed.Add(time.Hour), "total": 5},
	}

	for _, info := range formats.List() {
		t.Run(string(info.Format), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := formats.NewWriter(&buf, &formats.WriterConfig{Format: info.Format, Schema: orderSchema()})
			require.NoError(t, err)
			batch := make([]*models.Record, 0, len(input))
			for _, data := range input {
				batch = append(batch, models.NewRecord(nil, data))
			}
			require.NoError(t, w.WriteBatch(batch))
			require.NoError(t, w.Close())
			assert.Equal(t, info.Format, w.Format())
			assert.Equal(t, int64(2), w.RecordsWritten())

			r, err := formats.NewReader(bytes.NewReader(buf.Bytes()), &formats.ReaderConfig{Format: info.Format, Schema: orderSchema()})
			require.NoError(t, err)
			defer r.Close()
			records, err := r.ReadAll()
			require.NoError(t, err)
			require.Len(t, records, 2)

			assert.Equal(t, int64(1), records[0].Data["id"])
			assert.Equal(t, "ada", records[0].Data["customer"])
			assert.Nil(t, records[1].Data["customer"])
			assert.True(t, placed.Equal(records[0].Data["placed"].(time.Time)), "got %v", records[0].Data["placed"])
			assert.Equal(t, 0, big.NewRat(1999, 100).Cmp(records[0].Data["total"].(*big.Rat)))
			assert.Equal(t, 0, big.NewRat(5, 1).Cmp(records[1].Data["total"].(*big.Rat)))
		})
	}
}

func TestFormatText(t *testing.T) {
	tests := []struct {
		typ  *schema.Type
		v    any
		want string
	}{
		{schema.Boolean(), true, "true"},
		{schema.Int(), int32(-4), "-4"},
		{schema.Double(), 0.5, "0.5"},
		{schema.Bytes(), []byte("hi"), "aGk="},
		{schema.Decimal(6, 3), big.NewRat(3, 2), "1.500"},
		{schema.Date(), time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC), "2024-02-29"},
		{schema.Array(schema.Long()), []any{int64(1), int64(2)}, "[1,2]"},
		{schema.String().Optional(), nil, "NULL"},
	}
	for _, tt := range tests {
		got, err := formats.FormatText(tt.typ, tt.v, "NULL")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s", tt.typ)
	}

	_, err := formats.FormatText(schema.Long(), "x", "")
	assert.Error(t, err)
}

func TestParseText(t *testing.T) {
	v, err := formats.ParseText(schema.String(), "", "")
	require.NoError(t, err)
	assert.Equal(t, "", v, "the null token is text in a non-nullable string column")

	v, err = formats.ParseText(schema.String().Optional(), "", "")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = formats.ParseText(schema.Bytes(), "aGk=", "")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), v)

	v, err = formats.ParseText(schema.Long(), "42", "")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	_, err = formats.ParseText(schema.Long(), "", "")
	assert.Error(t, err)

	_, err = formats.ParseText(schema.Bytes(), "%%%", "")
	assert.Error(t, err)
}

func TestStreamReader_Auto(t *testing.T) {
	var buf bytes.Buffer
	w, err := formats.StreamWriter(&buf, "zstd")
	require.NoError(t, err)
	_, err = io.WriteString(w, "id\n1\n")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := formats.StreamReader(&buf, "auto")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "id\n1\n", string(data))

	r, err = formats.StreamReader(bytes.NewBufferString("id\n2\n"), "auto")
	require.NoError(t, err)
	data, err = io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "id\n2\n", string(data))
}
