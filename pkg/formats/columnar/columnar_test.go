package columnar

import (
	"bytes"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/recordbridge/pkg/formats"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

func orderSchema() *schema.Schema {
	return schema.New("order",
		schema.NewField("id", schema.Long()),
		schema.NewField("customer", schema.String().Optional()),
		schema.NewField("amount", schema.Decimal(10, 2)),
		schema.NewField("created", schema.TimestampMicros()),
		schema.NewField("day", schema.Date()),
		schema.NewField("pickup", schema.TimeMillis()),
		schema.NewField("address", schema.Record("address",
			schema.NewField("street", schema.String()),
			schema.NewField("zip", schema.Int().Optional()),
		).Optional()),
		schema.NewField("tags", schema.Array(schema.String())),
		schema.NewField("attrs", schema.Map(schema.Long())),
		schema.NewField("uid", schema.UUID().Optional()),
		schema.NewField("payload", schema.JSON().Optional()),
		schema.NewField("ratio", schema.Float()),
		schema.NewField("blob", schema.Bytes()),
		schema.NewField("active", schema.Boolean()),
	)
}

func orderData() map[string]any {
	return map[string]any{
		"id":       1,
		"customer": "ada",
		"amount":   "12.34",
		"created":  time.Date(2024, 1, 2, 3, 4, 5, 123456000, time.UTC),
		"day":      "2024-01-02",
		"pickup":   3*time.Hour + 500*time.Millisecond,
		"address":  map[string]any{"street": "Main", "zip": nil},
		"tags":     []any{"new", "gift"},
		"attrs":    map[string]any{"y": 4, "x": 3},
		"uid":      "6BA7B810-9DAD-11D1-80B4-00C04FD430C8",
		"payload":  `{"a":1}`,
		"ratio":    0.5,
		"blob":     []byte{0xde, 0xad},
		"active":   true,
	}
}

func threeOrders() []*models.Record {
	second := orderData()
	second["id"] = 2
	second["customer"] = nil
	second["address"] = nil
	second["uid"] = nil
	second["payload"] = nil
	second["tags"] = []any{}

	third := orderData()
	third["id"] = 3
	return []*models.Record{
		models.NewRecord(nil, orderData()),
		models.NewRecord(nil, second),
		models.NewRecord(nil, third),
	}
}

func assertOrder(t *testing.T, got map[string]any) {
	t.Helper()
	assert.Equal(t, int64(1), got["id"])
	assert.Equal(t, "ada", got["customer"])
	assert.Equal(t, 0, big.NewRat(1234, 100).Cmp(got["amount"].(*big.Rat)))
	assert.True(t, time.Date(2024, 1, 2, 3, 4, 5, 123456000, time.UTC).Equal(got["created"].(time.Time)))
	assert.True(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).Equal(got["day"].(time.Time)))
	assert.Equal(t, 3*time.Hour+500*time.Millisecond, got["pickup"])
	assert.Equal(t, map[string]any{"street": "Main", "zip": nil}, got["address"])
	assert.Equal(t, []any{"new", "gift"}, got["tags"])
	assert.Equal(t, map[string]any{"x": int64(3), "y": int64(4)}, got["attrs"])
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", got["uid"])
	assert.Equal(t, `{"a":1}`, got["payload"])
	assert.Equal(t, float32(0.5), got["ratio"])
	assert.Equal(t, []byte{0xde, 0xad}, got["blob"])
	assert.Equal(t, true, got["active"])
}

func assertThreeOrders(t *testing.T, records []*models.Record, format formats.Format) {
	t.Helper()
	require.Len(t, records, 3)

	assertOrder(t, records[0].Data)
	assert.Equal(t, string(format), records[0].Metadata.Format)
	assert.Equal(t, int64(1), records[0].Metadata.Offset)

	assert.Equal(t, int64(2), records[1].Data["id"])
	assert.Nil(t, records[1].Data["customer"])
	assert.Nil(t, records[1].Data["address"])
	assert.Nil(t, records[1].Data["uid"])
	assert.Nil(t, records[1].Data["payload"])
	assert.Equal(t, []any{}, records[1].Data["tags"])

	assert.Equal(t, int64(3), records[2].Data["id"])
	assert.Equal(t, int64(3), records[2].Metadata.Offset)
}

func TestToArrow(t *testing.T) {
	as, err := ToArrow(orderSchema())
	require.NoError(t, err)
	require.Equal(t, 14, as.NumFields())

	name, ok := as.Metadata().GetValue(MetaName)
	require.True(t, ok)
	assert.Equal(t, "order", name)

	assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Int64, as.Field(0).Type))
	assert.False(t, as.Field(0).Nullable)
	assert.True(t, as.Field(1).Nullable)
	assert.True(t, arrow.TypeEqual(&arrow.Decimal128Type{Precision: 10, Scale: 2}, as.Field(2).Type))
	assert.True(t, arrow.TypeEqual(&arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, as.Field(3).Type))
	assert.True(t, arrow.TypeEqual(arrow.FixedWidthTypes.Date32, as.Field(4).Type))
	assert.True(t, arrow.TypeEqual(arrow.FixedWidthTypes.Time32ms, as.Field(5).Type))
	assert.Equal(t, arrow.STRUCT, as.Field(6).Type.ID())
	assert.Equal(t, arrow.LIST, as.Field(7).Type.ID())
	assert.Equal(t, arrow.MAP, as.Field(8).Type.ID())
	assert.True(t, arrow.TypeEqual(arrow.BinaryTypes.String, as.Field(9).Type))

	logical, ok := as.Field(9).Metadata.GetValue(MetaLogical)
	require.True(t, ok)
	assert.Equal(t, "uuid", logical)
	logical, ok = as.Field(10).Metadata.GetValue(MetaLogical)
	require.True(t, ok)
	assert.Equal(t, "json", logical)
}

func TestToArrow_NilSchema(t *testing.T) {
	_, err := ToArrow(nil)
	assert.Error(t, err)
}

func TestFromArrow_RoundTripsToArrow(t *testing.T) {
	as, err := ToArrow(orderSchema())
	require.NoError(t, err)
	s, err := FromArrow(as)
	require.NoError(t, err)
	assert.Equal(t, "order", s.Name)
	assert.True(t, orderSchema().Equal(s), "got %v", s.Fields)
}

func TestFromArrow_RestoresNestedNullability(t *testing.T) {
	as, err := ToArrow(orderSchema())
	require.NoError(t, err)
	flags, ok := as.Field(7).Metadata.GetValue(MetaNested)
	require.True(t, ok)
	assert.Equal(t, "0", flags)
	flags, ok = as.Field(6).Metadata.GetValue(MetaNested)
	require.True(t, ok)
	assert.Equal(t, "01", flags)

	// the shape Parquet hands back: every element and value optional
	loose := arrow.NewSchema([]arrow.Field{
		{
			Name:     "tags",
			Type:     arrow.ListOfField(arrow.Field{Name: ListElement, Type: arrow.BinaryTypes.String, Nullable: true}),
			Metadata: arrow.NewMetadata([]string{MetaNested}, []string{"0"}),
		},
		{
			Name:     "attrs",
			Type:     arrow.MapOf(arrow.BinaryTypes.String, arrow.PrimitiveTypes.Int64),
			Metadata: arrow.NewMetadata([]string{MetaNested}, []string{"0"}),
		},
		{
			Name:     "matrix",
			Type:     arrow.ListOf(arrow.ListOf(arrow.PrimitiveTypes.Int64)),
			Metadata: arrow.NewMetadata([]string{MetaNested}, []string{"1"}),
		},
		{Name: "other", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64)},
	}, nil)

	s, err := FromArrow(loose)
	require.NoError(t, err)
	assert.True(t, schema.Equal(schema.Array(schema.String()), s.Fields[0].Type), "got %v", s.Fields[0].Type)
	assert.True(t, schema.Equal(schema.Map(schema.Long()), s.Fields[1].Type), "got %v", s.Fields[1].Type)
	// flags of the wrong length are ignored
	assert.True(t, s.Fields[2].Type.Items.Nullable)
	assert.True(t, s.Fields[3].Type.Items.Nullable)
}

func TestFromArrow_ForeignTypes(t *testing.T) {
	as := arrow.NewSchema([]arrow.Field{
		{Name: "tiny", Type: arrow.PrimitiveTypes.Int8},
		{Name: "huge", Type: arrow.PrimitiveTypes.Uint64, Nullable: true},
		{Name: "half", Type: arrow.FixedWidthTypes.Float16},
		{Name: "secs", Type: &arrow.TimestampType{Unit: arrow.Second}},
		{Name: "nanos", Type: &arrow.TimestampType{Unit: arrow.Nanosecond}},
		{Name: "text", Type: arrow.BinaryTypes.LargeString},
		{Name: "hash", Type: &arrow.FixedSizeBinaryType{ByteWidth: 16}},
		{Name: "day", Type: arrow.FixedWidthTypes.Date64},
		{Name: "code", Type: &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int16, ValueType: arrow.BinaryTypes.String}},
		{Name: "empty", Type: arrow.Null},
		{Name: "big", Type: &arrow.Decimal256Type{Precision: 20, Scale: 4}},
	}, nil)

	s, err := FromArrow(as)
	require.NoError(t, err)
	assert.Equal(t, formats.DefaultSchemaName, s.Name)

	want := []*schema.Type{
		schema.Int(),
		schema.Long().Optional(),
		schema.Float(),
		schema.TimestampMillis(),
		schema.TimestampMicros(),
		schema.String(),
		schema.Bytes(),
		schema.Date(),
		schema.String(),
		schema.String().Optional(),
		schema.Decimal(20, 4),
	}
	for i, w := range want {
		assert.True(t, schema.Equal(w, s.Fields[i].Type), "%s: got %s", s.Fields[i].Name, s.Fields[i].Type)
	}
}

func TestFromArrow_Errors(t *testing.T) {
	for name, dt := range map[string]arrow.DataType{
		"integer map keys": arrow.MapOf(arrow.PrimitiveTypes.Int32, arrow.BinaryTypes.String),
		"wide decimal":     &arrow.Decimal256Type{Precision: 50, Scale: 2},
		"union":            arrow.SparseUnionOf([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int32}}, []arrow.UnionTypeCode{0}),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := FromArrow(arrow.NewSchema([]arrow.Field{{Name: "f", Type: dt}}, nil))
			assert.Error(t, err)
		})
	}
}

func TestArrow_RoundTrip(t *testing.T) {
	for _, compression := range []string{"", "lz4", "zstd"} {
		t.Run("compression "+compression, func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewArrowWriter(&buf, formats.WriterConfig{Schema: orderSchema(), Compression: compression, BatchSize: 2})
			require.NoError(t, err)
			require.NoError(t, w.WriteBatch(threeOrders()))
			require.NoError(t, w.Close())
			assert.Equal(t, int64(3), w.RecordsWritten())
			assert.Equal(t, int64(buf.Len()), w.BytesWritten())
			assert.Equal(t, formats.Arrow, w.Format())

			r, err := NewArrowReader(bytes.NewReader(buf.Bytes()), formats.ReaderConfig{})
			require.NoError(t, err)
			defer r.Close()
			assert.True(t, orderSchema().Equal(r.Schema()))
			assert.Equal(t, "order", r.Schema().Name)

			records, err := r.ReadAll()
			require.NoError(t, err)
			assertThreeOrders(t, records, formats.Arrow)

			_, err = r.Next()
			assert.Equal(t, io.EOF, err)
		})
	}
}

func TestArrow_EmptyFile(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewArrowWriter(&buf, formats.WriterConfig{Schema: orderSchema()})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := NewArrowReader(&buf, formats.ReaderConfig{})
	require.NoError(t, err)
	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestArrowReader_ForeignFile(t *testing.T) {
	as := arrow.NewSchema([]arrow.Field{
		{Name: "small", Type: arrow.PrimitiveTypes.Int8},
		{Name: "big", Type: arrow.PrimitiveTypes.Uint32, Nullable: true},
		{Name: "at", Type: &arrow.TimestampType{Unit: arrow.Second}},
		{Name: "name", Type: arrow.BinaryTypes.LargeString},
	}, nil)
	b := array.NewRecordBuilder(memory.NewGoAllocator(), as)
	defer b.Release()
	b.Field(0).(*array.Int8Builder).AppendValues([]int8{-3, 7}, nil)
	b.Field(1).(*array.Uint32Builder).AppendValues([]uint32{4000000000, 0}, []bool{true, false})
	b.Field(2).(*array.TimestampBuilder).AppendValues([]arrow.Timestamp{1700000000, 0}, nil)
	b.Field(3).(*array.LargeStringBuilder).AppendValues([]string{"a", "b"}, nil)
	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	fw, err := ipc.NewFileWriter(&buf, ipc.WithSchema(as))
	require.NoError(t, err)
	require.NoError(t, fw.Write(rec))
	require.NoError(t, fw.Close())

	r, err := NewArrowReader(bytes.NewReader(buf.Bytes()), formats.ReaderConfig{})
	require.NoError(t, err)
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0].Data
	assert.Equal(t, int32(-3), first["small"])
	assert.Equal(t, int64(4000000000), first["big"])
	assert.True(t, time.Unix(1700000000, 0).Equal(first["at"].(time.Time)))
	assert.Equal(t, "a", first["name"])
	assert.Nil(t, records[1].Data["big"])
	assert.Equal(t, int32(7), records[1].Data["small"])
}

func TestParquet_RoundTrip(t *testing.T) {
	for _, compression := range []string{"", "gzip", "zstd", "none"} {
		t.Run("compression "+compression, func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewParquetWriter(&buf, formats.WriterConfig{Schema: orderSchema(), Compression: compression, RowGroupSize: 2})
			require.NoError(t, err)
			require.NoError(t, w.WriteBatch(threeOrders()))
			require.NoError(t, w.Close())
			assert.Equal(t, int64(3), w.RecordsWritten())
			assert.Equal(t, int64(buf.Len()), w.BytesWritten())

			r, err := NewParquetReader(bytes.NewReader(buf.Bytes()), formats.ReaderConfig{BatchSize: 2})
			require.NoError(t, err)
			defer r.Close()
			assert.True(t, orderSchema().Equal(r.Schema()))

			records, err := r.ReadAll()
			require.NoError(t, err)
			assertThreeOrders(t, records, formats.Parquet)

			_, err = r.Next()
			assert.Equal(t, io.EOF, err)
		})
	}
}

func TestInspect(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewParquetWriter(&buf, formats.WriterConfig{Schema: orderSchema(), Compression: "gzip", RowGroupSize: 2})
	require.NoError(t, err)
	require.NoError(t, w.WriteBatch(threeOrders()))
	require.NoError(t, w.Close())

	md, err := Inspect(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, formats.Parquet, md.Format)
	assert.Equal(t, 2, md.RowGroups)
	assert.Equal(t, "gzip", md.Compression)
	assert.Equal(t, int64(3), md.Statistics.RowCount)
	// leaf columns: the address fields, the list element and the map key and value
	assert.Equal(t, 16, md.Statistics.ColumnCount)
	assert.Equal(t, int64(buf.Len()), md.Statistics.FileSize)
	assert.Equal(t, int64(1), md.Statistics.NullCounts["customer"])
	assert.Equal(t, "order", md.CustomMeta[MetaName])
	assert.NotContains(t, md.CustomMeta, "ARROW:schema")
	assert.True(t, orderSchema().Equal(md.Schema))
}

func TestParquetCompression(t *testing.T) {
	_, err := ParquetCompression("lzo")
	assert.Error(t, err)
	_, err = NewParquetWriter(&bytes.Buffer{}, formats.WriterConfig{Schema: orderSchema(), Compression: "lzo"})
	assert.Error(t, err)
	_, err = NewArrowWriter(&bytes.Buffer{}, formats.WriterConfig{Schema: orderSchema(), Compression: "snappy"})
	assert.Error(t, err)
}

func TestWriter_RejectsMismatchedRecords(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewParquetWriter(&buf, formats.WriterConfig{Schema: orderSchema()})
	require.NoError(t, err)

	bad := orderData()
	bad["id"] = "not a number"
	assert.Error(t, w.Write(models.NewRecord(nil, bad)))
	assert.Error(t, w.Write(nil))

	require.NoError(t, w.Write(models.NewRecord(nil, orderData())))
	require.NoError(t, w.Close())
	assert.Equal(t, int64(1), w.RecordsWritten())
	assert.Error(t, w.Write(models.NewRecord(nil, orderData())))
}

func TestReader_CoercesToConfiguredSchema(t *testing.T) {
	written := schema.New("event",
		schema.NewField("id", schema.Int()),
		schema.NewField("seen", schema.TimestampMicros()),
	)
	seen := time.Date(2024, 5, 6, 7, 8, 9, 987654000, time.UTC)

	for _, f := range []formats.Format{formats.Arrow, formats.Parquet} {
		t.Run(string(f), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := formats.NewWriter(&buf, &formats.WriterConfig{Format: f, Schema: written})
			require.NoError(t, err)
			require.NoError(t, w.Write(models.NewRecord(nil, map[string]any{"id": 7, "seen": seen})))
			require.NoError(t, w.Close())

			wanted := schema.New("event",
				schema.NewField("id", schema.Long()),
				schema.NewField("seen", schema.TimestampMillis()),
			)
			r, err := formats.NewReader(&buf, &formats.ReaderConfig{Format: f, Schema: wanted})
			require.NoError(t, err)
			rec, err := r.Next()
			require.NoError(t, err)
			assert.Same(t, wanted, r.Schema())
			assert.Equal(t, int64(7), rec.Data["id"])
			assert.True(t, seen.Truncate(time.Millisecond).Equal(rec.Data["seen"].(time.Time)))
		})
	}
}

func TestRegistered(t *testing.T) {
	for ext, want := range map[string]formats.Format{
		"out/orders.parquet": formats.Parquet,
		"out/orders.arrow":   formats.Arrow,
		"out/orders.feather": formats.Arrow,
	} {
		f, _, err := formats.FormatFromPath(ext)
		require.NoError(t, err)
		assert.Equal(t, want, f)

		info, ok := formats.Lookup(want)
		require.True(t, ok)
		assert.True(t, info.SelfDescribed)
		assert.True(t, info.Nested)
	}
}
