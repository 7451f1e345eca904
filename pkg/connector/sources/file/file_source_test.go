package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/connector/registry"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
	"github.com/ajitpratap0/recordbridge/pkg/storage"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
}

func sourceConfig(settings map[string]any) *config.BaseConfig {
	cfg := config.NewBaseConfig("orders", "file")
	cfg.Settings = settings
	return cfg
}

func collect(t *testing.T, stream *core.RecordStream) ([]*models.Record, error) {
	t.Helper()
	var records []*models.Record
	var firstErr error
	recs, errs := stream.Records, stream.Errors
	for recs != nil || errs != nil {
		select {
		case r, ok := <-recs:
			if !ok {
				recs = nil
				continue
			}
			records = append(records, r)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return records, firstErr
}

func TestSource_ReadsMatchingObjectsInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "2024-02.csv", "id,amount\n3,1.5\n")
	writeFile(t, dir, "2024-01.csv", "id,amount\n1,2.25\n2,\n")
	writeFile(t, dir, "notes.txt", "ignore me")

	ctx := context.Background()
	src := NewSource("file", storage.SchemeLocal)
	require.NoError(t, src.Initialize(ctx, sourceConfig(map[string]any{
		"url":     dir,
		"pattern": "*.csv",
	})))
	defer src.Close(ctx)
	require.Len(t, src.Objects(), 2)

	s, err := src.Discover(ctx)
	require.NoError(t, err)
	require.Len(t, s.Fields, 2)
	assert.Equal(t, "_2024_01", s.Name)
	amount, _ := s.Field("amount")
	assert.Equal(t, schema.KindDouble, amount.Type.Kind)
	assert.True(t, amount.Type.Nullable)

	stream, err := src.Read(ctx)
	require.NoError(t, err)
	records, err := collect(t, stream)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, int64(1), records[0].Data["id"])
	assert.Nil(t, records[1].Data["amount"])
	assert.Equal(t, int64(3), records[2].Data["id"])
	assert.Equal(t, int64(0), records[2].Metadata.Offset)
	assert.Equal(t, "csv", records[2].Metadata.Format)
	assert.Contains(t, records[2].Metadata.Source, "2024-02.csv")

	m := src.Metrics()
	assert.EqualValues(t, 3, m["records"])
	assert.NoError(t, src.Health(ctx))
}

func TestSource_SingleFileAndSchemaFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "events.ndjson", `{"id":1,"tags":["a"]}`+"\n"+`{"id":"x","tags":[]}`+"\n"+`{"id":2,"tags":null}`+"\n")
	writeFile(t, dir, "events.schema.json", `{
	  "name": "event",
	  "fields": [
	    {"name": "id", "type": {"kind": "long"}},
	    {"name": "tags", "type": {"kind": "array", "nullable": true, "items": {"kind": "string"}}}
	  ]
	}`)

	ctx := context.Background()
	src := NewSource("file", storage.SchemeLocal)
	require.NoError(t, src.Initialize(ctx, sourceConfig(map[string]any{
		"url":         filepath.Join(dir, "events.ndjson"),
		"schema_file": filepath.Join(dir, "events.schema.json"),
	})))
	defer src.Close(ctx)

	s, err := src.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, "event", s.Name)

	batches, err := src.ReadBatch(ctx, 10)
	require.NoError(t, err)
	var got []*models.Record
	for b := range batches.Batches {
		got = append(got, b...)
	}
	for err := range batches.Errors {
		require.NoError(t, err)
	}

	// The record whose id is not a number is skipped and counted
	require.Len(t, got, 2)
	assert.Equal(t, []any{"a"}, got[0].Data["tags"])
	assert.Nil(t, got[1].Data["tags"])
	assert.EqualValues(t, 1, src.Metrics()["skipped_records"])
}

func TestSource_FailFast(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "events.ndjson", `{"id":"x"}`+"\n")
	writeFile(t, dir, "s.json", `{"name":"event","fields":[{"name":"id","type":{"kind":"long"}}]}`)

	cfg := sourceConfig(map[string]any{
		"url":         dir,
		"pattern":     "*.ndjson",
		"schema_file": filepath.Join(dir, "s.json"),
	})
	cfg.Reliability.FailFast = true

	ctx := context.Background()
	src := NewSource("file", storage.SchemeLocal)
	require.NoError(t, src.Initialize(ctx, cfg))
	defer src.Close(ctx)

	stream, err := src.Read(ctx)
	require.NoError(t, err)
	records, err := collect(t, stream)
	assert.Empty(t, records)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConversion))
}

func TestSource_InitializeErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	err := NewSource("file", storage.SchemeLocal).Initialize(ctx, sourceConfig(map[string]any{"url": dir}))
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound), "empty directory")

	err = NewSource("file", storage.SchemeLocal).Initialize(ctx, sourceConfig(map[string]any{"url": dir, "colour": "red"}))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "unknown setting")

	err = NewSource("s3", storage.SchemeS3).Initialize(ctx, sourceConfig(map[string]any{}))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "s3 without bucket")

	err = NewSource("file", storage.SchemeLocal).Initialize(ctx, sourceConfig(map[string]any{"url": dir, "format": "orc"}))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "unknown format")
}

func TestSource_Registered(t *testing.T) {
	for _, name := range []string{"file", "s3", "gcs"} {
		assert.True(t, registry.HasSource(name), name)
		info, err := registry.GetConnectorInfo(core.ConnectorTypeSource, name)
		require.NoError(t, err)
		assert.Contains(t, info.Capabilities, "schema_inference")
	}
}
