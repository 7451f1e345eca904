package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/recordbridge/pkg/compression"
	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/connector/registry"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/formats"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
	"github.com/ajitpratap0/recordbridge/pkg/storage"
)

func usersSchema() *schema.Schema {
	return schema.New("users",
		schema.NewField("id", schema.Long()),
		schema.NewField("name", schema.String().Optional()),
	)
}

func destConfig(settings map[string]any) *config.BaseConfig {
	cfg := config.NewBaseConfig("users-out", "file")
	cfg.Settings = settings
	return cfg
}

func recordStream(records ...*models.Record) *core.RecordStream {
	ch := make(chan *models.Record, len(records))
	errs := make(chan error)
	for _, r := range records {
		ch <- r
	}
	close(ch)
	close(errs)
	return &core.RecordStream{Records: ch, Errors: errs}
}

func user(id any, name any) *models.Record {
	return models.NewRecord(usersSchema(), map[string]any{"id": id, "name": name})
}

func readPart(t *testing.T, path string, s *schema.Schema) []*models.Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := formats.NewReader(f, &formats.ReaderConfig{Format: formats.NDJSON, Schema: s})
	require.NoError(t, err)
	defer r.Close()
	records, err := r.ReadAll()
	require.NoError(t, err)
	return records
}

func TestDestination_RollsPartFiles(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	dst := NewDestination("file", storage.SchemeLocal)
	require.NoError(t, dst.Initialize(ctx, destConfig(map[string]any{
		"url":                  dir,
		"format":               "ndjson",
		"file_prefix":          "users",
		"max_records_per_file": 2,
	})))
	require.NoError(t, dst.CreateSchema(ctx, usersSchema()))

	err := dst.Write(ctx, recordStream(user(1, "ada"), user(2, nil), user(3, "grace")))
	require.NoError(t, err)
	require.NoError(t, dst.Close(ctx))

	files := dst.Files()
	require.Len(t, files, 2)
	for _, f := range files {
		assert.True(t, strings.HasPrefix(f, "users-"), f)
		assert.True(t, strings.HasSuffix(f, ".ndjson"), f)
	}

	first := readPart(t, filepath.Join(dir, files[0]), usersSchema())
	second := readPart(t, filepath.Join(dir, files[1]), usersSchema())
	require.Len(t, first, 2)
	require.Len(t, second, 1)
	assert.Equal(t, int64(1), first[0].Data["id"])
	assert.Nil(t, first[1].Data["name"])
	assert.Equal(t, "grace", second[0].Data["name"])

	// no temporary files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestDestination_WriteBatchAndCompression(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	dst := NewDestination("file", storage.SchemeLocal)
	require.NoError(t, dst.Initialize(ctx, destConfig(map[string]any{
		"url":         dir,
		"format":      "csv",
		"compression": "gzip",
	})))
	require.NoError(t, dst.CreateSchema(ctx, usersSchema()))

	stream := core.BatchFromStream(ctx, recordStream(user(1, "ada"), user(2, "linus")), 1, 0)
	require.NoError(t, dst.WriteBatch(ctx, stream))
	require.NoError(t, dst.Close(ctx))

	files := dst.Files()
	require.Len(t, files, 1)
	assert.True(t, strings.HasSuffix(files[0], ".csv.gz"), files[0])

	f, err := os.Open(filepath.Join(dir, files[0]))
	require.NoError(t, err)
	defer f.Close()
	zr, err := compression.NewReader(f, compression.Gzip)
	require.NoError(t, err)
	defer zr.Close()
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	assert.Equal(t, []string{"id,name", "1,ada", "2,linus"}, lines)

	m := dst.Metrics()
	assert.Equal(t, int64(2), m["records"])
	assert.Equal(t, 1, m["files_written"])
}

func TestDestination_SkipsRecordsThatDoNotConvert(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	dst := NewDestination("file", storage.SchemeLocal)
	require.NoError(t, dst.Initialize(ctx, destConfig(map[string]any{
		"url":    dir,
		"format": "ndjson",
	})))
	require.NoError(t, dst.CreateSchema(ctx, usersSchema()))
	require.NoError(t, dst.Write(ctx, recordStream(user(1, "ada"), user("abc", "bad"), user(3, "ken"))))
	require.NoError(t, dst.Close(ctx))

	files := dst.Files()
	require.Len(t, files, 1)
	records := readPart(t, filepath.Join(dir, files[0]), usersSchema())
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), dst.Metrics()["skipped_records"])
}

func TestDestination_FailFast(t *testing.T) {
	ctx := context.Background()
	cfg := destConfig(map[string]any{"url": t.TempDir(), "format": "ndjson"})
	cfg.Reliability.FailFast = true

	dst := NewDestination("file", storage.SchemeLocal)
	require.NoError(t, dst.Initialize(ctx, cfg))
	require.NoError(t, dst.CreateSchema(ctx, usersSchema()))
	err := dst.Write(ctx, recordStream(user("abc", "bad")))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConversion))
	require.NoError(t, dst.Close(ctx))
}

func TestDestination_StreamErrorIsReturned(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	dst := NewDestination("file", storage.SchemeLocal)
	require.NoError(t, dst.Initialize(ctx, destConfig(map[string]any{"url": dir, "format": "ndjson"})))
	require.NoError(t, dst.CreateSchema(ctx, usersSchema()))

	records := make(chan *models.Record, 1)
	errs := make(chan error, 1)
	records <- user(1, "ada")
	close(records)
	errs <- errors.New(errors.ErrorTypeConnection, "source went away")
	close(errs)

	err := dst.Write(ctx, &core.RecordStream{Records: records, Errors: errs})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
	require.NoError(t, dst.Close(ctx))
}

func TestDestination_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("write before schema", func(t *testing.T) {
		dst := NewDestination("file", storage.SchemeLocal)
		require.NoError(t, dst.Initialize(ctx, destConfig(map[string]any{"url": t.TempDir()})))
		defer dst.Close(ctx)
		err := dst.Write(ctx, recordStream(user(1, "ada")))
		assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))
	})

	t.Run("unknown compression", func(t *testing.T) {
		dst := NewDestination("file", storage.SchemeLocal)
		err := dst.Initialize(ctx, destConfig(map[string]any{
			"url":         t.TempDir(),
			"format":      "csv",
			"compression": "rar",
		}))
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	})

	t.Run("nil schema", func(t *testing.T) {
		dst := NewDestination("file", storage.SchemeLocal)
		assert.True(t, errors.IsType(dst.CreateSchema(ctx, nil), errors.ErrorTypeSchema))
	})
}

func TestDestination_Registered(t *testing.T) {
	var names []string
	for _, info := range registry.ListConnectorInfo() {
		if info.Type == core.ConnectorTypeDestination {
			names = append(names, info.Name)
		}
	}
	sort.Strings(names)
	for _, want := range []string{"file", "gcs", "s3"} {
		assert.Contains(t, names, want)
	}

	dst, err := registry.CreateDestination("s3", config.NewBaseConfig("out", "s3"))
	require.NoError(t, err)
	assert.IsType(t, &Destination{}, dst)
}
