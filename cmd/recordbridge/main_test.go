package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConvert_NDJSONToCSVAndBack(t *testing.T) {
	in := writeFile(t, "users.ndjson", "{\"id\":1,\"name\":\"ada\"}\n{\"id\":2,\"name\":\"bob\"}\n")
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "users.csv")

	out, err := execute(t, "convert", in, csvPath)
	require.NoError(t, err)
	assert.Contains(t, out, "converted 2 records")

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, "id,name\n1,ada\n2,bob\n", string(data))

	back := filepath.Join(dir, "back.jsonl")
	_, err = execute(t, "convert", csvPath, back)
	require.NoError(t, err)
	data, err = os.ReadFile(back)
	require.NoError(t, err)
	assert.Equal(t, "{\"id\":1,\"name\":\"ada\"}\n{\"id\":2,\"name\":\"bob\"}\n", string(data))
}

func TestConvert_Errors(t *testing.T) {
	in := writeFile(t, "users.ndjson", "{\"id\":1}\n")

	_, err := execute(t, "convert", in, filepath.Join(t.TempDir(), "users.unknown"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot tell the format")

	_, err = execute(t, "convert", filepath.Join(t.TempDir(), "missing.csv"), filepath.Join(t.TempDir(), "out.csv"))
	require.Error(t, err)

	_, err = execute(t, "convert", in)
	require.Error(t, err)
}

func TestSchemaInfer(t *testing.T) {
	in := writeFile(t, "orders.csv", "id,total,paid\n1,9.5,true\n2,,false\n")

	out, err := execute(t, "schema", "infer", in)
	require.NoError(t, err)

	s, err := schema.Parse([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, "orders", s.Name)
	assert.Equal(t, []string{"id", "total", "paid"}, s.FieldNames())

	total, ok := s.Field("total")
	require.True(t, ok)
	assert.Equal(t, schema.KindDouble, total.Type.Kind)
	assert.True(t, total.Type.Nullable)
}

func TestSchemaShow(t *testing.T) {
	s := schema.New("orders",
		schema.NewField("id", schema.Long()),
		schema.NewField("placed", schema.Date().Optional()),
	)
	doc, err := s.MarshalIndent()
	require.NoError(t, err)
	path := writeFile(t, "orders.schema.json", string(doc))

	out, err := execute(t, "schema", "show", path, "--as", "avro")
	require.NoError(t, err)
	assert.Contains(t, out, `"logicalType": "date"`)
	assert.Contains(t, out, `"null"`)

	out, err = execute(t, "schema", "show", path, "--as", "bigquery")
	require.NoError(t, err)
	assert.Contains(t, out, `"DATE"`)
	assert.Contains(t, out, `"INTEGER"`)

	out, err = execute(t, "schema", "show", path, "--as", "arrow")
	require.NoError(t, err)
	assert.Contains(t, out, "date32")

	_, err = execute(t, "schema", "show", path, "--as", "protobuf")
	require.Error(t, err)
}

func TestListAndVersion(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)
	for _, name := range []string{"file", "s3", "gcs", "database", "mongodb", "bigquery", "kafka"} {
		assert.Contains(t, out, name)
	}
	assert.True(t, strings.HasPrefix(out, "TYPE"))

	out, err = execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "recordbridge v"+version)
}

func TestRun_MissingFile(t *testing.T) {
	_, err := execute(t, "run", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read pipeline file")
}
