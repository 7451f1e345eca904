package compression

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamRoundTrip(t *testing.T) {
	original := []byte(strings.Repeat("id,name,amount\n1,widget,9.99\n", 200))

	for _, alg := range []Algorithm{None, Gzip, Snappy, LZ4, Zstd, S2} {
		t.Run(string(alg), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, alg, Default)
			require.NoError(t, err)
			_, err = w.Write(original)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			if alg != None {
				assert.Less(t, buf.Len(), len(original))
			}

			r, err := NewReader(&buf, alg)
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, original, got)
		})
	}
}

func TestParse(t *testing.T) {
	for in, want := range map[string]Algorithm{
		"":       None,
		"none":   None,
		"GZIP":   Gzip,
		"gz":     Gzip,
		"zst":    Zstd,
		"snappy": Snappy,
	} {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := Parse("brotli")
	assert.Error(t, err)
}

func TestFromPath(t *testing.T) {
	assert.Equal(t, Gzip, FromPath("out/part-0001.csv.gz"))
	assert.Equal(t, Zstd, FromPath("events.ndjson.ZST"))
	assert.Equal(t, None, FromPath("data.parquet"))
	assert.Equal(t, "out/part-0001.csv", TrimExtension("out/part-0001.csv.gz"))
	assert.Equal(t, "data.parquet", TrimExtension("data.parquet"))
	assert.Equal(t, ".lz4", LZ4.Extension())
	assert.Equal(t, "", None.Extension())
}

func TestDetect(t *testing.T) {
	payload := []byte(strings.Repeat("{\"id\":1}\n", 50))

	for _, alg := range []Algorithm{Gzip, Snappy, LZ4, Zstd, S2} {
		t.Run(string(alg), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewWriter(&buf, alg, Default)
			require.NoError(t, err)
			_, err = w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			got, r, err := Detect(&buf)
			require.NoError(t, err)
			assert.Equal(t, alg, got)

			zr, err := NewReader(r, got)
			require.NoError(t, err)
			data, err := io.ReadAll(zr)
			require.NoError(t, err)
			assert.Equal(t, payload, data)
		})
	}

	got, r, err := Detect(strings.NewReader("id\n1\n"))
	require.NoError(t, err)
	assert.Equal(t, None, got)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "id\n1\n", string(data))
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"none", "gzip", "lz4", "s2", "snappy", "zstd"}, Names())
	_, err := Parse("brotli")
	assert.ErrorContains(t, err, "supported: none, gzip")
}
