// Package objects holds what the file, s3 and gcs connectors share: the
// settings that locate objects and pick their format.
package objects

import (
	"context"
	"unicode/utf8"

	"github.com/ajitpratap0/recordbridge/pkg/compression"
	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/formats"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
	"github.com/ajitpratap0/recordbridge/pkg/storage"
)

// Settings are the connector settings of object connectors.
//
//	settings:
//	  url: s3://lake/exports/orders
//	  format: parquet
//	  compression: zstd
type Settings struct {
	// URL locates the objects: a directory, s3://bucket/prefix or
	// gs://bucket/prefix. Bucket and Prefix may be given instead.
	URL            string `mapstructure:"url"`
	storage.Config `mapstructure:",squash"`

	// Pattern filters source objects by key (path.Match syntax)
	Pattern string `mapstructure:"pattern"`
	// Format overrides detection from the file extension
	Format string `mapstructure:"format"`
	// Compression is the codec inside Avro and Parquet files, or a stream
	// wrapper around CSV and NDJSON
	Compression string `mapstructure:"compression"`
	// SchemaFile is a JSON schema records are coerced to
	SchemaFile string `mapstructure:"schema_file"`

	SampleSize   int    `mapstructure:"sample_size"`
	RowGroupSize int    `mapstructure:"row_group_size"`
	Delimiter    string `mapstructure:"delimiter"`
	NoHeader     bool   `mapstructure:"no_header"`
	NullToken    string `mapstructure:"null_token"`
	Separator    string `mapstructure:"separator"`
	SheetName    string `mapstructure:"sheet_name"`

	// Destination only

	// FilePrefix names part files: <file_prefix>-00000.<ext>
	FilePrefix string `mapstructure:"file_prefix"`
	// MaxRecordsPerFile rolls to a new part file (0 = one file per run)
	MaxRecordsPerFile int64 `mapstructure:"max_records_per_file"`
	// MaxBytesPerFile rolls to a new part file once this many encoded
	// bytes were written (0 = no limit)
	MaxBytesPerFile int64 `mapstructure:"max_bytes_per_file"`
}

// Decode reads Settings from a connector configuration. scheme is used when
// neither url nor scheme is set.
func Decode(cfg *config.BaseConfig, scheme storage.Scheme) (*Settings, error) {
	var s Settings
	if err := cfg.Decode(&s); err != nil {
		return nil, err
	}
	if s.URL != "" {
		parsed, err := storage.ParseURL(s.URL)
		if err != nil {
			return nil, err
		}
		s.Scheme, s.Bucket = parsed.Scheme, parsed.Bucket
		if s.Prefix == "" {
			s.Prefix = parsed.Prefix
		}
	}
	if s.Scheme == "" {
		s.Scheme = scheme
	}
	if s.CredentialsFile == "" {
		s.CredentialsFile = cfg.Security.CredentialsFile
	}
	if s.Scheme != storage.SchemeLocal && s.Bucket == "" {
		return nil, errors.Newf(errors.ErrorTypeConfig, "%s connector needs url or bucket", cfg.Type)
	}
	if s.Delimiter != "" && utf8.RuneCountInString(s.Delimiter) != 1 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "delimiter %q must be a single character", s.Delimiter)
	}
	if s.Format != "" {
		if _, ok := formats.Lookup(formats.Format(s.Format)); !ok {
			return nil, errors.Newf(errors.ErrorTypeConfig, "unknown format %q", s.Format)
		}
	}
	return &s, nil
}

// OpenStore opens the store the settings locate
func (s *Settings) OpenStore(ctx context.Context) (storage.Store, error) {
	return storage.Open(ctx, s.Config)
}

// LoadSchema reads SchemaFile, returning nil when none is configured
func (s *Settings) LoadSchema() (*schema.Schema, error) {
	if s.SchemaFile == "" {
		return nil, nil
	}
	return schema.LoadFile(s.SchemaFile)
}

func (s *Settings) delimiter() rune {
	if s.Delimiter == "" {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(s.Delimiter)
	return r
}

// Resolve returns the format and stream compression of key. Configured
// values win over what the extension says.
func (s *Settings) Resolve(key string) (formats.Format, string, error) {
	f, alg, err := formats.FormatFromPath(key)
	if s.Format != "" {
		f, err = formats.Format(s.Format), nil
	}
	if err != nil {
		return "", "", err
	}
	codec := ""
	if alg != compression.None {
		codec = string(alg)
	}
	if s.Compression != "" {
		codec = s.Compression
	}
	return f, codec, nil
}

// ReaderConfig builds the reader configuration for an object
func (s *Settings) ReaderConfig(f formats.Format, codec string, sch *schema.Schema, name string) *formats.ReaderConfig {
	return &formats.ReaderConfig{
		Format:      f,
		Schema:      sch,
		Compression: codec,
		SampleSize:  s.SampleSize,
		Name:        name,
		Delimiter:   s.delimiter(),
		NoHeader:    s.NoHeader,
		NullToken:   s.NullToken,
		Separator:   s.Separator,
		SheetName:   s.SheetName,
	}
}

// WriterConfig builds the writer configuration for part files
func (s *Settings) WriterConfig(f formats.Format, sch *schema.Schema, batchSize int) *formats.WriterConfig {
	return &formats.WriterConfig{
		Format:       f,
		Schema:       sch,
		Compression:  s.Compression,
		BatchSize:    batchSize,
		RowGroupSize: s.RowGroupSize,
		Delimiter:    s.delimiter(),
		NoHeader:     s.NoHeader,
		NullToken:    s.NullToken,
		Separator:    s.Separator,
		SheetName:    s.SheetName,
	}
}

// IsStreamCompressed reports whether f wraps its whole output in the
// compression codec, so file names carry the codec's extension
func IsStreamCompressed(f formats.Format) bool {
	return f == formats.CSV || f == formats.NDJSON
}
