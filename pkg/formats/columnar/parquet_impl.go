package columnar

import (
	"context"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/formats"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

func init() {
	formats.Register(formats.Info{
		Format:        formats.Parquet,
		Name:          "Apache Parquet",
		Extension:     ".parquet",
		MIMEType:      "application/vnd.apache.parquet",
		SelfDescribed: true,
		Nested:        true,
	}, func(w io.Writer, cfg formats.WriterConfig) (formats.Writer, error) {
		return NewParquetWriter(w, cfg)
	}, func(r io.Reader, cfg formats.ReaderConfig) (formats.Reader, error) {
		return NewParquetReader(r, cfg)
	})
}

// ParquetCompression returns the page codec for a compression setting;
// snappy is the default
func ParquetCompression(compression string) (compress.Compression, error) {
	switch strings.ToLower(compression) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	case "lz4", "lz4_raw":
		return compress.Codecs.Lz4Raw, nil
	}
	return compress.Codecs.Uncompressed, errors.Newf(errors.ErrorTypeConfig, "parquet does not support %q compression", compression)
}

// rowGroupWriter fills row groups up to the configured length across
// batches instead of starting one per batch
type rowGroupWriter struct {
	*pqarrow.FileWriter
}

func (w rowGroupWriter) Write(rec arrow.Record) error {
	return w.WriteBuffered(rec)
}

// NewParquetWriter creates a Parquet writer over w. The Arrow schema is
// stored in the file metadata so names, logical types and field metadata
// survive a round trip. Flush hands the batch to the open row group; row
// groups reach w when they are full or on Close.
func NewParquetWriter(w io.Writer, cfg formats.WriterConfig) (*Writer, error) {
	cfg = cfg.WithDefaults()
	as, err := ToArrow(cfg.Schema)
	if err != nil {
		return nil, err
	}
	codec, err := ParquetCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	mem := memory.NewGoAllocator()
	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithMaxRowGroupLength(int64(cfg.RowGroupSize)),
		parquet.WithAllocator(mem),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithStoreSchema(),
		pqarrow.WithAllocator(mem),
	)

	base := formats.NewBaseWriter(formats.Parquet, cfg.Schema, w)
	fw, err := pqarrow.NewFileWriter(as, base.Output(), props, arrowProps)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create Parquet writer")
	}
	return newWriter(base, as, mem, rowGroupWriter{fw}, cfg.BatchSize), nil
}

// NewParquetReader reads a Parquet file in batches of cfg.BatchSize rows.
// The footer is at the end of the file, so r is buffered in memory unless
// it supports random access.
func NewParquetReader(r io.Reader, cfg formats.ReaderConfig) (*Reader, error) {
	cfg = cfg.WithDefaults()
	ra, _, err := formats.RandomAccess(r)
	if err != nil {
		return nil, err
	}
	// file.Reader.Close would close ra, which belongs to the caller
	pf, err := file.NewParquetReader(ra)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open Parquet file")
	}
	mem := memory.NewGoAllocator()
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: int64(cfg.BatchSize)}, mem)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create Parquet reader")
	}
	as, err := fr.Schema()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to read Parquet schema")
	}
	rr, err := fr.GetRecordReader(context.Background(), nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create Parquet record reader")
	}
	reader, err := newReader(formats.Parquet, as, rr, rr.Release, cfg)
	if err != nil {
		rr.Release()
		return nil, err
	}
	return reader, nil
}

// Statistics summarizes a Parquet file from its footer
type Statistics struct {
	RowCount    int64
	ColumnCount int
	FileSize    int64
	// NullCounts is keyed by dotted column path, summed over row groups
	NullCounts map[string]int64
}

// Metadata describes a Parquet file without reading its pages
type Metadata struct {
	Format      formats.Format
	CreatedBy   string
	Schema      *schema.Schema
	RowGroups   int
	Compression string
	Statistics  *Statistics
	CustomMeta  map[string]string
}

// Inspect reads the footer of a Parquet file
func Inspect(r io.Reader) (*Metadata, error) {
	ra, size, err := formats.RandomAccess(r)
	if err != nil {
		return nil, err
	}
	pf, err := file.NewParquetReader(ra)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open Parquet file")
	}
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create Parquet reader")
	}
	as, err := fr.Schema()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to read Parquet schema")
	}
	s, err := FromArrow(as)
	if err != nil {
		return nil, err
	}

	fmd := pf.MetaData()
	md := &Metadata{
		Format:     formats.Parquet,
		CreatedBy:  fmd.GetCreatedBy(),
		Schema:     s,
		RowGroups:  pf.NumRowGroups(),
		CustomMeta: make(map[string]string),
		Statistics: &Statistics{
			RowCount:    pf.NumRows(),
			ColumnCount: fmd.Schema.NumColumns(),
			FileSize:    size,
			NullCounts:  make(map[string]int64),
		},
	}
	kv := fmd.KeyValueMetadata()
	keys, values := kv.Keys(), kv.Values()
	for i, k := range keys {
		// the serialized arrow schema is already reflected in Schema
		if k == "ARROW:schema" {
			continue
		}
		md.CustomMeta[k] = values[i]
	}

	for rg := 0; rg < pf.NumRowGroups(); rg++ {
		rgm := fmd.RowGroup(rg)
		for c := 0; c < rgm.NumColumns(); c++ {
			chunk, err := rgm.ColumnChunk(c)
			if err != nil {
				return nil, errors.Wrapf(err, errors.ErrorTypeFile, "reading row group %d column %d", rg, c)
			}
			if md.Compression == "" {
				md.Compression = strings.ToLower(chunk.Compression().String())
			}
			set, err := chunk.StatsSet()
			if err != nil || !set {
				continue
			}
			stats, err := chunk.Statistics()
			if err != nil || stats == nil || !stats.HasNullCount() {
				continue
			}
			md.Statistics.NullCounts[chunk.PathInSchema().String()] += stats.NullCount()
		}
	}
	return md, nil
}
