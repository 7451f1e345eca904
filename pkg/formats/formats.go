// Package formats defines the Writer and Reader contracts shared by every
// file format recordbridge converts to and from, and a registry that format
// packages add themselves to from init().
//
// Import pkg/formats/all (or the individual format packages) for their
// registration side effects:
//
//	import _ "github.com/ajitpratap0/recordbridge/pkg/formats/all"
//
//	w, err := formats.NewWriter(file, &formats.WriterConfig{
//	    Format: formats.Parquet,
//	    Schema: s,
//	})
package formats

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ajitpratap0/recordbridge/pkg/compression"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// Format names a file format
type Format string

const (
	// Avro is Apache Avro object container files
	Avro Format = "avro"
	// Parquet is Apache Parquet
	Parquet Format = "parquet"
	// Arrow is the Apache Arrow IPC file format
	Arrow Format = "arrow"
	// CSV is delimiter separated text
	CSV Format = "csv"
	// Excel is Office Open XML spreadsheets
	Excel Format = "excel"
	// NDJSON is newline delimited JSON
	NDJSON Format = "ndjson"
)

// Writer encodes records into a format. Every record is coerced to the
// writer's schema before it is encoded.
type Writer interface {
	// Write encodes a single record
	Write(record *models.Record) error
	// WriteBatch encodes records in order
	WriteBatch(records []*models.Record) error
	// Flush pushes buffered records to the underlying writer
	Flush() error
	// Close flushes and finalizes the file; it does not close the
	// underlying writer
	Close() error
	// Format returns the format written
	Format() Format
	// RecordsWritten returns records written
	RecordsWritten() int64
	// BytesWritten returns bytes written to the underlying writer
	BytesWritten() int64
}

// Reader decodes records from a format
type Reader interface {
	// Schema returns the schema of the records read
	Schema() *schema.Schema
	// Next returns the next record, or io.EOF at the end
	Next() (*models.Record, error)
	// ReadAll reads the remaining records
	ReadAll() ([]*models.Record, error)
	// Close releases the reader; it does not close the underlying reader
	Close() error
	// Format returns the format read
	Format() Format
}

// WriterConfig configures writers
type WriterConfig struct {
	Format Format
	Schema *schema.Schema
	// Compression is the codec inside the file for Avro and Parquet and a
	// stream wrapper for CSV and NDJSON
	Compression  string
	BatchSize    int
	RowGroupSize int

	// Delimiter separates CSV fields
	Delimiter rune
	// NoHeader omits the CSV header row
	NoHeader bool
	// NullToken is the CSV text written for null
	NullToken string
	// Separator joins nested field names in flat formats
	Separator string
	// SheetName is the Excel worksheet written
	SheetName string
}

// ReaderConfig configures readers
type ReaderConfig struct {
	Format Format
	// Schema, when set, is the schema records are coerced to. Formats that
	// carry no schema infer one from a sample when it is nil.
	Schema      *schema.Schema
	Compression string
	BatchSize   int
	SampleSize  int
	// Name names inferred schemas
	Name string

	Delimiter rune
	NoHeader  bool
	NullToken string
	Separator string
	SheetName string
}

// Defaults shared by writers and readers
const (
	DefaultBatchSize    = 10000
	DefaultRowGroupSize = 64 * 1024
	DefaultSheetName    = "Sheet1"
	DefaultSchemaName   = "record"
)

// WithDefaults returns a copy of c with unset fields filled in
func (c WriterConfig) WithDefaults() WriterConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.RowGroupSize <= 0 {
		c.RowGroupSize = DefaultRowGroupSize
	}
	if c.Delimiter == 0 {
		c.Delimiter = ','
	}
	if c.Separator == "" {
		c.Separator = schema.DefaultSeparator
	}
	if c.SheetName == "" {
		c.SheetName = DefaultSheetName
	}
	return c
}

// WithDefaults returns a copy of c with unset fields filled in
func (c ReaderConfig) WithDefaults() ReaderConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.SampleSize <= 0 {
		c.SampleSize = schema.DefaultSampleSize
	}
	if c.Name == "" {
		c.Name = DefaultSchemaName
	}
	if c.Delimiter == 0 {
		c.Delimiter = ','
	}
	if c.Separator == "" {
		c.Separator = schema.DefaultSeparator
	}
	return c
}

// Info describes a registered format
type Info struct {
	Format        Format
	Name          string
	Extension     string
	MIMEType      string
	SelfDescribed bool
	Nested        bool
}

// WriterFactory creates a writer over w
type WriterFactory func(w io.Writer, cfg WriterConfig) (Writer, error)

// ReaderFactory creates a reader over r
type ReaderFactory func(r io.Reader, cfg ReaderConfig) (Reader, error)

type registration struct {
	info      Info
	newWriter WriterFactory
	newReader ReaderFactory
}

var (
	registryMu sync.RWMutex
	registry   = make(map[Format]registration)
)

// Register adds a format. It panics on duplicate registration, like
// database/sql drivers do.
func Register(info Info, newWriter WriterFactory, newReader ReaderFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[info.Format]; dup {
		panic(fmt.Sprintf("formats: %s registered twice", info.Format))
	}
	registry[info.Format] = registration{info: info, newWriter: newWriter, newReader: newReader}
}

func lookup(f Format) (registration, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	reg, ok := registry[f]
	if !ok {
		return registration{}, errors.Newf(errors.ErrorTypeCapability, "format %q is not registered", f)
	}
	return reg, nil
}

// NewWriter creates a writer for cfg.Format over w
func NewWriter(w io.Writer, cfg *WriterConfig) (Writer, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "writer config is required")
	}
	reg, err := lookup(cfg.Format)
	if err != nil {
		return nil, err
	}
	if cfg.Schema == nil {
		return nil, errors.Newf(errors.ErrorTypeConfig, "%s writer requires a schema", cfg.Format)
	}
	if err := cfg.Schema.Validate(); err != nil {
		return nil, err
	}
	return reg.newWriter(w, cfg.WithDefaults())
}

// NewReader creates a reader for cfg.Format over r
func NewReader(r io.Reader, cfg *ReaderConfig) (Reader, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "reader config is required")
	}
	reg, err := lookup(cfg.Format)
	if err != nil {
		return nil, err
	}
	if cfg.Schema != nil {
		if err := cfg.Schema.Validate(); err != nil {
			return nil, err
		}
	}
	return reg.newReader(r, cfg.WithDefaults())
}

// Lookup returns the info of a registered format
func Lookup(f Format) (Info, bool) {
	reg, err := lookup(f)
	return reg.info, err == nil
}

// List returns the registered formats ordered by name
func List() []Info {
	registryMu.RLock()
	defer registryMu.RUnlock()
	infos := make([]Info, 0, len(registry))
	for _, reg := range registry {
		infos = append(infos, reg.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Format < infos[j].Format })
	return infos
}

// aliases maps extra extensions onto formats
var aliases = map[string]Format{
	".jsonl":   NDJSON,
	".json":    NDJSON,
	".tsv":     CSV,
	".ipc":     Arrow,
	".feather": Arrow,
	".xlsm":    Excel,
}

// FormatFromPath picks a format from a file name, looking through a
// compression suffix such as ".csv.gz"
func FormatFromPath(path string) (Format, compression.Algorithm, error) {
	alg := compression.FromPath(path)
	ext := strings.ToLower(filepath.Ext(compression.TrimExtension(path)))

	registryMu.RLock()
	defer registryMu.RUnlock()
	for _, reg := range registry {
		if reg.info.Extension == ext {
			return reg.info.Format, alg, nil
		}
	}
	if f, ok := aliases[ext]; ok {
		return f, alg, nil
	}
	return "", alg, errors.Newf(errors.ErrorTypeConfig, "cannot tell the format of %q", path)
}
