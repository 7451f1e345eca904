package avro

import (
	"io"
	"strings"
	"sync"

	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/formats"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

func init() {
	formats.Register(formats.Info{
		Format:        formats.Avro,
		Name:          "Apache Avro",
		Extension:     ".avro",
		MIMEType:      "application/avro",
		SelfDescribed: true,
		Nested:        true,
	}, func(w io.Writer, cfg formats.WriterConfig) (formats.Writer, error) {
		return NewWriter(w, cfg)
	}, func(r io.Reader, cfg formats.ReaderConfig) (formats.Reader, error) {
		return NewReader(r, cfg)
	})
}

// Codec returns the OCF block codec for a compression setting. Avro only
// knows null, deflate and snappy; snappy is the default.
func Codec(compression string) (string, error) {
	switch strings.ToLower(compression) {
	case "", "snappy":
		return goavro.CompressionSnappyLabel, nil
	case "none", "null":
		return goavro.CompressionNullLabel, nil
	case "deflate", "gzip":
		return goavro.CompressionDeflateLabel, nil
	}
	return "", errors.Newf(errors.ErrorTypeConfig, "avro does not support %q compression", compression)
}

// Writer writes records as an Avro object container file. Records are
// buffered and appended as one block per batch.
type Writer struct {
	formats.BaseWriter
	mapping   *mapping
	ocf       *goavro.OCFWriter
	batchSize int
	buffer    []any
	mu        sync.Mutex
}

// NewWriter writes the OCF header to w
func NewWriter(w io.Writer, cfg formats.WriterConfig) (*Writer, error) {
	cfg = cfg.WithDefaults()
	m, err := newMapping(cfg.Schema)
	if err != nil {
		return nil, err
	}
	avroSchema, err := m.json()
	if err != nil {
		return nil, err
	}
	compression, err := Codec(cfg.Compression)
	if err != nil {
		return nil, err
	}
	codec, err := goavro.NewCodec(avroSchema)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to create Avro codec")
	}

	base := formats.NewBaseWriter(formats.Avro, cfg.Schema, w)
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               base.Output(),
		Codec:           codec,
		CompressionName: compression,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create Avro writer")
	}

	return &Writer{
		BaseWriter: base,
		mapping:    m,
		ocf:        ocf,
		batchSize:  cfg.BatchSize,
		buffer:     make([]any, 0, min(cfg.BatchSize, 1024)),
	}, nil
}

// Write buffers a record, appending a block once the batch is full
func (w *Writer) Write(record *models.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := w.Prepare(record)
	if err != nil {
		return err
	}
	w.buffer = append(w.buffer, w.mapping.toNative(w.Schema().Fields, data))
	if len(w.buffer) >= w.batchSize {
		return w.flush()
	}
	return nil
}

// WriteBatch writes records in order
func (w *Writer) WriteBatch(records []*models.Record) error {
	return formats.WriteEach(w, records)
}

// Flush appends buffered records as a block
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flush()
}

func (w *Writer) flush() error {
	if len(w.buffer) == 0 {
		return nil
	}
	if err := w.ocf.Append(w.buffer); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConversion, "failed to write Avro block")
	}
	w.Written(len(w.buffer))
	w.buffer = w.buffer[:0]
	return nil
}

// Close flushes remaining records. OCF files have no footer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.MarkClosed() {
		return nil
	}
	return w.flush()
}

// Reader reads an Avro object container file. The schema comes from the
// file header; when the config carries a schema, records are coerced to it.
type Reader struct {
	formats.BaseReader
	ocf    *goavro.OCFReader
	fields []*schema.Field
	target *schema.Schema
	mu     sync.Mutex
}

// NewReader reads the OCF header from r
func NewReader(r io.Reader, cfg formats.ReaderConfig) (*Reader, error) {
	ocf, err := goavro.NewOCFReader(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create Avro reader")
	}
	fileSchema, err := FromAvro([]byte(ocf.Codec().Schema()))
	if err != nil {
		return nil, err
	}

	reader := &Reader{
		ocf:    ocf,
		fields: fileSchema.Fields,
		target: fileSchema,
	}
	if cfg.Schema != nil {
		reader.target = cfg.Schema
	}
	reader.BaseReader = formats.NewBaseReader(formats.Avro, reader.target)
	return reader, nil
}

// Next decodes the next record
func (r *Reader) Next() (*models.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.ocf.Scan() {
		if err := r.ocf.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read Avro block")
		}
		return nil, io.EOF
	}
	datum, err := r.ocf.Read()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConversion, "failed to decode Avro record")
	}
	native, ok := datum.(map[string]any)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConversion, "avro datum is %T, not a record", datum)
	}
	data, err := fromNative(r.fields, native)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConversion, "failed to decode Avro record")
	}
	data, err = schema.CoerceRecord(r.target, data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConversion, "avro record does not match schema")
	}
	return r.NewRecord(data), nil
}

// ReadAll reads the remaining records
func (r *Reader) ReadAll() ([]*models.Record, error) {
	return formats.ReadAll(r)
}

// Close releases nothing; the underlying reader is the caller's
func (r *Reader) Close() error {
	return nil
}
