package formats

import (
	"bytes"
	"io"
	"sync/atomic"
	"time"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// CountingWriter counts the bytes passed to the wrapped writer
type CountingWriter struct {
	w io.Writer
	n int64
}

// NewCountingWriter wraps w
func NewCountingWriter(w io.Writer) *CountingWriter {
	return &CountingWriter{w: w}
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	atomic.AddInt64(&c.n, int64(n))
	return n, err
}

// Count returns the bytes written so far
func (c *CountingWriter) Count() int64 {
	return atomic.LoadInt64(&c.n)
}

// BaseWriter holds what every writer shares: the format, the schema and the
// output counters
type BaseWriter struct {
	format  Format
	schema  *schema.Schema
	out     *CountingWriter
	records int64
	closed  bool
}

// NewBaseWriter wraps w in a counting writer
func NewBaseWriter(f Format, s *schema.Schema, w io.Writer) BaseWriter {
	return BaseWriter{format: f, schema: s, out: NewCountingWriter(w)}
}

// Format returns the format written
func (b *BaseWriter) Format() Format { return b.format }

// Schema returns the writer's schema
func (b *BaseWriter) Schema() *schema.Schema { return b.schema }

// Output returns the counting writer encoders should write to
func (b *BaseWriter) Output() *CountingWriter { return b.out }

// RecordsWritten returns records written
func (b *BaseWriter) RecordsWritten() int64 { return atomic.LoadInt64(&b.records) }

// BytesWritten returns bytes written to the underlying writer
func (b *BaseWriter) BytesWritten() int64 { return b.out.Count() }

// Prepare coerces a record's data to the writer's schema
func (b *BaseWriter) Prepare(record *models.Record) (map[string]any, error) {
	if b.closed {
		return nil, errors.Newf(errors.ErrorTypeInternal, "%s writer is closed", b.format)
	}
	if record == nil {
		return nil, errors.New(errors.ErrorTypeData, "nil record")
	}
	data, err := schema.CoerceRecord(b.schema, record.Data)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConversion, "record %d does not match schema %q", b.RecordsWritten()+1, b.schema.Name)
	}
	return data, nil
}

// Written counts n encoded records
func (b *BaseWriter) Written(n int) { atomic.AddInt64(&b.records, int64(n)) }

// MarkClosed reports whether the writer was already closed and marks it
// closed
func (b *BaseWriter) MarkClosed() bool {
	was := b.closed
	b.closed = true
	return was
}

// WriteEach implements WriteBatch on top of a single record writer
func WriteEach(w Writer, records []*models.Record) error {
	for _, r := range records {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// ReadAll drains a reader's Next
func ReadAll(r Reader) ([]*models.Record, error) {
	var records []*models.Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
}

// BaseReader builds records for a reader
type BaseReader struct {
	format Format
	schema *schema.Schema
	offset int64
}

// NewBaseReader creates a base reader. The schema may be set later.
func NewBaseReader(f Format, s *schema.Schema) BaseReader {
	return BaseReader{format: f, schema: s}
}

// Format returns the format read
func (b *BaseReader) Format() Format { return b.format }

// Schema returns the schema of the records read
func (b *BaseReader) Schema() *schema.Schema { return b.schema }

// SetSchema replaces the reader's schema
func (b *BaseReader) SetSchema(s *schema.Schema) { b.schema = s }

// NewRecord wraps canonical data in a record with reader metadata
func (b *BaseReader) NewRecord(data map[string]any) *models.Record {
	b.offset++
	r := models.NewRecord(b.schema, data)
	r.Metadata.Format = string(b.format)
	r.Metadata.Offset = b.offset
	r.Metadata.Timestamp = time.Now()
	return r
}

// ReadSeekerAt is what formats with a footer index (Parquet, Arrow IPC)
// need to read from
type ReadSeekerAt interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// RandomAccess returns r as a ReadSeekerAt with its size, buffering it in
// memory when it does not support random access itself
func RandomAccess(r io.Reader) (ReadSeekerAt, int64, error) {
	if rs, ok := r.(ReadSeekerAt); ok {
		size, err := rs.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrorTypeFile, "seeking to end of input")
		}
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrorTypeFile, "seeking to start of input")
		}
		return rs, size, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrorTypeFile, "buffering input")
	}
	return bytes.NewReader(data), int64(len(data)), nil
}
