// Package columnar provides the Arrow IPC and Parquet formats. Both encode
// through Arrow record batches: records are coerced to the writer schema,
// appended column by column to a record builder and handed to the file
// writer a batch at a time. Readers walk the batches back row by row.
package columnar

import (
	"io"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/formats"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// batchSink receives built record batches
type batchSink interface {
	Write(rec arrow.Record) error
	Close() error
}

// Writer buffers records into Arrow record batches of BatchSize rows
type Writer struct {
	formats.BaseWriter
	arrowSchema *arrow.Schema
	builder     *array.RecordBuilder
	sink        batchSink
	batchSize   int
	pending     int
	err         error
	mu          sync.Mutex
}

func newWriter(base formats.BaseWriter, as *arrow.Schema, mem memory.Allocator, sink batchSink, batchSize int) *Writer {
	return &Writer{
		BaseWriter:  base,
		arrowSchema: as,
		builder:     array.NewRecordBuilder(mem, as),
		sink:        sink,
		batchSize:   batchSize,
	}
}

// ArrowSchema returns the Arrow schema batches are built with
func (w *Writer) ArrowSchema() *arrow.Schema { return w.arrowSchema }

// Write appends a record to the current batch
func (w *Writer) Write(record *models.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return w.err
	}
	data, err := w.Prepare(record)
	if err != nil {
		return err
	}
	for i, f := range w.Schema().Fields {
		if err := appendValue(w.builder.Field(i), f.Type, data[f.Name]); err != nil {
			// the columns of the batch no longer line up
			w.err = errors.Wrapf(err, errors.ErrorTypeInternal, "appending column %q", f.Name)
			return w.err
		}
	}
	w.pending++
	if w.pending >= w.batchSize {
		return w.flush()
	}
	return nil
}

// WriteBatch writes records in order
func (w *Writer) WriteBatch(records []*models.Record) error {
	return formats.WriteEach(w, records)
}

// Flush hands the current batch to the file writer
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flush()
}

func (w *Writer) flush() error {
	if w.err != nil {
		return w.err
	}
	if w.pending == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()

	if err := w.sink.Write(rec); err != nil {
		w.err = errors.Wrapf(err, errors.ErrorTypeFile, "failed to write %s batch", w.Format())
		return w.err
	}
	w.Written(w.pending)
	w.pending = 0
	return nil
}

// Close writes the last batch and the file footer
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.MarkClosed() {
		return nil
	}
	defer w.builder.Release()

	flushErr := w.flush()
	if err := w.sink.Close(); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to close %s writer", w.Format())
	}
	return flushErr
}

// batchSource yields record batches. A batch stays valid until the next call
// to Next.
type batchSource interface {
	Next() bool
	Record() arrow.Record
	Err() error
}

// Reader walks record batches row by row
type Reader struct {
	formats.BaseReader
	source  batchSource
	fields  []*schema.Field
	target  *schema.Schema
	release func()
	batch   arrow.Record
	row     int
	mu      sync.Mutex
}

func newReader(f formats.Format, as *arrow.Schema, source batchSource, release func(), cfg formats.ReaderConfig) (*Reader, error) {
	fileSchema, err := FromArrow(as)
	if err != nil {
		return nil, err
	}
	r := &Reader{
		source:  source,
		fields:  fileSchema.Fields,
		target:  fileSchema,
		release: release,
	}
	if cfg.Schema != nil {
		r.target = cfg.Schema
	}
	r.BaseReader = formats.NewBaseReader(f, r.target)
	return r, nil
}

// Next returns the next row
func (r *Reader) Next() (*models.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for r.batch == nil || r.row >= int(r.batch.NumRows()) {
		if !r.source.Next() {
			r.batch = nil
			if err := r.source.Err(); err != nil && err != io.EOF {
				return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to read %s batch", r.Format())
			}
			return nil, io.EOF
		}
		r.batch = r.source.Record()
		r.row = 0
	}

	data := make(map[string]any, len(r.fields))
	for i, f := range r.fields {
		v, err := valueAt(r.batch.Column(i), f.Type, r.row)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConversion, "reading column %q", f.Name)
		}
		data[f.Name] = v
	}
	r.row++

	data, err := schema.CoerceRecord(r.target, data)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConversion, "%s record does not match schema", r.Format())
	}
	return r.NewRecord(data), nil
}

// ReadAll reads the remaining rows
func (r *Reader) ReadAll() ([]*models.Record, error) {
	return formats.ReadAll(r)
}

// Close releases the batches held by the reader
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batch = nil
	if r.release != nil {
		r.release()
		r.release = nil
	}
	return nil
}
