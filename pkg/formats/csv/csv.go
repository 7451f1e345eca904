// Package csv reads and writes delimiter separated text. Nested records are
// flattened into columns whose names join the field path with a separator;
// arrays and maps are JSON text in a single column.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/formats"
	"github.com/ajitpratap0/recordbridge/pkg/logger"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

func init() {
	formats.Register(formats.Info{
		Format:    formats.CSV,
		Name:      "CSV",
		Extension: ".csv",
		MIMEType:  "text/csv",
	}, func(w io.Writer, cfg formats.WriterConfig) (formats.Writer, error) {
		return NewWriter(w, cfg)
	}, func(r io.Reader, cfg formats.ReaderConfig) (formats.Reader, error) {
		return NewReader(r, cfg)
	})
}

// Writer writes one row per record
type Writer struct {
	formats.BaseWriter
	columns   []schema.Column
	stream    io.WriteCloser
	csv       *csv.Writer
	nullToken string
	batchSize int
	pending   int
	mu        sync.Mutex
}

// NewWriter creates a CSV writer over w. The header row is written unless
// cfg.NoHeader is set.
func NewWriter(w io.Writer, cfg formats.WriterConfig) (*Writer, error) {
	cfg = cfg.WithDefaults()
	base := formats.NewBaseWriter(formats.CSV, cfg.Schema, w)
	stream, err := formats.StreamWriter(base.Output(), cfg.Compression)
	if err != nil {
		return nil, err
	}

	cw := csv.NewWriter(stream)
	cw.Comma = cfg.Delimiter
	writer := &Writer{
		BaseWriter: base,
		columns:    schema.Flatten(cfg.Schema, cfg.Separator),
		stream:     stream,
		csv:        cw,
		nullToken:  cfg.NullToken,
		batchSize:  cfg.BatchSize,
	}
	if !cfg.NoHeader {
		if err := cw.Write(schema.ColumnNames(writer.columns)); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to write CSV header")
		}
	}
	return writer, nil
}

// Write encodes a record as a row
func (w *Writer) Write(record *models.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := w.Prepare(record)
	if err != nil {
		return err
	}
	values := schema.FlattenValues(w.columns, data)
	row := make([]string, len(values))
	for i, v := range values {
		if row[i], err = formats.FormatText(w.columns[i].Type, v, w.nullToken); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeConversion, "column %q", w.columns[i].Name)
		}
	}
	if err := w.csv.Write(row); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write CSV row")
	}
	w.Written(1)
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

// Flush pushes buffered rows through the compression stream
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flush()
}

type flusher interface {
	Flush() error
}

func (w *Writer) flush() error {
	w.pending = 0
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush CSV rows")
	}
	if f, ok := w.stream.(flusher); ok {
		if err := f.Flush(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush compressed stream")
		}
	}
	return nil
}

// Close flushes rows and finishes the compression stream
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.MarkClosed() {
		return nil
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush CSV rows")
	}
	if err := w.stream.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close compressed stream")
	}
	return nil
}

// Reader reads rows as records. Without a configured schema one is inferred
// from the first SampleSize rows, which are kept and returned first.
type Reader struct {
	formats.BaseReader
	stream    io.ReadCloser
	csv       *csv.Reader
	columns   []schema.Column
	positions []int
	sampled   [][]string
	nullToken string
	line      int
	mu        sync.Mutex
}

// NewReader reads the header and, when needed, the inference sample
func NewReader(r io.Reader, cfg formats.ReaderConfig) (*Reader, error) {
	cfg = cfg.WithDefaults()
	stream, err := formats.StreamReader(r, cfg.Compression)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(stream)
	cr.Comma = cfg.Delimiter
	cr.FieldsPerRecord = -1

	reader := &Reader{
		stream:    stream,
		csv:       cr,
		nullToken: cfg.NullToken,
	}

	var header []string
	if !cfg.NoHeader {
		header, err = cr.Read()
		if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read CSV header")
		}
		reader.line = 1
	}

	s := cfg.Schema
	if s == nil {
		if s, err = reader.infer(cfg, header); err != nil {
			return nil, err
		}
	}
	reader.BaseReader = formats.NewBaseReader(formats.CSV, s)
	reader.columns = schema.Flatten(s, cfg.Separator)

	if cfg.NoHeader {
		reader.positions = make([]int, len(reader.columns))
		for i := range reader.positions {
			reader.positions[i] = i
		}
	} else if reader.positions, err = schema.MatchColumns(reader.columns, header, cfg.Separator); err != nil {
		return nil, err
	}
	return reader, nil
}

func (r *Reader) infer(cfg formats.ReaderConfig, header []string) (*schema.Schema, error) {
	for len(r.sampled) < cfg.SampleSize {
		row, err := r.csv.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read CSV sample")
		}
		r.sampled = append(r.sampled, row)
	}

	if cfg.NoHeader {
		width := 0
		for _, row := range r.sampled {
			width = max(width, len(row))
		}
		header = make([]string, width)
		for i := range header {
			header[i] = fmt.Sprintf("column_%d", i+1)
		}
	}
	if len(header) == 0 {
		return nil, errors.New(errors.ErrorTypeSchema, "CSV input is empty, no schema to infer")
	}

	inferrer := schema.NewInferrer(logger.Get(),
		schema.WithSampleSize(cfg.SampleSize),
		schema.WithNullTokens(cfg.NullToken),
		schema.WithSeparator(cfg.Separator),
	)
	s, err := inferrer.InferRows(cfg.Name, header, r.sampled)
	if err != nil {
		return nil, err
	}
	logger.Get().Debug("inferred CSV schema",
		zap.String("schema", s.Name),
		zap.Int("columns", len(header)),
		zap.Int("sampled_rows", len(r.sampled)))
	return s, nil
}

// Next decodes the next row
func (r *Reader) Next() (*models.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var row []string
	if len(r.sampled) > 0 {
		row, r.sampled = r.sampled[0], r.sampled[1:]
	} else {
		var err error
		if row, err = r.csv.Read(); err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read CSV row")
		}
	}
	r.line++

	values := make([]any, len(r.columns))
	for i, c := range r.columns {
		var (
			v   any
			err error
		)
		// absent columns and short rows are null
		if pos := r.positions[i]; pos >= 0 && pos < len(row) {
			v, err = formats.ParseText(c.Type, row[pos], r.nullToken)
		} else {
			v, err = schema.Coerce(c.Type, nil)
		}
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConversion, "line %d column %q", r.line, c.Name)
		}
		values[i] = v
	}
	data, err := schema.UnflattenValues(r.Schema(), values)
	if err != nil {
		return nil, err
	}
	// leaves of nullable records are nullable; the record decides
	if data, err = schema.CoerceRecord(r.Schema(), data); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConversion, "line %d", r.line)
	}
	return r.NewRecord(data), nil
}

// ReadAll reads the remaining rows
func (r *Reader) ReadAll() ([]*models.Record, error) {
	return formats.ReadAll(r)
}

// Close releases the decompression stream; the underlying reader is the
// caller's
func (r *Reader) Close() error {
	return r.stream.Close()
}
