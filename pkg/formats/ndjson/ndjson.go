// Package ndjson reads and writes newline delimited JSON: one object per
// line with nested values kept nested. Temporal values are text, bytes are
// base64 and decimals are JSON numbers at their scale.
package ndjson

import (
	"bufio"
	"bytes"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/formats"
	"github.com/ajitpratap0/recordbridge/pkg/json"
	"github.com/ajitpratap0/recordbridge/pkg/logger"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/pool"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

const bufferSize = 64 * 1024

func init() {
	formats.Register(formats.Info{
		Format:    formats.NDJSON,
		Name:      "NDJSON",
		Extension: ".ndjson",
		MIMEType:  "application/x-ndjson",
		Nested:    true,
	}, func(w io.Writer, cfg formats.WriterConfig) (formats.Writer, error) {
		return NewWriter(w, cfg)
	}, func(r io.Reader, cfg formats.ReaderConfig) (formats.Reader, error) {
		return NewReader(r, cfg)
	})
}

// Writer writes one JSON object per line, fields in schema order
type Writer struct {
	formats.BaseWriter
	stream    io.WriteCloser
	buf       *bufio.Writer
	line      *bytes.Buffer
	batchSize int
	pending   int
	mu        sync.Mutex
}

// NewWriter creates an NDJSON writer over w
func NewWriter(w io.Writer, cfg formats.WriterConfig) (*Writer, error) {
	cfg = cfg.WithDefaults()
	base := formats.NewBaseWriter(formats.NDJSON, cfg.Schema, w)
	stream, err := formats.StreamWriter(base.Output(), cfg.Compression)
	if err != nil {
		return nil, err
	}
	return &Writer{
		BaseWriter: base,
		stream:     stream,
		buf:        bufio.NewWriterSize(stream, bufferSize),
		line:       pool.GetBuffer(),
		batchSize:  cfg.BatchSize,
	}, nil
}

// Write encodes a record as a line
func (w *Writer) Write(record *models.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := w.Prepare(record)
	if err != nil {
		return err
	}
	if err := w.encode(data); err != nil {
		return err
	}
	if _, err := w.buf.Write(w.line.Bytes()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write JSON line")
	}
	w.Written(1)
	w.pending++
	if w.pending >= w.batchSize {
		return w.flush()
	}
	return nil
}

// encode renders data into w.line. Top-level keys follow the schema;
// goccy sorts the keys of nested objects.
func (w *Writer) encode(data map[string]any) error {
	w.line.Reset()
	w.line.WriteByte('{')
	for i, f := range w.Schema().Fields {
		if i > 0 {
			w.line.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return errors.Wrapf(err, errors.ErrorTypeConversion, "field name %q", f.Name)
		}
		value, err := json.Marshal(schema.ToJSONValue(f.Type, data[f.Name]))
		if err != nil {
			return errors.Wrapf(err, errors.ErrorTypeConversion, "field %q", f.Name)
		}
		w.line.Write(name)
		w.line.WriteByte(':')
		w.line.Write(value)
	}
	w.line.WriteString("}\n")
	return nil
}

// WriteBatch writes records in order
func (w *Writer) WriteBatch(records []*models.Record) error {
	return formats.WriteEach(w, records)
}

// Flush pushes buffered lines through the compression stream
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
	if err := w.buf.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush JSON lines")
	}
	if f, ok := w.stream.(flusher); ok {
		if err := f.Flush(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush compressed stream")
		}
	}
	return nil
}

// Close flushes and finishes the compression stream
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.MarkClosed() {
		return nil
	}
	pool.PutBuffer(w.line)
	w.line = nil
	if err := w.buf.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to flush JSON lines")
	}
	if err := w.stream.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close compressed stream")
	}
	return nil
}

// Reader reads one object per line. Blank lines are skipped. Without a
// configured schema one is inferred from the first SampleSize objects.
type Reader struct {
	formats.BaseReader
	stream  io.ReadCloser
	buf     *bufio.Reader
	sampled []map[string]any
	// lines of the sampled objects, for error messages
	sampledAt []int
	line      int
	mu        sync.Mutex
}

// NewReader creates an NDJSON reader, inferring the schema when cfg has none
func NewReader(r io.Reader, cfg formats.ReaderConfig) (*Reader, error) {
	cfg = cfg.WithDefaults()
	stream, err := formats.StreamReader(r, cfg.Compression)
	if err != nil {
		return nil, err
	}
	reader := &Reader{
		stream: stream,
		buf:    bufio.NewReaderSize(stream, bufferSize),
	}

	s := cfg.Schema
	if s == nil {
		if s, err = reader.infer(cfg); err != nil {
			return nil, err
		}
	}
	reader.BaseReader = formats.NewBaseReader(formats.NDJSON, s)
	return reader, nil
}

func (r *Reader) infer(cfg formats.ReaderConfig) (*schema.Schema, error) {
	for len(r.sampled) < cfg.SampleSize {
		obj, err := r.readObject()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		r.sampled = append(r.sampled, obj)
		r.sampledAt = append(r.sampledAt, r.line)
	}
	if len(r.sampled) == 0 {
		return nil, errors.New(errors.ErrorTypeSchema, "NDJSON input is empty, no schema to infer")
	}

	samples := make([]map[string]any, len(r.sampled))
	for i, obj := range r.sampled {
		samples[i] = sanitizeAll(obj).(map[string]any)
	}
	inferrer := schema.NewInferrer(logger.Get(), schema.WithSampleSize(cfg.SampleSize))
	s, err := inferrer.InferSchema(cfg.Name, samples)
	if err != nil {
		return nil, err
	}
	logger.Get().Debug("inferred NDJSON schema",
		zap.String("schema", s.Name),
		zap.Int("fields", len(s.Fields)),
		zap.Int("sampled_objects", len(r.sampled)))
	return s, nil
}

// readObject decodes the next non-blank line
func (r *Reader) readObject() (map[string]any, error) {
	for {
		raw, err := r.buf.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read JSON line")
		}
		if len(raw) == 0 && err == io.EOF {
			return nil, io.EOF
		}
		r.line++
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			if err == io.EOF {
				return nil, io.EOF
			}
			continue
		}
		if raw[0] != '{' {
			return nil, errors.Newf(errors.ErrorTypeData, "line %d is not a JSON object", r.line)
		}
		var obj map[string]any
		if uerr := json.Unmarshal(raw, &obj); uerr != nil {
			return nil, errors.Wrapf(uerr, errors.ErrorTypeData, "line %d is not valid JSON", r.line)
		}
		return obj, nil
	}
}

// Next decodes the next object
func (r *Reader) Next() (*models.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		obj  map[string]any
		line int
	)
	if len(r.sampled) > 0 {
		obj, r.sampled = r.sampled[0], r.sampled[1:]
		line, r.sampledAt = r.sampledAt[0], r.sampledAt[1:]
	} else {
		var err error
		if obj, err = r.readObject(); err != nil {
			return nil, err
		}
		line = r.line
	}

	obj = sanitizeKeys(r.Schema().RecordType(), obj).(map[string]any)
	data, err := schema.CoerceRecordJSON(r.Schema(), obj)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConversion, "line %d", line)
	}
	return r.NewRecord(data), nil
}

// sanitizeAll renames every object key to a legal field name
func sanitizeAll(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[schema.SanitizeName(k)] = sanitizeAll(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = sanitizeAll(item)
		}
		return out
	}
	return v
}

// sanitizeKeys renames object keys to the field names of t wherever t
// expects a record. Keys inside json values and map keys are kept.
func sanitizeKeys(t *schema.Type, v any) any {
	if t == nil {
		return v
	}
	switch t.Kind {
	case schema.KindRecord:
		m, ok := v.(map[string]any)
		if !ok {
			return v
		}
		out := make(map[string]any, len(m))
		for k, val := range m {
			name := schema.SanitizeName(k)
			if _, exact := m[name]; exact && name != k {
				// the key already spelled correctly wins
				out[k] = val
				continue
			}
			f, ok := t.Field(name)
			if !ok {
				out[k] = val
				continue
			}
			out[name] = sanitizeKeys(f.Type, val)
		}
		return out
	case schema.KindArray:
		items, ok := v.([]any)
		if !ok {
			return v
		}
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = sanitizeKeys(t.Items, item)
		}
		return out
	case schema.KindMap:
		m, ok := v.(map[string]any)
		if !ok {
			return v
		}
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[k] = sanitizeKeys(t.Values, val)
		}
		return out
	}
	return v
}

// ReadAll reads the remaining objects
func (r *Reader) ReadAll() ([]*models.Record, error) {
	return formats.ReadAll(r)
}

// Close releases the decompression stream
func (r *Reader) Close() error {
	return r.stream.Close()
}
