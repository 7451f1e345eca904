// Package excel reads and writes Office Open XML workbooks (.xlsx). Records
// are rows of one worksheet below a header row of flattened column names.
// Numbers and booleans are typed cells, dates and times are serial numbers
// with a date number format, and decimals, bytes, arrays and maps are text.
//
// A workbook is a zip archive, so the writer keeps the sheet in a temporary
// stream and writes the whole file on Close; Flush has nothing to push.
package excel

import (
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/ajitpratap0/recordbridge/pkg/compression"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/formats"
	"github.com/ajitpratap0/recordbridge/pkg/logger"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// Number formats applied to temporal cells
const (
	DateFormat      = "yyyy-mm-dd"
	TimeFormat      = "hh:mm:ss.000"
	TimestampFormat = "yyyy-mm-dd hh:mm:ss.000"
)

// maxSafeInteger is the largest integer a spreadsheet number holds exactly;
// wider integers are written as text
const maxSafeInteger = 1<<53 - 1

// epoch is serial 0 of the 1900 date system, which counts 1900-02-29
var epoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func init() {
	formats.Register(formats.Info{
		Format:    formats.Excel,
		Name:      "Excel",
		Extension: ".xlsx",
		MIMEType:  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	}, func(w io.Writer, cfg formats.WriterConfig) (formats.Writer, error) {
		return NewWriter(w, cfg)
	}, func(r io.Reader, cfg formats.ReaderConfig) (formats.Reader, error) {
		return NewReader(r, cfg)
	})
}

// Serial converts a time to a spreadsheet serial number in days
func Serial(t time.Time) float64 {
	return float64(t.Sub(epoch)) / float64(day)
}

// FromSerial converts a serial number back to a UTC time rounded to the
// millisecond
func FromSerial(serial float64) time.Time {
	ms := math.Round(serial * float64(day/time.Millisecond))
	return epoch.Add(time.Duration(ms) * time.Millisecond)
}

func checkCompression(name string) error {
	alg, err := compression.Parse(name)
	if err != nil {
		return err
	}
	if alg != compression.None {
		return errors.Newf(errors.ErrorTypeConfig, "excel workbooks are zip archives, %s compression is not supported", alg)
	}
	return nil
}

// Writer writes records as worksheet rows
type Writer struct {
	formats.BaseWriter
	file    *excelize.File
	stream  *excelize.StreamWriter
	columns []schema.Column
	styles  map[schema.LogicalType]int
	row     int
	mu      sync.Mutex
}

// NewWriter creates a workbook with one sheet named cfg.SheetName
func NewWriter(w io.Writer, cfg formats.WriterConfig) (*Writer, error) {
	cfg = cfg.WithDefaults()
	if err := checkCompression(cfg.Compression); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	writer, err := newWriter(f, w, cfg)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(f *excelize.File, w io.Writer, cfg formats.WriterConfig) (*Writer, error) {
	sheet := f.GetSheetList()[0]
	if cfg.SheetName != sheet {
		if err := f.SetSheetName(sheet, cfg.SheetName); err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "invalid sheet name %q", cfg.SheetName)
		}
		sheet = cfg.SheetName
	}

	styles := make(map[schema.LogicalType]int)
	for logical, numFmt := range map[schema.LogicalType]string{
		schema.LogicalDate:            DateFormat,
		schema.LogicalTimeMillis:      TimeFormat,
		schema.LogicalTimeMicros:      TimeFormat,
		schema.LogicalTimestampMillis: TimestampFormat,
		schema.LogicalTimestampMicros: TimestampFormat,
	} {
		numFmt := numFmt
		id, err := f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create cell style")
		}
		styles[logical] = id
	}

	stream, err := f.NewStreamWriter(sheet)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open worksheet stream")
	}

	writer := &Writer{
		BaseWriter: formats.NewBaseWriter(formats.Excel, cfg.Schema, w),
		file:       f,
		stream:     stream,
		columns:    schema.Flatten(cfg.Schema, cfg.Separator),
		styles:     styles,
	}
	if len(writer.columns) > excelize.MaxColumns {
		return nil, errors.Newf(errors.ErrorTypeCapability, "%d columns exceed the worksheet limit of %d", len(writer.columns), excelize.MaxColumns)
	}

	header := make([]any, len(writer.columns))
	for i, c := range writer.columns {
		header[i] = c.Name
	}
	if err := writer.setRow(header); err != nil {
		return nil, err
	}
	return writer, nil
}

func (w *Writer) setRow(values []any) error {
	if w.row >= excelize.TotalRows {
		return errors.Newf(errors.ErrorTypeCapability, "worksheet is full at %d rows", excelize.TotalRows)
	}
	w.row++
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "invalid cell reference")
	}
	if err := w.stream.SetRow(cell, values); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to write row %d", w.row)
	}
	return nil
}

// Write appends a record as a row
func (w *Writer) Write(record *models.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := w.Prepare(record)
	if err != nil {
		return err
	}
	values := schema.FlattenValues(w.columns, data)
	row := make([]any, len(values))
	for i, v := range values {
		if row[i], err = w.cell(w.columns[i].Type, v); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeConversion, "column %q", w.columns[i].Name)
		}
	}
	if err := w.setRow(row); err != nil {
		return err
	}
	w.Written(1)
	return nil
}

// cell maps a canonical value onto a cell value
func (w *Writer) cell(t *schema.Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t.Logical {
	case schema.LogicalDate, schema.LogicalTimestampMillis, schema.LogicalTimestampMicros:
		ts, ok := v.(time.Time)
		if !ok {
			break
		}
		return excelize.Cell{StyleID: w.styles[t.Logical], Value: Serial(ts)}, nil
	case schema.LogicalTimeMillis, schema.LogicalTimeMicros:
		d, ok := v.(time.Duration)
		if !ok {
			break
		}
		return excelize.Cell{StyleID: w.styles[t.Logical], Value: float64(d) / float64(day)}, nil
	}

	switch x := v.(type) {
	case bool, int32:
		return x, nil
	case int64:
		if x > maxSafeInteger || x < -maxSafeInteger {
			return strconv.FormatInt(x, 10), nil
		}
		return x, nil
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return strconv.FormatFloat(float64(x), 'g', -1, 32), nil
		}
		return x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return strconv.FormatFloat(x, 'g', -1, 64), nil
		}
		return x, nil
	}

	text, err := formats.FormatText(t, v, "")
	if err != nil {
		return nil, err
	}
	if n := utf8.RuneCountInString(text); n > excelize.TotalCellChars {
		return nil, errors.Newf(errors.ErrorTypeCapability, "%d characters exceed the cell limit of %d", n, excelize.TotalCellChars)
	}
	return text, nil
}

// WriteBatch writes records in order
func (w *Writer) WriteBatch(records []*models.Record) error {
	return formats.WriteEach(w, records)
}

// Flush is a no-op; the workbook is written on Close
func (w *Writer) Flush() error {
	return nil
}

// Close finishes the sheet and writes the workbook
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.MarkClosed() {
		return nil
	}
	defer w.file.Close()

	if err := w.stream.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to finish worksheet")
	}
	if _, err := w.file.WriteTo(w.Output()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write workbook")
	}
	return nil
}

// Reader reads the rows of one worksheet. Without a configured schema one is
// inferred from the first SampleSize rows; cells with a date number format
// count as dates or timestamps.
type Reader struct {
	formats.BaseReader
	file      *excelize.File
	rows      *excelize.Rows
	sheet     string
	columns   []schema.Column
	positions []int
	sampled   [][]string
	rowNum    int
	sampleAt  []int
	closed    bool
	mu        sync.Mutex
}

// NewReader opens a workbook. cfg.SheetName selects the sheet, the first one
// by default.
func NewReader(r io.Reader, cfg formats.ReaderConfig) (*Reader, error) {
	cfg = cfg.WithDefaults()
	if err := checkCompression(cfg.Compression); err != nil {
		return nil, err
	}
	f, err := excelize.OpenReader(r, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open workbook")
	}
	reader, err := newReader(f, cfg)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return reader, nil
}

func newReader(f *excelize.File, cfg formats.ReaderConfig) (*Reader, error) {
	sheet := cfg.SheetName
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, errors.New(errors.ErrorTypeFile, "workbook has no sheets")
		}
		sheet = sheets[0]
	} else if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "sheet %q not found", sheet)
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to read sheet %q", sheet)
	}
	reader := &Reader{file: f, rows: rows, sheet: sheet}

	header, err := reader.nextRow()
	if err != nil && err != io.EOF {
		return nil, err
	}

	s := cfg.Schema
	if s == nil {
		if s, err = reader.infer(cfg, header); err != nil {
			return nil, err
		}
	}
	reader.BaseReader = formats.NewBaseReader(formats.Excel, s)
	reader.columns = schema.Flatten(s, cfg.Separator)
	if reader.positions, err = schema.MatchColumns(reader.columns, header, cfg.Separator); err != nil {
		return nil, err
	}
	return reader, nil
}

// nextRow returns the next row with a non-empty cell
func (r *Reader) nextRow() ([]string, error) {
	for r.rows.Next() {
		r.rowNum++
		cells, err := r.rows.Columns()
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to read row %d", r.rowNum)
		}
		for _, c := range cells {
			if c != "" {
				return cells, nil
			}
		}
	}
	if err := r.rows.Error(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read rows")
	}
	return nil, io.EOF
}

func (r *Reader) infer(cfg formats.ReaderConfig, header []string) (*schema.Schema, error) {
	if len(header) == 0 {
		return nil, errors.Newf(errors.ErrorTypeSchema, "sheet %q is empty, no schema to infer", r.sheet)
	}
	for len(r.sampled) < cfg.SampleSize {
		row, err := r.nextRow()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if err := r.formatCells(row); err != nil {
			return nil, err
		}
		r.sampled = append(r.sampled, row)
		r.sampleAt = append(r.sampleAt, r.rowNum)
	}

	inferrer := schema.NewInferrer(logger.Get(),
		schema.WithSampleSize(cfg.SampleSize),
		schema.WithSeparator(cfg.Separator),
	)
	s, err := inferrer.InferRows(cfg.Name, header, r.sampled)
	if err != nil {
		return nil, err
	}
	logger.Get().Debug("inferred Excel schema",
		zap.String("schema", s.Name),
		zap.String("sheet", r.sheet),
		zap.Int("columns", len(header)),
		zap.Int("sampled_rows", len(r.sampled)))
	return s, nil
}

// formatCells rewrites the raw values of typed cells in the current row:
// booleans stored as 1/0 become true/false and serial numbers in date
// formatted cells become ISO text, so that inference sees their real types
func (r *Reader) formatCells(row []string) error {
	for i, cell := range row {
		if cell == "" {
			continue
		}
		ref, err := excelize.CoordinatesToCellName(i+1, r.rowNum)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "invalid cell reference")
		}
		if ct, err := r.file.GetCellType(r.sheet, ref); err == nil && ct == excelize.CellTypeBool {
			if b, ok := schema.ParseBool(cell); ok {
				row[i] = strconv.FormatBool(b)
			}
			continue
		}
		serial, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			continue
		}
		styleID, err := r.file.GetCellStyle(r.sheet, ref)
		if err != nil || styleID == 0 {
			continue
		}
		style, err := r.file.GetStyle(styleID)
		if err != nil {
			continue
		}
		switch dateKind(style) {
		case schema.LogicalDate:
			row[i] = schema.FormatTemporal(schema.LogicalDate, FromSerial(math.Floor(serial)))
		case schema.LogicalTimestampMillis:
			row[i] = schema.FormatTemporal(schema.LogicalTimestampMillis, FromSerial(serial))
		}
	}
	return nil
}

// dateKind classifies a number format as a date, a timestamp or neither.
// Time-only formats stay numeric.
func dateKind(style *excelize.Style) schema.LogicalType {
	switch style.NumFmt {
	case 14, 15, 16, 17:
		return schema.LogicalDate
	case 22:
		return schema.LogicalTimestampMillis
	}
	if style.CustomNumFmt == nil {
		return schema.LogicalNone
	}
	format := strings.ToLower(stripQuoted(*style.CustomNumFmt))
	hasDate := strings.ContainsAny(format, "yd")
	hasTime := strings.ContainsAny(format, "hs")
	switch {
	case hasDate && hasTime:
		return schema.LogicalTimestampMillis
	case hasDate:
		return schema.LogicalDate
	}
	return schema.LogicalNone
}

// stripQuoted drops literal text sections of a number format
func stripQuoted(format string) string {
	var b strings.Builder
	quoted := false
	for _, r := range format {
		if r == '"' {
			quoted = !quoted
			continue
		}
		if !quoted {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Next decodes the next non-empty row
func (r *Reader) Next() (*models.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		row    []string
		rowNum int
	)
	if len(r.sampled) > 0 {
		row, r.sampled = r.sampled[0], r.sampled[1:]
		rowNum, r.sampleAt = r.sampleAt[0], r.sampleAt[1:]
	} else {
		var err error
		if row, err = r.nextRow(); err != nil {
			return nil, err
		}
		rowNum = r.rowNum
	}

	values := make([]any, len(r.columns))
	for i, c := range r.columns {
		cell := ""
		if pos := r.positions[i]; pos >= 0 && pos < len(row) {
			cell = row[pos]
		}
		v, err := parseCell(c.Type, cell)
		if err != nil {
			return nil, errors.Wrapf(err, errors.ErrorTypeConversion, "row %d column %q", rowNum, c.Name)
		}
		values[i] = v
	}
	data, err := schema.UnflattenValues(r.Schema(), values)
	if err != nil {
		return nil, err
	}
	if data, err = schema.CoerceRecord(r.Schema(), data); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConversion, "row %d", rowNum)
	}
	return r.NewRecord(data), nil
}

// parseCell reads a raw cell value. Serial numbers become dates, times and
// timestamps; everything else is parsed as text. An empty cell is null, or
// the empty string in a non-nullable string column.
func parseCell(t *schema.Type, cell string) (any, error) {
	if cell != "" && t.Logical.IsTemporal() {
		if serial, err := strconv.ParseFloat(cell, 64); err == nil {
			switch t.Logical {
			case schema.LogicalDate:
				return schema.TruncateDate(FromSerial(serial)), nil
			case schema.LogicalTimeMillis, schema.LogicalTimeMicros:
				return timeOfDay(serial), nil
			default:
				return FromSerial(serial), nil
			}
		}
	}
	return formats.ParseText(t, cell, "")
}

// timeOfDay is the fraction of a serial as a duration since midnight. A
// fraction that rounds up to a full day wraps to midnight.
func timeOfDay(serial float64) time.Duration {
	frac := serial - math.Floor(serial)
	d := time.Duration(math.Round(frac*float64(day/time.Millisecond))) * time.Millisecond
	if d >= day {
		d = 0
	}
	return d
}

// ReadAll reads the remaining rows
func (r *Reader) ReadAll() ([]*models.Record, error) {
	return formats.ReadAll(r)
}

// Close releases the workbook
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if err := r.rows.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close rows")
	}
	return r.file.Close()
}
