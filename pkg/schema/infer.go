package schema

import (
	"math/big"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
)

// Inference works on a join semi-lattice of types. A nil *Type stands for
// "only nulls seen so far" and is the bottom element.

// InferType returns the type of a single value, or nil for null
func InferType(v any) *Type {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		return Boolean()
	case int8, int16, int32, uint8, uint16:
		return Int()
	case int, int64, uint, uint32, uint64:
		return Long()
	case float32:
		return Float()
	case float64:
		return Double()
	case jsonNumber:
		if _, err := x.Int64(); err == nil {
			return Long()
		}
		return Double()
	case string:
		return String()
	case []byte:
		return Bytes()
	case time.Time:
		return TimestampMicros()
	case time.Duration:
		return TimeMicros()
	case *big.Rat:
		return Decimal(MaxDecimalPrecision, 9)
	case map[string]any:
		if len(x) == 0 {
			return JSON().Optional()
		}
		return inferRecord(x)
	case []any:
		return inferArray(x)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return InferType(rv.Elem().Interface())
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return JSON()
		}
		if rv.Len() == 0 {
			return JSON().Optional()
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().Interface()
		}
		return inferRecord(m)
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return inferArray(items)
	case reflect.String:
		return String()
	case reflect.Bool:
		return Boolean()
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return Int()
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Long()
	case reflect.Float32:
		return Float()
	case reflect.Float64:
		return Double()
	}
	return String()
}

// inferRecord builds a record whose fields are sorted by name so that
// inference is deterministic. A nested empty object has no fields to give a
// record, so InferType types it as nullable json instead.
func inferRecord(m map[string]any) *Type {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	fields := make([]*Field, len(names))
	for i, name := range names {
		fields[i] = &Field{Name: name, Type: InferType(m[name])}
	}
	return &Type{Kind: KindRecord, Fields: fields}
}

func inferArray(items []any) *Type {
	return &Type{Kind: KindArray, Items: mergeAll(items, InferType)}
}

// mergeAll joins the inferred types of values. Unlike folding Merge from nil,
// the first value does not count as a null.
func mergeAll[T any](values []T, infer func(T) *Type) *Type {
	var out *Type
	for i, v := range values {
		t := infer(v)
		if i == 0 {
			out = t
			continue
		}
		out = Merge(out, t)
	}
	return out
}

// Merge returns the least type that can hold values of both a and b
func Merge(a, b *Type) *Type {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		return b.Optional()
	case b == nil:
		return a.Optional()
	}

	nullable := a.Nullable || b.Nullable
	out := merge(a, b)
	out.Nullable = nullable
	return out
}

func merge(a, b *Type) *Type {
	if !a.IsPrimitive() || !b.IsPrimitive() {
		return mergeComposite(a, b)
	}

	if a.Kind == b.Kind && a.Logical == b.Logical {
		if a.Logical == LogicalDecimal {
			return mergeDecimal(a, b)
		}
		return a.Clone()
	}

	if a.IsNumeric() && b.IsNumeric() {
		return mergeNumeric(a.Kind, b.Kind)
	}

	if t := mergeTemporal(a.Logical, b.Logical); t != nil {
		return t
	}

	return String()
}

func mergeNumeric(a, b Kind) *Type {
	switch {
	case a == KindDouble || b == KindDouble:
		return Double()
	case a == KindFloat && b == KindFloat:
		return Float()
	case a == KindFloat || b == KindFloat:
		// integer ⊔ float widens to double
		return Double()
	case a == KindLong || b == KindLong:
		return Long()
	}
	return Int()
}

func mergeTemporal(a, b LogicalType) *Type {
	isTimestamp := func(l LogicalType) bool {
		return l == LogicalTimestampMillis || l == LogicalTimestampMicros
	}
	isTime := func(l LogicalType) bool {
		return l == LogicalTimeMillis || l == LogicalTimeMicros
	}
	switch {
	case (a == LogicalDate || isTimestamp(a)) && (b == LogicalDate || isTimestamp(b)):
		if a == LogicalTimestampMillis && (b == LogicalTimestampMillis || b == LogicalDate) ||
			b == LogicalTimestampMillis && a == LogicalDate {
			return TimestampMillis()
		}
		return TimestampMicros()
	case isTime(a) && isTime(b):
		return TimeMicros()
	}
	return nil
}

func mergeDecimal(a, b *Type) *Type {
	scale := max(a.Scale, b.Scale)
	intDigits := max(a.Precision-a.Scale, b.Precision-b.Scale)
	precision := min(intDigits+scale, MaxDecimalPrecision)
	return Decimal(precision, min(scale, precision))
}

func mergeComposite(a, b *Type) *Type {
	if a.Kind != b.Kind {
		return JSON()
	}
	switch a.Kind {
	case KindRecord:
		return mergeRecords(a, b)
	case KindArray:
		return &Type{Kind: KindArray, Items: Merge(a.Items, b.Items)}
	case KindMap:
		return &Type{Kind: KindMap, Values: Merge(a.Values, b.Values)}
	}
	return JSON()
}

// mergeRecords unions the fields of a and b, keeping a's order and appending
// fields only b has. A field missing on either side becomes nullable.
func mergeRecords(a, b *Type) *Type {
	out := &Type{Kind: KindRecord, Name: a.Name}
	if out.Name == "" {
		out.Name = b.Name
	}
	seen := make(map[string]struct{}, len(a.Fields))
	for _, fa := range a.Fields {
		seen[fa.Name] = struct{}{}
		field := &Field{Name: fa.Name, Doc: fa.Doc}
		if fb, ok := b.Field(fa.Name); ok {
			field.Type = Merge(fa.Type, fb.Type)
		} else {
			field.Type = Merge(fa.Type, nil)
		}
		out.Fields = append(out.Fields, field)
	}
	for _, fb := range b.Fields {
		if _, ok := seen[fb.Name]; ok {
			continue
		}
		out.Fields = append(out.Fields, &Field{Name: fb.Name, Doc: fb.Doc, Type: Merge(nil, fb.Type)})
	}
	return out
}

// Finalize replaces every null-only type with a nullable string. The result
// has no nil types.
func Finalize(t *Type) *Type {
	if t == nil {
		return String().Optional()
	}
	out := t.Clone()
	finalize(out)
	return out
}

func finalize(t *Type) {
	switch t.Kind {
	case KindRecord:
		for _, f := range t.Fields {
			if f.Type == nil {
				f.Type = String().Optional()
				continue
			}
			finalize(f.Type)
		}
	case KindArray:
		if t.Items == nil {
			t.Items = String().Optional()
			return
		}
		finalize(t.Items)
	case KindMap:
		if t.Values == nil {
			t.Values = String().Optional()
			return
		}
		finalize(t.Values)
	}
}

var (
	numericPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)
	datePattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// stringCandidate is one step of the string sampling ladder
type stringCandidate struct {
	typ      func() *Type
	parses   func(string) bool
	temporal bool
}

var stringLadder = []stringCandidate{
	{typ: Boolean, parses: func(s string) bool {
		l := strings.ToLower(s)
		return l == "true" || l == "false"
	}},
	{typ: Long, parses: func(s string) bool {
		_, err := strconv.ParseInt(s, 10, 64)
		return err == nil
	}},
	{typ: Double, parses: func(s string) bool {
		if !numericPattern.MatchString(s) {
			return false
		}
		_, err := strconv.ParseFloat(s, 64)
		return err == nil
	}},
	{typ: Date, temporal: true, parses: func(s string) bool {
		if !datePattern.MatchString(s) {
			return false
		}
		_, err := time.Parse(dateLayout, s)
		return err == nil
	}},
	{typ: TimestampMicros, temporal: true, parses: func(s string) bool {
		_, ok := ParseTimestamp(s)
		return ok
	}},
}

// DefaultNullTokens are the cell values read as null by text formats
var DefaultNullTokens = []string{""}

// InferStrings returns the narrowest type of boolean, long, double, date,
// timestamp and string that parses every non-null sample, or nil when every
// sample is null
func InferStrings(values []string, nullTokens ...string) *Type {
	if len(nullTokens) == 0 {
		nullTokens = DefaultNullTokens
	}
	return inferStrings(values, tokenSet(nullTokens), true)
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func inferStrings(values []string, nulls map[string]struct{}, temporal bool) *Type {
	nullable := false
	present := make([]string, 0, len(values))
	for _, v := range values {
		if _, isNull := nulls[v]; isNull {
			nullable = true
			continue
		}
		present = append(present, strings.TrimSpace(v))
	}
	if len(present) == 0 {
		return nil
	}

	t := String()
	for _, c := range stringLadder {
		if c.temporal && !temporal {
			continue
		}
		if allParse(present, c.parses) {
			t = c.typ()
			break
		}
	}
	t.Nullable = nullable
	return t
}

func allParse(values []string, parses func(string) bool) bool {
	for _, v := range values {
		if !parses(v) {
			return false
		}
	}
	return true
}

// Inferrer derives schemas from sampled records or text rows
type Inferrer struct {
	logger *zap.Logger

	sampleSize     int
	detectTemporal bool
	nullTokens     map[string]struct{}
	separator      string
}

// InferOption configures an Inferrer
type InferOption func(*Inferrer)

// DefaultSampleSize is the number of records inspected when none is configured
const DefaultSampleSize = 1000

// WithSampleSize limits how many records are inspected
func WithSampleSize(n int) InferOption {
	return func(i *Inferrer) {
		if n > 0 {
			i.sampleSize = n
		}
	}
}

// WithTemporalDetection toggles date and timestamp detection in text
func WithTemporalDetection(enabled bool) InferOption {
	return func(i *Inferrer) { i.detectTemporal = enabled }
}

// WithNullTokens sets the text values read as null
func WithNullTokens(tokens ...string) InferOption {
	return func(i *Inferrer) { i.nullTokens = tokenSet(tokens) }
}

// WithSeparator makes header names containing sep infer as nested records
func WithSeparator(sep string) InferOption {
	return func(i *Inferrer) { i.separator = sep }
}

// NewInferrer creates an inferrer
func NewInferrer(logger *zap.Logger, opts ...InferOption) *Inferrer {
	if logger == nil {
		logger = zap.NewNop()
	}
	i := &Inferrer{
		logger:         logger,
		sampleSize:     DefaultSampleSize,
		detectTemporal: true,
		nullTokens:     tokenSet(DefaultNullTokens),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// SampleSize returns the configured sample size
func (i *Inferrer) SampleSize() int {
	return i.sampleSize
}

// InferSchema infers a schema from sample records. Fields are ordered by name.
func (i *Inferrer) InferSchema(name string, samples []map[string]any) (*Schema, error) {
	if len(samples) == 0 {
		return nil, errors.New(errors.ErrorTypeSchema, "no samples provided for inference")
	}
	if len(samples) > i.sampleSize {
		samples = samples[:i.sampleSize]
	}

	merged := Finalize(mergeAll(samples, inferRecord))

	s := FromRecordType(name, merged)
	i.logger.Debug("inferred schema from records",
		zap.String("schema", name),
		zap.Int("samples", len(samples)),
		zap.Int("fields", len(s.Fields)))
	return s, nil
}

// InferRows infers a schema from a header and text rows, preserving column
// order. Short rows count as null for their missing columns.
func (i *Inferrer) InferRows(name string, header []string, rows [][]string) (*Schema, error) {
	if len(header) == 0 {
		return nil, errors.New(errors.ErrorTypeSchema, "no columns to infer from")
	}
	if len(rows) > i.sampleSize {
		rows = rows[:i.sampleSize]
	}

	root := &Type{Kind: KindRecord}
	column := make([]string, 0, len(rows))
	for c, col := range header {
		column = column[:0]
		missing := false
		for _, row := range rows {
			if c < len(row) {
				column = append(column, row[c])
			} else {
				missing = true
			}
		}
		t := inferStrings(column, i.nullTokens, i.detectTemporal)
		if missing {
			t = Merge(t, nil)
		}
		if err := i.place(root, ColumnPath(col, i.separator), Finalize(t)); err != nil {
			return nil, err
		}
	}

	s := FromRecordType(name, root)
	i.logger.Debug("inferred schema from rows",
		zap.String("schema", name),
		zap.Int("rows", len(rows)),
		zap.Int("columns", len(header)))
	return s, nil
}

// place inserts a leaf type at path, creating intermediate records
func (i *Inferrer) place(root *Type, path []string, t *Type) error {
	cur := root
	for depth, segment := range path {
		f, ok := cur.Field(segment)
		last := depth == len(path)-1
		switch {
		case !ok && last:
			cur.Fields = append(cur.Fields, &Field{Name: segment, Type: t})
			return nil
		case !ok:
			f = &Field{Name: segment, Type: &Type{Kind: KindRecord, Name: segment}}
			cur.Fields = append(cur.Fields, f)
		case last || f.Type.Kind != KindRecord:
			return errors.Newf(errors.ErrorTypeSchema, "column %q conflicts with another column", strings.Join(path, "."))
		}
		cur = f.Type
	}
	return nil
}

// ColumnPath splits a header name into sanitized field names
func ColumnPath(header, sep string) []string {
	var parts []string
	if sep == "" {
		parts = []string{header}
	} else {
		parts = strings.Split(header, sep)
	}
	for j, p := range parts {
		parts[j] = SanitizeName(p)
	}
	return parts
}

// SanitizeName turns arbitrary text into a legal field name
func SanitizeName(s string) string {
	if ValidName(s) {
		return s
	}
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		out = "_" + out
	}
	return out
}
