package schema

import (
	"strings"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
)

// DefaultSeparator joins nested field names into flat column names
const DefaultSeparator = "."

// Column is a leaf of a flattened schema
type Column struct {
	// Name is the path joined with the separator
	Name string
	Path []string
	// Type is the leaf type; it is nullable when the leaf or any enclosing
	// record is nullable. Arrays and maps are leaves.
	Type *Type
}

// Flatten expands nested records into leaf columns in depth-first field
// order
func Flatten(s *Schema, sep string) []Column {
	if sep == "" {
		sep = DefaultSeparator
	}
	var cols []Column
	flattenFields(&cols, nil, s.Fields, false, sep)
	return cols
}

func flattenFields(cols *[]Column, prefix []string, fields []*Field, nullable bool, sep string) {
	for _, f := range fields {
		path := append(append([]string(nil), prefix...), f.Name)
		if f.Type.Kind == KindRecord {
			flattenFields(cols, path, f.Type.Fields, nullable || f.Type.Nullable, sep)
			continue
		}
		t := f.Type
		if nullable && !t.Nullable {
			t = t.Optional()
		}
		*cols = append(*cols, Column{Name: strings.Join(path, sep), Path: path, Type: t})
	}
}

// ColumnNames returns the names of cols
func ColumnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// FlattenValues extracts the leaf values of a nested record in column
// order. A missing or null enclosing record yields null leaves.
func FlattenValues(cols []Column, data map[string]any) []any {
	values := make([]any, len(cols))
	for i, c := range cols {
		values[i] = lookup(data, c.Path)
	}
	return values
}

func lookup(data map[string]any, path []string) any {
	var cur any = data
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[p]
	}
	return cur
}

// UnflattenValues rebuilds a nested record from leaf values in the column
// order of Flatten. A nullable record whose leaves are all null becomes nil.
func UnflattenValues(s *Schema, values []any) (map[string]any, error) {
	idx := 0
	out := unflattenFields(s.Fields, values, &idx)
	if idx != len(values) {
		return nil, errors.Newf(errors.ErrorTypeData, "schema %q has %d columns, got %d values", s.Name, idx, len(values))
	}
	return out, nil
}

func unflattenFields(fields []*Field, values []any, idx *int) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if f.Type.Kind == KindRecord {
			start := *idx
			nested := unflattenFields(f.Type.Fields, values, idx)
			if f.Type.Nullable && allNil(values, start, *idx) {
				out[f.Name] = nil
			} else {
				out[f.Name] = nested
			}
			continue
		}
		if *idx < len(values) {
			out[f.Name] = values[*idx]
		} else {
			out[f.Name] = nil
		}
		*idx++
	}
	return out
}

func allNil(values []any, from, to int) bool {
	for i := from; i < to && i < len(values); i++ {
		if values[i] != nil {
			return false
		}
	}
	return true
}

// MatchColumns maps each column to the position of its header cell, or -1
// when the header lacks it. Header cells that match no column are an error.
func MatchColumns(cols []Column, header []string, sep string) ([]int, error) {
	if sep == "" {
		sep = DefaultSeparator
	}
	byName := make(map[string]int, len(header))
	for i, h := range header {
		byName[strings.Join(ColumnPath(h, sep), sep)] = i
	}
	positions := make([]int, len(cols))
	matched := 0
	for i, c := range cols {
		pos, ok := byName[c.Name]
		if !ok {
			positions[i] = -1
			continue
		}
		positions[i] = pos
		matched++
	}
	if matched != len(byName) {
		known := make(map[string]struct{}, len(cols))
		for _, c := range cols {
			known[c.Name] = struct{}{}
		}
		var unknown []string
		for _, h := range header {
			if _, ok := known[strings.Join(ColumnPath(h, sep), sep)]; !ok {
				unknown = append(unknown, h)
			}
		}
		return nil, errors.Newf(errors.ErrorTypeSchema, "header columns not in schema: %s", strings.Join(unknown, ", "))
	}
	return positions, nil
}
