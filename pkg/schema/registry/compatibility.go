package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// Compatibility defines how a new version is checked against older ones
type Compatibility string

const (
	// CompatibilityNone allows any schema change
	CompatibilityNone Compatibility = "NONE"
	// CompatibilityBackward requires the new schema to read data written
	// with the previous one
	CompatibilityBackward Compatibility = "BACKWARD"
	// CompatibilityForward requires the previous schema to read data
	// written with the new one
	CompatibilityForward Compatibility = "FORWARD"
	// CompatibilityFull is backward and forward
	CompatibilityFull Compatibility = "FULL"
	// CompatibilityBackwardTransitive is backward against every version
	CompatibilityBackwardTransitive Compatibility = "BACKWARD_TRANSITIVE"
)

// Valid reports whether c is a known mode
func (c Compatibility) Valid() bool {
	switch c {
	case CompatibilityNone, CompatibilityBackward, CompatibilityForward,
		CompatibilityFull, CompatibilityBackwardTransitive:
		return true
	}
	return false
}

// ParseCompatibility reads a mode from configuration, case-insensitively
func ParseCompatibility(s string) (Compatibility, error) {
	c := Compatibility(strings.ToUpper(strings.TrimSpace(s)))
	if c == "" {
		return CompatibilityBackward, nil
	}
	if !c.Valid() {
		return "", errors.Newf(errors.ErrorTypeConfig, "unknown compatibility mode %q", s)
	}
	return c, nil
}

// CheckCompatibility checks a new schema against the previous one
func CheckCompatibility(mode Compatibility, old, new *schema.Schema) error {
	var previous []*Version
	if old != nil {
		previous = []*Version{{Version: 1, Schema: old}}
	}
	return checkVersions(mode, previous, new)
}

func checkVersions(mode Compatibility, versions []*Version, s *schema.Schema) error {
	if len(versions) == 0 || mode == CompatibilityNone {
		return nil
	}
	latest := versions[len(versions)-1]

	var result *multierror.Error
	switch mode {
	case CompatibilityBackward:
		result = canRead(result, "", s.RecordType(), latest.Schema.RecordType())
	case CompatibilityForward:
		result = canRead(result, "", latest.Schema.RecordType(), s.RecordType())
	case CompatibilityFull:
		result = canRead(result, "", s.RecordType(), latest.Schema.RecordType())
		result = canRead(result, "", latest.Schema.RecordType(), s.RecordType())
	case CompatibilityBackwardTransitive:
		for _, v := range versions {
			before := result.ErrorOrNil()
			result = canRead(result, "", s.RecordType(), v.Schema.RecordType())
			if before == nil && result.ErrorOrNil() != nil {
				result = multierror.Append(result, fmt.Errorf("incompatible with version %d", v.Version))
			}
		}
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown compatibility mode %q", mode)
	}
	if err := result.ErrorOrNil(); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeSchema, "schema is not %s compatible", mode)
	}
	return nil
}

// canRead records why data written with writer cannot be read as reader.
// Readers may widen numbers (int to long to float to double), move between
// string and bytes, raise timestamp precision and grow decimals; fields only
// the reader has must be nullable.
func canRead(result *multierror.Error, path string, reader, writer *schema.Type) *multierror.Error {
	at := path
	if at == "" {
		at = "record"
	}
	if writer.Nullable && !reader.Nullable {
		result = multierror.Append(result, fmt.Errorf("%s: nullable %s cannot be read as non-nullable", at, writer))
	}

	switch {
	case reader.Kind == schema.KindRecord && writer.Kind == schema.KindRecord:
		for _, rf := range reader.Fields {
			wf, ok := writer.Field(rf.Name)
			if !ok {
				if !rf.Type.Nullable {
					result = multierror.Append(result, fmt.Errorf("%s: added field is not nullable", join(path, rf.Name)))
				}
				continue
			}
			result = canRead(result, join(path, rf.Name), rf.Type, wf.Type)
		}
		return result
	case reader.Kind == schema.KindArray && writer.Kind == schema.KindArray:
		return canRead(result, path+"[]", reader.Items, writer.Items)
	case reader.Kind == schema.KindMap && writer.Kind == schema.KindMap:
		return canRead(result, path+"{}", reader.Values, writer.Values)
	}

	if !promotes(writer, reader) {
		result = multierror.Append(result, fmt.Errorf("%s: %s cannot be read as %s", at, writer, reader))
	}
	return result
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

// numeric promotions by physical kind
var promotions = map[schema.Kind][]schema.Kind{
	schema.KindInt:    {schema.KindLong, schema.KindFloat, schema.KindDouble},
	schema.KindLong:   {schema.KindFloat, schema.KindDouble},
	schema.KindFloat:  {schema.KindDouble},
	schema.KindString: {schema.KindBytes},
	schema.KindBytes:  {schema.KindString},
}

// promotes reports whether a value of primitive type from reads as to
func promotes(from, to *schema.Type) bool {
	if !from.IsPrimitive() || !to.IsPrimitive() {
		return false
	}
	if from.Logical == to.Logical && from.Kind == to.Kind {
		if from.Logical == schema.LogicalDecimal {
			return to.Scale >= from.Scale && to.Precision-to.Scale >= from.Precision-from.Scale
		}
		return true
	}
	switch {
	case from.Logical == schema.LogicalTimestampMillis && to.Logical == schema.LogicalTimestampMicros,
		from.Logical == schema.LogicalTimeMillis && to.Logical == schema.LogicalTimeMicros:
		return true
	case from.Logical != schema.LogicalNone || to.Logical != schema.LogicalNone:
		// uuid and json are strings to a reader that does not care
		return to.Logical == schema.LogicalNone && to.Kind == schema.KindString &&
			(from.Logical == schema.LogicalUUID || from.Logical == schema.LogicalJSON)
	}
	for _, k := range promotions[from.Kind] {
		if k == to.Kind {
			return true
		}
	}
	return false
}

// ChangeType names a difference between two schema versions
type ChangeType string

const (
	ChangeAddField       ChangeType = "ADD_FIELD"
	ChangeRemoveField    ChangeType = "REMOVE_FIELD"
	ChangeModifyType     ChangeType = "MODIFY_TYPE"
	ChangeModifyNullable ChangeType = "MODIFY_NULLABLE"
)

// Change is one field level difference. Nested fields use dotted paths.
type Change struct {
	Type  ChangeType   `json:"type"`
	Field string       `json:"field"`
	Old   *schema.Type `json:"old,omitempty"`
	New   *schema.Type `json:"new,omitempty"`
}

// Diff lists the field changes from old to new ordered by type, then field
func Diff(old, new *schema.Schema) []Change {
	var changes []Change
	diffFields(&changes, "", old.Fields, new.Fields)
	sort.Slice(changes, func(i, j int) bool {
		if changes[i].Type != changes[j].Type {
			return changes[i].Type < changes[j].Type
		}
		return changes[i].Field < changes[j].Field
	})
	return changes
}

func diffFields(changes *[]Change, prefix string, old, new []*schema.Field) {
	oldFields := make(map[string]*schema.Field, len(old))
	for _, f := range old {
		oldFields[f.Name] = f
	}
	newFields := make(map[string]*schema.Field, len(new))
	for _, f := range new {
		newFields[f.Name] = f
	}

	for _, of := range old {
		if _, ok := newFields[of.Name]; !ok {
			*changes = append(*changes, Change{Type: ChangeRemoveField, Field: join(prefix, of.Name), Old: of.Type})
		}
	}
	for _, nf := range new {
		path := join(prefix, nf.Name)
		of, ok := oldFields[nf.Name]
		if !ok {
			*changes = append(*changes, Change{Type: ChangeAddField, Field: path, New: nf.Type})
			continue
		}
		if of.Type.Nullable != nf.Type.Nullable {
			*changes = append(*changes, Change{Type: ChangeModifyNullable, Field: path, Old: of.Type, New: nf.Type})
		}
		if of.Type.Kind == schema.KindRecord && nf.Type.Kind == schema.KindRecord {
			diffFields(changes, path, of.Type.Fields, nf.Type.Fields)
			continue
		}
		if !schema.Equal(of.Type.Required(), nf.Type.Required()) {
			*changes = append(*changes, Change{Type: ChangeModifyType, Field: path, Old: of.Type, New: nf.Type})
		}
	}
}
