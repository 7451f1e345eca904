package schema

import (
	"fmt"
	"regexp"

	"github.com/hashicorp/go-multierror"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
)

// namePattern is the Avro name grammar, the strictest of the supported formats
var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidName reports whether name is legal as a field or record name
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Validate checks the schema and every nested type. All problems are
// reported together.
func (s *Schema) Validate() error {
	var result *multierror.Error
	if s.Name == "" {
		result = multierror.Append(result, fmt.Errorf("schema name is empty"))
	} else if !ValidName(s.Name) {
		result = multierror.Append(result, fmt.Errorf("schema name %q is not a valid name", s.Name))
	}
	if len(s.Fields) == 0 {
		result = multierror.Append(result, fmt.Errorf("schema %q has no fields", s.Name))
	}
	result = validateFields(result, s.Name, s.Fields)
	return wrapValidation(result, s.Name)
}

// Validate checks t and every nested type
func (t *Type) Validate() error {
	return wrapValidation(validateType(nil, "$", t), "$")
}

func wrapValidation(result *multierror.Error, name string) error {
	if err := result.ErrorOrNil(); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeSchema, "invalid schema %q", name)
	}
	return nil
}

func validateFields(result *multierror.Error, path string, fields []*Field) *multierror.Error {
	seen := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		if f == nil {
			result = multierror.Append(result, fmt.Errorf("%s: field %d is nil", path, i))
			continue
		}
		if f.Name == "" {
			result = multierror.Append(result, fmt.Errorf("%s: field %d has no name", path, i))
		} else if !ValidName(f.Name) {
			result = multierror.Append(result, fmt.Errorf("%s: field name %q is not a valid name", path, f.Name))
		}
		if _, dup := seen[f.Name]; dup {
			result = multierror.Append(result, fmt.Errorf("%s: duplicate field %q", path, f.Name))
		}
		seen[f.Name] = struct{}{}
		result = validateType(result, path+"."+f.Name, f.Type)
	}
	return result
}

func validateType(result *multierror.Error, path string, t *Type) *multierror.Error {
	if t == nil {
		return multierror.Append(result, fmt.Errorf("%s: type is missing", path))
	}

	if t.Logical != LogicalNone {
		want, ok := t.Logical.PhysicalKind()
		switch {
		case !ok:
			result = multierror.Append(result, fmt.Errorf("%s: unknown logical type %q", path, t.Logical))
		case want != t.Kind:
			result = multierror.Append(result, fmt.Errorf("%s: logical type %s requires kind %s, got %s", path, t.Logical, want, t.Kind))
		}
		if t.Logical == LogicalDecimal {
			if t.Precision < 1 || t.Precision > MaxDecimalPrecision {
				result = multierror.Append(result, fmt.Errorf("%s: decimal precision %d out of range 1..%d", path, t.Precision, MaxDecimalPrecision))
			}
			if t.Scale < 0 || t.Scale > t.Precision {
				result = multierror.Append(result, fmt.Errorf("%s: decimal scale %d out of range 0..%d", path, t.Scale, t.Precision))
			}
		}
	}

	switch t.Kind {
	case KindBoolean, KindInt, KindLong, KindFloat, KindDouble, KindString, KindBytes:
	case KindRecord:
		if t.Name != "" && !ValidName(t.Name) {
			result = multierror.Append(result, fmt.Errorf("%s: record name %q is not a valid name", path, t.Name))
		}
		if len(t.Fields) == 0 {
			result = multierror.Append(result, fmt.Errorf("%s: record has no fields", path))
		}
		result = validateFields(result, path, t.Fields)
	case KindArray:
		if t.Items == nil {
			result = multierror.Append(result, fmt.Errorf("%s: array has no item type", path))
		} else {
			result = validateType(result, path+"[]", t.Items)
		}
	case KindMap:
		if t.Values == nil {
			result = multierror.Append(result, fmt.Errorf("%s: map has no value type", path))
		} else {
			result = validateType(result, path+"{}", t.Values)
		}
	default:
		result = multierror.Append(result, fmt.Errorf("%s: unknown kind %q", path, t.Kind))
	}
	return result
}
