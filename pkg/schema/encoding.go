package schema

import (
	"os"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/json"
)

// Parse decodes and validates a schema document
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "decoding schema")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// LoadFile reads a schema document from path
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "reading schema file %s", path)
	}
	return Parse(data)
}

// MarshalIndent renders the schema as an indented JSON document
func (s *Schema) MarshalIndent() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "encoding schema")
	}
	return data, nil
}
