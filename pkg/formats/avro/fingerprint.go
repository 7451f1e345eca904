package avro

import (
	"encoding/hex"

	hamba "github.com/hamba/avro/v2"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// Canonical returns the Avro parsing canonical form of s
func Canonical(s *schema.Schema) (string, error) {
	parsed, err := parse(s)
	if err != nil {
		return "", err
	}
	return parsed.String(), nil
}

// Fingerprint returns the hex SHA-256 of the Avro parsing canonical form of
// s. Logical annotations and docs are not part of the canonical form.
func Fingerprint(s *schema.Schema) (string, error) {
	parsed, err := parse(s)
	if err != nil {
		return "", err
	}
	sum := parsed.Fingerprint()
	return hex.EncodeToString(sum[:]), nil
}

func parse(s *schema.Schema) (hamba.Schema, error) {
	text, err := ToAvroJSON(s)
	if err != nil {
		return nil, err
	}
	// a private cache: named types of unrelated schemas must not collide
	parsed, err := hamba.ParseWithCache(text, "", &hamba.SchemaCache{})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "parsing avro schema")
	}
	return parsed, nil
}
