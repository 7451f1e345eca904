// Package json wraps goccy/go-json with the settings recordbridge uses
// everywhere: no HTML escaping on output and json.Number on input, so that
// integers wider than 53 bits survive a decode and can be coerced exactly.
package json

import (
	"bytes"
	"io"

	gojson "github.com/goccy/go-json"
)

// Number is the decoded representation of JSON numbers when UseNumber is on
type Number = gojson.Number

// RawMessage is a raw encoded JSON value
type RawMessage = gojson.RawMessage

// Marshal encodes v without HTML escaping
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// MarshalIndent is the indented variant used for human-facing output
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// Unmarshal decodes data into v; numbers in interface{} targets become Number
func Unmarshal(data []byte, v interface{}) error {
	dec := NewDecoder(bytes.NewReader(data))
	return dec.Decode(v)
}

// NewEncoder returns an encoder writing to w
func NewEncoder(w io.Writer) *gojson.Encoder {
	enc := gojson.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc
}

// NewDecoder returns a decoder reading from r
func NewDecoder(r io.Reader) *gojson.Decoder {
	dec := gojson.NewDecoder(r)
	dec.UseNumber()
	return dec
}

// Valid reports whether data is valid JSON
func Valid(data []byte) bool {
	return gojson.Valid(data)
}
