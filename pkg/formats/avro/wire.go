package avro

import (
	"encoding/binary"

	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// Confluent wire format: a zero magic byte, the registry schema id as a
// big-endian uint32, then the Avro binary datum.
const (
	MagicByte  byte = 0
	HeaderSize      = 5
)

// Encoder encodes single records for message payloads
type Encoder struct {
	schema   *schema.Schema
	mapping  *mapping
	codec    *goavro.Codec
	text     string
	schemaID uint32
}

// NewEncoder creates an encoder that frames datums with schemaID
func NewEncoder(s *schema.Schema, schemaID uint32) (*Encoder, error) {
	m, err := newMapping(s)
	if err != nil {
		return nil, err
	}
	text, err := m.json()
	if err != nil {
		return nil, err
	}
	codec, err := goavro.NewCodec(text)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to create Avro codec")
	}
	return &Encoder{schema: s, mapping: m, codec: codec, text: text, schemaID: schemaID}, nil
}

// SchemaJSON returns the Avro schema datums are written with
func (e *Encoder) SchemaJSON() string { return e.text }

// SchemaID returns the id written into every header
func (e *Encoder) SchemaID() uint32 { return e.schemaID }

// Encode coerces data to the schema and returns the framed datum
func (e *Encoder) Encode(data map[string]any) ([]byte, error) {
	coerced, err := schema.CoerceRecord(e.schema, data)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderSize, 64)
	buf[0] = MagicByte
	binary.BigEndian.PutUint32(buf[1:HeaderSize], e.schemaID)
	buf, err = e.codec.BinaryFromNative(buf, e.mapping.toNative(e.schema.Fields, coerced))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConversion, "failed to encode Avro datum")
	}
	return buf, nil
}

// Decoder decodes framed datums written with a known schema
type Decoder struct {
	schema *schema.Schema
	codec  *goavro.Codec
}

// NewDecoder creates a decoder for datums written with s
func NewDecoder(s *schema.Schema) (*Decoder, error) {
	text, err := ToAvroJSON(s)
	if err != nil {
		return nil, err
	}
	codec, err := goavro.NewCodec(text)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeSchema, "failed to create Avro codec")
	}
	return &Decoder{schema: s, codec: codec}, nil
}

// Decode returns the record data and the schema id of a framed datum
func (d *Decoder) Decode(msg []byte) (map[string]any, uint32, error) {
	id, err := SchemaID(msg)
	if err != nil {
		return nil, 0, err
	}
	datum, rest, err := d.codec.NativeFromBinary(msg[HeaderSize:])
	if err != nil {
		return nil, id, errors.Wrap(err, errors.ErrorTypeConversion, "failed to decode Avro datum")
	}
	if len(rest) != 0 {
		return nil, id, errors.Newf(errors.ErrorTypeData, "%d trailing bytes after Avro datum", len(rest))
	}
	native, ok := datum.(map[string]any)
	if !ok {
		return nil, id, errors.Newf(errors.ErrorTypeConversion, "avro datum is %T, not a record", datum)
	}
	data, err := fromNative(d.schema.Fields, native)
	if err != nil {
		return nil, id, errors.Wrap(err, errors.ErrorTypeConversion, "failed to decode Avro datum")
	}
	data, err = schema.CoerceRecord(d.schema, data)
	return data, id, err
}

// SchemaID reads the schema id from a framed message
func SchemaID(msg []byte) (uint32, error) {
	if len(msg) < HeaderSize {
		return 0, errors.Newf(errors.ErrorTypeData, "message of %d bytes is shorter than the wire header", len(msg))
	}
	if msg[0] != MagicByte {
		return 0, errors.Newf(errors.ErrorTypeData, "unknown magic byte %d", msg[0])
	}
	return binary.BigEndian.Uint32(msg[1:HeaderSize]), nil
}
