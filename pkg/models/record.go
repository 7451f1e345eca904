// Package models provides the record types that flow between sources,
// format converters and destinations.
package models

import (
	"time"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// RecordMetadata describes where a record came from. All fields are
// optional.
type RecordMetadata struct {
	// Source identifies the origin connector, file or table
	Source string `json:"source,omitempty"`
	// Format is the file format the record was decoded from
	Format string `json:"format,omitempty"`
	// Offset is the position of the record in its source
	Offset int64 `json:"offset,omitempty"`
	// Timestamp is when the record was read
	Timestamp time.Time `json:"timestamp"`
	// Custom holds connector specific metadata
	Custom map[string]interface{} `json:"custom,omitempty"`
}

// Record is a self-describing row: its data conforms to its schema once
// Validate succeeds.
type Record struct {
	Schema   *schema.Schema         `json:"-"`
	Data     map[string]interface{} `json:"data"`
	Metadata RecordMetadata         `json:"metadata"`
}

// NewRecord creates a record. data is used as is, not copied.
func NewRecord(s *schema.Schema, data map[string]interface{}) *Record {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &Record{
		Schema: s,
		Data:   data,
		Metadata: RecordMetadata{
			Timestamp: time.Now(),
		},
	}
}

// Get returns a top-level field value
func (r *Record) Get(key string) (interface{}, bool) {
	v, ok := r.Data[key]
	return v, ok
}

// Set sets a top-level field value
func (r *Record) Set(key string, value interface{}) {
	if r.Data == nil {
		r.Data = make(map[string]interface{})
	}
	r.Data[key] = value
}

// SetMetadata sets a custom metadata value
func (r *Record) SetMetadata(key string, value interface{}) {
	if r.Metadata.Custom == nil {
		r.Metadata.Custom = make(map[string]interface{})
	}
	r.Metadata.Custom[key] = value
}

// Validate checks the data holds canonical values of the record's schema
func (r *Record) Validate() error {
	if r.Schema == nil {
		return errors.New(errors.ErrorTypeValidation, "record has no schema")
	}
	return schema.ValidateRecord(r.Schema, r.Data)
}

// Coerce replaces the data with its canonical form under s and attaches s
func (r *Record) Coerce(s *schema.Schema) error {
	data, err := schema.CoerceRecord(s, r.Data)
	if err != nil {
		return err
	}
	r.Data = data
	r.Schema = s
	return nil
}

// Clone returns a copy of the record with deep-copied data. The schema is
// shared.
func (r *Record) Clone() *Record {
	c := &Record{
		Schema:   r.Schema,
		Data:     cloneMap(r.Data),
		Metadata: r.Metadata,
	}
	if r.Metadata.Custom != nil {
		c.Metadata.Custom = cloneMap(r.Metadata.Custom)
	}
	return c
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		return cloneMap(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = cloneValue(item)
		}
		return out
	case []byte:
		return append([]byte(nil), x...)
	}
	return v
}

// RecordBatch is a reusable collection of records
type RecordBatch struct {
	Records []*Record
}

// NewRecordBatch creates a batch with the given capacity
func NewRecordBatch(capacity int) *RecordBatch {
	return &RecordBatch{Records: make([]*Record, 0, capacity)}
}

// Add appends a record to the batch
func (rb *RecordBatch) Add(r *Record) {
	rb.Records = append(rb.Records, r)
}

// Reset clears the batch keeping its capacity
func (rb *RecordBatch) Reset() {
	for i := range rb.Records {
		rb.Records[i] = nil
	}
	rb.Records = rb.Records[:0]
}

// Size returns the number of records in the batch
func (rb *RecordBatch) Size() int {
	return len(rb.Records)
}
