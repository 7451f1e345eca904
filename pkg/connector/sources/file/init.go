package file

import (
	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/connector/registry"
	"github.com/ajitpratap0/recordbridge/pkg/storage"
)

var settingsDoc = map[string]string{
	"url":         "directory, s3://bucket/prefix or gs://bucket/prefix",
	"pattern":     "glob matched against object keys (e.g. *.parquet)",
	"format":      "avro, parquet, arrow, csv, excel or ndjson; detected from the extension when unset",
	"compression": "stream compression of text files when the extension does not say",
	"schema_file": "JSON schema records are coerced to; inferred or read from the file when unset",
	"sample_size": "records sampled for inference",
	"delimiter":   "CSV field delimiter",
	"null_token":  "CSV text read as null",
	"sheet_name":  "Excel worksheet",
}

func init() {
	for _, c := range []struct {
		name        string
		scheme      storage.Scheme
		description string
	}{
		{"file", storage.SchemeLocal, "Reads files from a local directory"},
		{"s3", storage.SchemeS3, "Reads objects from an Amazon S3 bucket"},
		{"gcs", storage.SchemeGCS, "Reads objects from a Google Cloud Storage bucket"},
	} {
		c := c
		registry.MustRegisterSource(registry.ConnectorInfo{
			Name:         c.name,
			Version:      "1.0.0",
			Description:  c.description,
			Capabilities: []string{"batch", "formats", "nested", "schema_inference"},
			Settings:     settingsDoc,
		}, func(*config.BaseConfig) (core.Source, error) {
			return NewSource(c.name, c.scheme), nil
		})
	}
}
