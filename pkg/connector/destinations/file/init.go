package file

import (
	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/connector/registry"
	"github.com/ajitpratap0/recordbridge/pkg/storage"
)

var settingsDoc = map[string]string{
	"url":                  "directory, s3://bucket/prefix or gs://bucket/prefix",
	"format":               "avro, parquet, arrow, csv, excel or ndjson (default parquet)",
	"compression":          "codec inside avro and parquet files, or gzip/snappy/lz4/zstd/s2 around csv and ndjson",
	"schema_file":          "JSON schema written instead of the source schema",
	"file_prefix":          "part file name prefix (default part)",
	"max_records_per_file": "records per part file before rolling (0 = no limit)",
	"max_bytes_per_file":   "encoded bytes per part file before rolling (0 = no limit)",
	"row_group_size":       "parquet rows per row group",
	"delimiter":            "CSV field delimiter",
	"null_token":           "CSV text written for null",
	"separator":            "joins nested field names in csv and excel headers",
	"part_size":            "s3 multipart upload part size in bytes",
}

func init() {
	for _, c := range []struct {
		name        string
		scheme      storage.Scheme
		description string
	}{
		{"file", storage.SchemeLocal, "Writes part files to a local directory"},
		{"s3", storage.SchemeS3, "Uploads part files to an Amazon S3 bucket"},
		{"gcs", storage.SchemeGCS, "Uploads part files to a Google Cloud Storage bucket"},
	} {
		c := c
		registry.MustRegisterDestination(registry.ConnectorInfo{
			Name:         c.name,
			Version:      "1.0.0",
			Description:  c.description,
			Capabilities: []string{"batch", "formats", "nested", "compression"},
			Settings:     settingsDoc,
		}, func(*config.BaseConfig) (core.Destination, error) {
			return NewDestination(c.name, c.scheme), nil
		})
	}
}
