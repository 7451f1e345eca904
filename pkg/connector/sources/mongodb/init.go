package mongodb

import (
	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/connector/registry"
)

func init() {
	registry.MustRegisterSource(registry.ConnectorInfo{
		Name:         "mongodb",
		Version:      "1.0.0",
		Description:  "Reads documents from a MongoDB collection",
		Capabilities: []string{"batch", "nested", "schema_inference"},
		Settings: map[string]string{
			"uri":         "connection string; security.credentials uri also works",
			"database":    "database name",
			"collection":  "collection to read",
			"filter":      "extended JSON query filter",
			"projection":  "extended JSON projection",
			"sample_size": "documents sampled for inference (default 1000)",
			"schema_file": "JSON schema used instead of inference",
		},
	}, func(*config.BaseConfig) (core.Source, error) {
		return NewSource("mongodb"), nil
	})
}
