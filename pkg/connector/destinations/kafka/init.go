package kafka

import (
	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/connector/registry"
)

func init() {
	registry.MustRegisterDestination(registry.ConnectorInfo{
		Name:         "kafka",
		Version:      "1.0.0",
		Description:  "Publishes records to a Kafka topic as framed Avro datums",
		Capabilities: []string{"batch", "streaming", "nested", "schema_registry", "compression"},
		Settings: map[string]string{
			"brokers":           "comma separated broker addresses",
			"topic":             "topic messages are published to",
			"key_field":         "field whose value keys each message",
			"acks":              "all, 1 or 0 (default all)",
			"compression":       "none, gzip, snappy, lz4 or zstd",
			"max_message_bytes": "records encoding larger than this are rejected",
			"idempotent":        "enable the idempotent producer",
			"tls":               "connect with TLS",
			"sasl_mechanism":    "PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512",
			"subject":           "registry subject (default <topic>-value)",
			"compatibility":     "NONE, BACKWARD, FORWARD, FULL or BACKWARD_TRANSITIVE",
			"registry_file":     "JSON file persisting registered schemas and ids",
		},
	}, func(*config.BaseConfig) (core.Destination, error) {
		return NewDestination("kafka"), nil
	})
}
