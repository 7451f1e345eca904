package bigquery

import (
	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/connector/registry"
)

func init() {
	info := registry.ConnectorInfo{
		Name:         "bigquery",
		Version:      "1.0.0",
		Description:  "Streams records into a BigQuery table",
		Capabilities: []string{"batch", "nested", "schema_evolution", "rate_limiting"},
		Settings: map[string]string{
			"project":               "Google Cloud project",
			"dataset":               "dataset of the table",
			"table":                 "table, created from the record schema when missing",
			"location":              "dataset location (default US)",
			"create_dataset":        "create the dataset when missing",
			"partition_field":       "DATE or TIMESTAMP column partitioning new tables",
			"partition_type":        "HOUR, DAY, MONTH or YEAR (default DAY)",
			"clustering_fields":     "comma separated clustering columns of new tables",
			"skip_invalid_rows":     "insert the valid rows of a batch with invalid ones",
			"ignore_unknown_values": "drop values with no column",
			"endpoint":              "API endpoint override, e.g. an emulator",
		},
	}
	registry.MustRegisterDestination(info, func(*config.BaseConfig) (core.Destination, error) {
		return NewDestination("bigquery"), nil
	})

	// Also register as "bq" for convenience
	info.Name = "bq"
	registry.MustRegisterDestination(info, func(*config.BaseConfig) (core.Destination, error) {
		return NewDestination("bq"), nil
	})
}
