package database

import (
	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/connector/registry"
)

func init() {
	registry.MustRegisterSource(registry.ConnectorInfo{
		Name:         "database",
		Version:      "1.0.0",
		Description:  "Reads a table or query from MySQL, PostgreSQL or Snowflake",
		Capabilities: []string{"batch", "schema_discovery", "custom_queries", "rate_limiting"},
		Settings: map[string]string{
			"driver":         "mysql, postgres or snowflake",
			"dsn":            "driver connection string; security.credentials dsn also works",
			"table":          "table to read, optionally schema qualified",
			"query":          "SELECT statement to read instead of a table",
			"max_open_conns": "connection pool size (default 4)",
			"max_idle_conns": "idle connections kept open",
		},
	}, func(*config.BaseConfig) (core.Source, error) {
		return NewSource("database"), nil
	})
}
