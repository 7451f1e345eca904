// Package config provides the configuration shared by every recordbridge
// connector and the pipeline file the CLI runs.
//
// A connector is configured with a BaseConfig: common sections
// (Performance, Timeouts, Reliability, Security, Observability) plus a
// free-form Settings map holding what only that connector understands.
// Connectors decode Settings into their own struct with Decode:
//
//	type Settings struct {
//		Bucket string `mapstructure:"bucket"`
//		Prefix string `mapstructure:"prefix"`
//	}
//
//	var s Settings
//	if err := cfg.Decode(&s); err != nil {
//		return err
//	}
//
// # Files
//
// Load reads a single YAML or JSON document with ${VAR} and
// ${VAR:-default} substitution. LoadPipeline reads a whole pipeline through
// viper, so RECORDBRIDGE_* environment variables override keys of the file
// and a .env file is honoured:
//
//	name: orders-export
//	batch_size: 5000
//	flush_interval: 5s
//	source:
//	  type: database
//	  settings:
//	    driver: pgx
//	    dsn: ${ORDERS_DSN}
//	    query: SELECT * FROM orders
//	destination:
//	  type: s3
//	  settings:
//	    bucket: exports
//	    prefix: orders/
//	    format: parquet
//
// Viper lowercases keys, so settings keys are lowercase by convention.
package config
