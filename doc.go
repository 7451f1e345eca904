// Package recordbridge moves structured records between file formats,
// object stores, databases, warehouses and message brokers.
//
// Every connector translates its system's native payloads to and from a
// generic models.Record carrying a schema.Schema. The schema model supports
// nested records, arrays, maps, nullability and logical date, time, decimal,
// uuid and json sub-types; the format packages map it onto Avro, Parquet,
// Arrow IPC, CSV, Excel and NDJSON.
//
// # Quick Start
//
// Run a pipeline file:
//
//	name: orders
//	batch_size: 5000
//	source:
//	  name: orders-db
//	  type: database
//	  settings:
//	    driver: postgres
//	    dsn: ${ORDERS_DSN}
//	    table: orders
//	destination:
//	  name: lake
//	  type: s3
//	  settings:
//	    url: s3://lake/orders
//	    format: parquet
//	    compression: zstd
//
//	recordbridge run orders.yaml
//
// Or drive a pipeline from Go:
//
//	import (
//	    "github.com/ajitpratap0/recordbridge/internal/pipeline"
//	    "github.com/ajitpratap0/recordbridge/pkg/config"
//	    _ "github.com/ajitpratap0/recordbridge/pkg/connector/destinations"
//	    _ "github.com/ajitpratap0/recordbridge/pkg/connector/sources"
//	    _ "github.com/ajitpratap0/recordbridge/pkg/formats/all"
//	)
//
//	pc, err := config.LoadPipeline("orders.yaml")
//	if err != nil {
//	    return err
//	}
//	result, err := pipeline.Execute(ctx, pc, logger)
//
// Convert a single file:
//
//	recordbridge convert orders.csv.gz orders.parquet --compression zstd
//
// # Key Packages
//
//	pkg/schema       - Schema model, coercion, inference, flattening, registry
//	pkg/models       - Record and RecordBatch
//	pkg/formats      - Format registry with Avro, Parquet, Arrow, CSV, Excel, NDJSON
//	pkg/storage      - Local, S3 and GCS object stores
//	pkg/connector    - Source and destination contracts, registry, base connector
//	pkg/config       - Connector and pipeline configuration
//	pkg/errors       - Typed errors
//	pkg/logger       - Structured logging
//	pkg/metrics      - Prometheus metrics
//
// # Connectors
//
// Sources:
//   - file, s3, gcs: objects in any supported format
//   - database: MySQL, PostgreSQL and Snowflake tables or queries
//   - mongodb: collections, with the schema inferred from a sample
//
// Destinations:
//   - file, s3, gcs: rolling part files in any supported format
//   - bigquery: streaming inserts into a table created from the schema
//   - kafka: Avro messages with the schema registry wire header
//
// # Configuration
//
// Connector configuration shares one structure; connector specific keys go
// under settings and are decoded by each connector:
//
//	type BaseConfig struct {
//	    Performance   PerformanceConfig   // Batch sizes, workers
//	    Timeouts      TimeoutConfig       // Connection, request timeouts
//	    Reliability   ReliabilityConfig   // Retries, rate limits
//	    Security      SecurityConfig      // Credentials, TLS
//	    Observability ObservabilityConfig // Metrics, logging, tracing
//	    Settings      map[string]interface{}
//	}
//
// Environment variables are supported with ${VAR_NAME} syntax.
package recordbridge
