// Package connector groups the connector framework of recordbridge.
//
// # Architecture Overview
//
// The framework is organized into several sub-packages:
//
//   - core: the Source and Destination contracts, RecordStream and
//     BatchStream, and BatchFromStream to batch a record stream.
//
//   - base: BaseConnector, embedded by every connector. It validates the
//     configuration and provides the logger, tracer, retry with exponential
//     backoff, an optional rate limit, skip-or-fail record error handling and
//     record/byte counters.
//
//   - registry: factories keyed by connector name with ConnectorInfo
//     metadata. Connector packages register themselves in init.
//
//   - shared/objects: settings shared by the file, s3 and gcs connectors.
//
//   - sources: file, s3 and gcs (any format), database (MySQL, PostgreSQL,
//     Snowflake) and mongodb.
//
//   - destinations: file, s3 and gcs (rolling part files), bigquery
//     (streaming inserts) and kafka (Avro messages).
//
// # Writing a Connector
//
// Embed BaseConnector, decode the connector's settings in Initialize and
// register a factory:
//
//	type Source struct {
//	    *base.BaseConnector
//	    settings *Settings
//	}
//
//	func (s *Source) Initialize(ctx context.Context, cfg *config.BaseConfig) error {
//	    if err := s.BaseConnector.Initialize(ctx, cfg); err != nil {
//	        return err
//	    }
//	    var settings Settings
//	    if err := cfg.Decode(&settings); err != nil {
//	        return err
//	    }
//	    s.settings = &settings
//	    return nil
//	}
//
//	func init() {
//	    registry.MustRegisterSource(registry.ConnectorInfo{
//	        Name:         "example",
//	        Version:      "1.0.0",
//	        Description:  "Reads example records",
//	        Capabilities: []string{"streaming"},
//	    }, func(cfg *config.BaseConfig) (core.Source, error) {
//	        return &Source{BaseConnector: base.NewBaseConnector(cfg.Name, core.ConnectorTypeSource, "1.0.0")}, nil
//	    })
//	}
//
// Records a connector cannot convert are passed to HandleRecordError, which
// skips and counts them, or fails the run when Reliability.FailFast is set.
package connector
