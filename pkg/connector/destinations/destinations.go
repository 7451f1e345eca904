// Package destinations registers every destination connector. Import it for
// its side effect when connectors are looked up by name.
package destinations

import (
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/connector/destinations/bigquery"
	"github.com/ajitpratap0/recordbridge/pkg/connector/destinations/file"
	"github.com/ajitpratap0/recordbridge/pkg/connector/destinations/kafka"
	"github.com/ajitpratap0/recordbridge/pkg/storage"
)

// NewObjectDestination creates a destination writing part files to the
// given scheme
func NewObjectDestination(name string, scheme storage.Scheme) core.Destination {
	return file.NewDestination(name, scheme)
}

// NewBigQueryDestination creates a BigQuery streaming insert destination
func NewBigQueryDestination(name string) core.Destination {
	return bigquery.NewDestination(name)
}

// NewKafkaDestination creates a Kafka destination
func NewKafkaDestination(name string) core.Destination {
	return kafka.NewDestination(name)
}
