// Package sources registers every source connector. Import it for its side
// effect when connectors are looked up by name.
package sources

import (
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/connector/sources/database"
	"github.com/ajitpratap0/recordbridge/pkg/connector/sources/file"
	"github.com/ajitpratap0/recordbridge/pkg/connector/sources/mongodb"
	"github.com/ajitpratap0/recordbridge/pkg/storage"
)

// NewObjectSource creates a source reading objects of the given scheme
func NewObjectSource(name string, scheme storage.Scheme) core.Source {
	return file.NewSource(name, scheme)
}

// NewDatabaseSource creates a database/sql source
func NewDatabaseSource(name string) core.Source {
	return database.NewSource(name)
}

// NewMongoDBSource creates a MongoDB collection source
func NewMongoDBSource(name string) core.Source {
	return mongodb.NewSource(name)
}
