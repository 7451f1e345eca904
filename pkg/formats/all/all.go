// Package all registers every built-in format with pkg/formats. Import it
// for its side effects.
package all

import (
	_ "github.com/ajitpratap0/recordbridge/pkg/formats/avro"
	_ "github.com/ajitpratap0/recordbridge/pkg/formats/columnar"
	_ "github.com/ajitpratap0/recordbridge/pkg/formats/csv"
	_ "github.com/ajitpratap0/recordbridge/pkg/formats/excel"
	_ "github.com/ajitpratap0/recordbridge/pkg/formats/ndjson"
)
