package mongodb

import (
	"fmt"
	"math/big"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// decodeDocument unmarshals a raw BSON document into normalised Go values
func decodeDocument(raw bson.Raw) (map[string]any, error) {
	var doc bson.D
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConversion, "invalid BSON document")
	}
	return normalizeDocument(doc), nil
}

func normalizeDocument(doc bson.D) map[string]any {
	out := make(map[string]any, len(doc))
	for _, e := range doc {
		out[schema.SanitizeName(e.Key)] = Normalize(e.Value)
	}
	return out
}

// Normalize converts a decoded BSON value into the plain values records
// carry: ObjectIDs become hex strings, BSON dates become time.Time and
// Decimal128 becomes *big.Rat. Embedded documents become maps with
// sanitized keys.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil, primitive.Null, primitive.Undefined, primitive.MinKey, primitive.MaxKey:
		return nil
	case bson.D:
		return normalizeDocument(x)
	case bson.M:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[schema.SanitizeName(k)] = Normalize(val)
		}
		return out
	case bson.A:
		items := make([]any, len(x))
		for i, item := range x {
			items[i] = Normalize(item)
		}
		return items
	case primitive.ObjectID:
		return x.Hex()
	case primitive.DateTime:
		return x.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(x.T), 0).UTC()
	case primitive.Decimal128:
		if r, ok := new(big.Rat).SetString(x.String()); ok {
			return r
		}
		// NaN and Infinity have no exact value
		return x.String()
	case primitive.Binary:
		return x.Data
	case primitive.Regex:
		return fmt.Sprintf("/%s/%s", x.Pattern, x.Options)
	case primitive.JavaScript:
		return string(x)
	case primitive.CodeWithScope:
		return string(x.Code)
	case primitive.Symbol:
		return string(x)
	case primitive.DBPointer:
		return x.DB + "." + x.Pointer.Hex()
	}
	return v
}
