package pipeline

import (
	"context"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

// Transform modifies a record in flight. Returning nil drops the record;
// returning an error counts it as failed. Transforms must keep records
// conforming to the source schema.
type Transform func(ctx context.Context, record *models.Record) (*models.Record, error)

// FilterTransform keeps the records predicate accepts.
//
// Example:
//
//	// Keep only active users
//	p.AddTransform(FilterTransform(func(r *models.Record) bool {
//	    active, ok := r.Data["active"].(bool)
//	    return ok && active
//	}))
func FilterTransform(predicate func(*models.Record) bool) Transform {
	return func(ctx context.Context, record *models.Record) (*models.Record, error) {
		if predicate(record) {
			return record, nil
		}
		return nil, nil
	}
}

// TypeConverterTransform replaces the value of field with converter's
// result. Records without the field pass unchanged.
func TypeConverterTransform(field string, converter func(any) (any, error)) Transform {
	return func(ctx context.Context, record *models.Record) (*models.Record, error) {
		if record.Data == nil {
			return record, nil
		}
		if value, ok := record.Data[field]; ok {
			converted, err := converter(value)
			if err != nil {
				return nil, errors.Wrapf(err, errors.ErrorTypeConversion, "failed to convert field %s", field)
			}
			record.Data[field] = converted
		}
		return record, nil
	}
}

// CoerceTransform converts record values to the native types of s, so
// destinations receive the same Go types whatever the source produced
func CoerceTransform(s *schema.Schema) Transform {
	return func(ctx context.Context, record *models.Record) (*models.Record, error) {
		if err := record.Coerce(s); err != nil {
			return nil, err
		}
		return record, nil
	}
}
