package bigquery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/connector/registry"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/models"
	"github.com/ajitpratap0/recordbridge/pkg/schema"
)

func bqConfig(settings map[string]any) *config.BaseConfig {
	cfg := config.NewBaseConfig("orders-bq", "bigquery")
	cfg.Settings = settings
	return cfg
}

func TestDestination_ConfigErrors(t *testing.T) {
	tests := []struct {
		name     string
		settings map[string]any
		contains string
	}{
		{"missing all", map[string]any{}, "needs project, dataset, table"},
		{"missing table", map[string]any{"project": "p", "dataset": "d"}, "needs table"},
		{"bad partition", map[string]any{"project": "p", "dataset": "d", "table": "t", "partition_type": "week"}, "partition_type"},
		{"unknown key", map[string]any{"project": "p", "dataset": "d", "table": "t", "tabel": "x"}, "invalid settings"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := NewDestination("bigquery")
			err := dst.Initialize(context.Background(), bqConfig(tt.settings))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestDestination_ParseConfigDefaults(t *testing.T) {
	dst := NewDestination("bigquery")
	require.NoError(t, dst.parseConfig(bqConfig(map[string]any{
		"project":           "p",
		"dataset":           "d",
		"table":             "t",
		"partition_type":    "month",
		"clustering_fields": "country,city",
	})))
	assert.Equal(t, "US", dst.settings.Location)
	assert.Equal(t, "MONTH", dst.settings.PartitionType)
	assert.Equal(t, []string{"country", "city"}, dst.settings.ClusteringFields)
	assert.Equal(t, "p.d.t", dst.tableName())
}

func TestDestination_BuildRows(t *testing.T) {
	ctx := context.Background()
	s := schema.New("orders",
		schema.NewField("id", schema.Long()),
		schema.NewField("name", schema.String().Optional()),
	)
	dst := NewDestination("bigquery")
	require.NoError(t, dst.BaseConnector.Initialize(ctx, bqConfig(nil)))
	dst.schema = s

	good := models.NewRecord(s, map[string]any{"id": 1, "name": "ada"})
	good.Metadata.Source = "database:orders"
	good.Metadata.Offset = 4
	bad := models.NewRecord(s, map[string]any{"id": "x"})
	anonymous := models.NewRecord(s, map[string]any{"id": 2})

	rows, kept, size, err := dst.buildRows(ctx, []*models.Record{good, bad, anonymous})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []*models.Record{good, anonymous}, kept)
	assert.Positive(t, size)

	values, id, err := rows[0].Save()
	require.NoError(t, err)
	assert.Equal(t, "database:orders#4", id)
	assert.Equal(t, int64(1), values["id"])
	assert.Equal(t, "ada", values["name"])

	_, id, _ = rows[1].Save()
	assert.Empty(t, id)
	assert.Equal(t, int64(1), dst.Metrics()["skipped_records"])
}

func TestDestination_BuildRowsFailFast(t *testing.T) {
	ctx := context.Background()
	s := schema.New("orders", schema.NewField("id", schema.Long()))
	cfg := bqConfig(nil)
	cfg.Reliability.FailFast = true
	dst := NewDestination("bigquery")
	require.NoError(t, dst.BaseConnector.Initialize(ctx, cfg))
	dst.schema = s

	_, _, _, err := dst.buildRows(ctx, []*models.Record{models.NewRecord(s, map[string]any{"id": "x"})})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConversion))
}

func TestDestination_NotReady(t *testing.T) {
	ctx := context.Background()
	dst := NewDestination("bigquery")

	err := dst.CreateSchema(ctx, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))

	err = dst.CreateSchema(ctx, schema.New("t", schema.NewField("id", schema.Long())))
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	batches := make(chan []*models.Record)
	errs := make(chan error)
	close(batches)
	close(errs)
	err = dst.WriteBatch(ctx, &core.BatchStream{Batches: batches, Errors: errs})
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))
}

func TestDestination_Registered(t *testing.T) {
	for _, name := range []string{"bigquery", "bq"} {
		info, err := registry.GetConnectorInfo(core.ConnectorTypeDestination, name)
		require.NoError(t, err, name)
		assert.Contains(t, info.Capabilities, "schema_evolution")

		dst, err := registry.CreateDestination(name, config.NewBaseConfig("out", name))
		require.NoError(t, err)
		assert.IsType(t, &Destination{}, dst)
	}
}
