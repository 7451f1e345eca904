package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
)

// stubSource satisfies core.Source through the embedded interface; the
// registry never calls it
type stubSource struct {
	core.Source
	cfg *config.BaseConfig
}

type stubDestination struct {
	core.Destination
}

func newSource(cfg *config.BaseConfig) (core.Source, error) {
	return &stubSource{cfg: cfg}, nil
}

func newDestination(*config.BaseConfig) (core.Destination, error) {
	return &stubDestination{}, nil
}

func TestRegistry_RegisterAndCreate(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterSource(ConnectorInfo{Name: "zeta", Version: "1.0.0"}, newSource))
	require.NoError(t, r.RegisterSource(ConnectorInfo{Name: "alpha"}, newSource))
	require.NoError(t, r.RegisterDestination(ConnectorInfo{Name: "alpha", Capabilities: []string{"batch"}}, newDestination))

	assert.Equal(t, []string{"alpha", "zeta"}, r.Names(core.ConnectorTypeSource))
	assert.Equal(t, []string{"alpha"}, r.Names(core.ConnectorTypeDestination))

	cfg := config.NewBaseConfig("orders", "zeta")
	src, err := r.CreateSource("zeta", cfg)
	require.NoError(t, err)
	assert.Same(t, cfg, src.(*stubSource).cfg)

	_, err = r.CreateDestination("alpha", cfg)
	require.NoError(t, err)

	info, err := r.Info(core.ConnectorTypeDestination, "alpha")
	require.NoError(t, err)
	assert.Equal(t, core.ConnectorTypeDestination, info.Type)
	assert.Equal(t, []string{"batch"}, info.Capabilities)

	var names []string
	for _, info := range r.List() {
		names = append(names, string(info.Type)+"/"+info.Name)
	}
	assert.Equal(t, []string{"source/alpha", "source/zeta", "destination/alpha"}, names)
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.RegisterSource(ConnectorInfo{Name: "file"}, newSource))
	err := r.RegisterSource(ConnectorInfo{Name: "file"}, newSource)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	assert.Error(t, r.RegisterSource(ConnectorInfo{}, newSource))
	assert.Error(t, r.RegisterDestination(ConnectorInfo{Name: "nil"}, nil))

	_, err = r.CreateSource("fiel", config.NewBaseConfig("x", "fiel"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	assert.Contains(t, err.Error(), `"fiel" (available: file)`)

	require.NoError(t, r.RegisterSource(ConnectorInfo{Name: "broken"}, func(*config.BaseConfig) (core.Source, error) {
		return nil, errors.New(errors.ErrorTypeConfig, "bucket is required")
	}))
	_, err = r.CreateSource("broken", config.NewBaseConfig("x", "broken"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket is required")

	_, err = r.Info(core.ConnectorTypeDestination, "file")
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	_, err = r.Info("sink", "file")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestDefaultRegistry(t *testing.T) {
	name := "registry-test-source"
	MustRegisterSource(ConnectorInfo{Name: name, Description: "test"}, newSource)

	assert.True(t, HasSource(name))
	assert.False(t, HasDestination(name))
	assert.Contains(t, ListSources(), name)

	src, err := CreateSource(name, config.NewBaseConfig("x", name))
	require.NoError(t, err)
	assert.NotNil(t, src)

	info, err := GetConnectorInfo(core.ConnectorTypeSource, name)
	require.NoError(t, err)
	assert.Equal(t, "test", info.Description)
	assert.Same(t, defaultRegistry, Default())

	assert.Panics(t, func() { MustRegisterSource(ConnectorInfo{Name: name}, newSource) })
}
