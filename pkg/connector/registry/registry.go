// Package registry maps connector type names to factories. Connector
// packages register themselves from init(); the CLI imports them for that
// side effect and creates connectors by the type named in configuration.
//
// Every registration carries a ConnectorInfo, so `recordbridge list` and
// the factories can never disagree about what exists.
package registry

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/recordbridge/pkg/config"
	"github.com/ajitpratap0/recordbridge/pkg/connector/core"
	"github.com/ajitpratap0/recordbridge/pkg/errors"
	"github.com/ajitpratap0/recordbridge/pkg/logger"
)

// SourceFactory creates an uninitialized source for cfg
type SourceFactory func(cfg *config.BaseConfig) (core.Source, error)

// DestinationFactory creates an uninitialized destination for cfg
type DestinationFactory func(cfg *config.BaseConfig) (core.Destination, error)

// ConnectorInfo describes a registered connector
type ConnectorInfo = core.ConnectorMetadata

type entry[F any] struct {
	info    ConnectorInfo
	factory F
}

// connectors is the set of one connector type
type connectors[F any] map[string]entry[F]

func (c connectors[F]) add(info ConnectorInfo, factory F, isNil bool) error {
	if info.Name == "" {
		return errors.Newf(errors.ErrorTypeConfig, "%s connector has no name", info.Type)
	}
	if isNil {
		return errors.Newf(errors.ErrorTypeConfig, "%s connector %s has no factory", info.Type, info.Name)
	}
	if _, dup := c[info.Name]; dup {
		return errors.Newf(errors.ErrorTypeConfig, "%s connector %s already registered", info.Type, info.Name)
	}
	c[info.Name] = entry[F]{info: info, factory: factory}
	return nil
}

func (c connectors[F]) get(t core.ConnectorType, name string) (entry[F], error) {
	e, ok := c[name]
	if !ok {
		return e, errors.Newf(errors.ErrorTypeNotFound, "unknown %s connector %q (available: %s)",
			t, name, strings.Join(c.names(), ", "))
	}
	return e, nil
}

func (c connectors[F]) names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry manages connector registration and instantiation
type Registry struct {
	mu           sync.RWMutex
	sources      connectors[SourceFactory]
	destinations connectors[DestinationFactory]
	logger       *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		sources:      make(connectors[SourceFactory]),
		destinations: make(connectors[DestinationFactory]),
		logger:       logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// RegisterSource registers a source under info.Name
func (r *Registry) RegisterSource(info ConnectorInfo, factory SourceFactory) error {
	info.Type = core.ConnectorTypeSource
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.sources.add(info, factory, factory == nil); err != nil {
		return err
	}
	r.logger.Debug("source connector registered", zap.String("name", info.Name))
	return nil
}

// RegisterDestination registers a destination under info.Name
func (r *Registry) RegisterDestination(info ConnectorInfo, factory DestinationFactory) error {
	info.Type = core.ConnectorTypeDestination
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.destinations.add(info, factory, factory == nil); err != nil {
		return err
	}
	r.logger.Debug("destination connector registered", zap.String("name", info.Name))
	return nil
}

// CreateSource creates the source registered as name
func (r *Registry) CreateSource(name string, cfg *config.BaseConfig) (core.Source, error) {
	r.mu.RLock()
	e, err := r.sources.get(core.ConnectorTypeSource, name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	source, err := e.factory(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "failed to create source connector %s", name)
	}
	return source, nil
}

// CreateDestination creates the destination registered as name
func (r *Registry) CreateDestination(name string, cfg *config.BaseConfig) (core.Destination, error) {
	r.mu.RLock()
	e, err := r.destinations.get(core.ConnectorTypeDestination, name)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	destination, err := e.factory(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "failed to create destination connector %s", name)
	}
	return destination, nil
}

// Info returns the description of a registered connector
func (r *Registry) Info(t core.ConnectorType, name string) (*ConnectorInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch t {
	case core.ConnectorTypeSource:
		e, err := r.sources.get(t, name)
		if err != nil {
			return nil, err
		}
		info := e.info
		return &info, nil
	case core.ConnectorTypeDestination:
		e, err := r.destinations.get(t, name)
		if err != nil {
			return nil, err
		}
		info := e.info
		return &info, nil
	}
	return nil, errors.Newf(errors.ErrorTypeValidation, "unknown connector type %q", t)
}

// Names returns the registered names of one connector type in order
func (r *Registry) Names(t core.ConnectorType) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if t == core.ConnectorTypeDestination {
		return r.destinations.names()
	}
	return r.sources.names()
}

// List returns every registered connector, sources first, each type ordered
// by name
func (r *Registry) List() []*ConnectorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]*ConnectorInfo, 0, len(r.sources)+len(r.destinations))
	for _, name := range r.sources.names() {
		info := r.sources[name].info
		infos = append(infos, &info)
	}
	for _, name := range r.destinations.names() {
		info := r.destinations[name].info
		infos = append(infos, &info)
	}
	return infos
}

var defaultRegistry = NewRegistry()

// Default returns the registry connector packages register with
func Default() *Registry {
	return defaultRegistry
}

// MustRegisterSource registers a source with the default registry,
// panicking on a duplicate. Connector packages call it from init().
func MustRegisterSource(info ConnectorInfo, factory SourceFactory) {
	if err := defaultRegistry.RegisterSource(info, factory); err != nil {
		panic(err)
	}
}

// MustRegisterDestination is MustRegisterSource for destinations
func MustRegisterDestination(info ConnectorInfo, factory DestinationFactory) {
	if err := defaultRegistry.RegisterDestination(info, factory); err != nil {
		panic(err)
	}
}

// CreateSource creates a source from the default registry
func CreateSource(name string, cfg *config.BaseConfig) (core.Source, error) {
	return defaultRegistry.CreateSource(name, cfg)
}

// CreateDestination creates a destination from the default registry
func CreateDestination(name string, cfg *config.BaseConfig) (core.Destination, error) {
	return defaultRegistry.CreateDestination(name, cfg)
}

// HasSource reports whether a source is registered as name
func HasSource(name string) bool {
	_, err := defaultRegistry.Info(core.ConnectorTypeSource, name)
	return err == nil
}

// HasDestination reports whether a destination is registered as name
func HasDestination(name string) bool {
	_, err := defaultRegistry.Info(core.ConnectorTypeDestination, name)
	return err == nil
}

// ListSources returns the registered source names
func ListSources() []string {
	return defaultRegistry.Names(core.ConnectorTypeSource)
}

// ListDestinations returns the registered destination names
func ListDestinations() []string {
	return defaultRegistry.Names(core.ConnectorTypeDestination)
}

// GetConnectorInfo describes a connector of the default registry
func GetConnectorInfo(t core.ConnectorType, name string) (*ConnectorInfo, error) {
	return defaultRegistry.Info(t, name)
}

// ListConnectorInfo lists the connectors of the default registry
func ListConnectorInfo() []*ConnectorInfo {
	return defaultRegistry.List()
}
