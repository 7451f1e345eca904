package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
)

// EnvPrefix prefixes environment overrides of pipeline keys, e.g.
// RECORDBRIDGE_BATCH_SIZE or RECORDBRIDGE_SOURCE_SETTINGS_BUCKET
const EnvPrefix = "RECORDBRIDGE"

// PipelineConfig is the file the run command executes: a source, a
// destination and how records move between them
type PipelineConfig struct {
	Name          string        `yaml:"name" json:"name" mapstructure:"name"`
	BatchSize     int           `yaml:"batch_size" json:"batch_size" mapstructure:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval" mapstructure:"flush_interval"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
	LogLevel      string        `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	// MetricsAddr, when set, serves Prometheus metrics on this address
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr" mapstructure:"metrics_addr"`
	// Tracing writes OpenTelemetry spans to stdout
	Tracing bool `yaml:"tracing" json:"tracing" mapstructure:"tracing"`

	Source      BaseConfig `yaml:"source" json:"source" mapstructure:"source"`
	Destination BaseConfig `yaml:"destination" json:"destination" mapstructure:"destination"`
}

// NewPipelineConfig returns pipeline defaults
func NewPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		Name:          "pipeline",
		BatchSize:     1000,
		FlushInterval: 10 * time.Second,
		Timeout:       30 * time.Minute,
		LogLevel:      "info",
	}
}

// LoadPipeline reads a pipeline file (YAML or JSON by extension). A .env
// file next to the working directory is loaded first, ${VAR} references are
// substituted and RECORDBRIDGE_* variables override keys of the file.
func LoadPipeline(path string) (*PipelineConfig, error) {
	_ = godotenv.Load() // a missing .env is fine

	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeFile, "failed to read pipeline file %s", path)
	}

	v := viper.New()
	configType := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if configType == "yml" || configType == "" {
		configType = "yaml"
	}
	v.SetConfigType(configType)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := NewPipelineConfig()
	v.SetDefault("name", def.Name)
	v.SetDefault("batch_size", def.BatchSize)
	v.SetDefault("flush_interval", def.FlushInterval)
	v.SetDefault("timeout", def.Timeout)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("metrics_addr", def.MetricsAddr)
	v.SetDefault("tracing", def.Tracing)

	if err := v.ReadConfig(bytes.NewReader([]byte(SubstituteEnv(string(data))))); err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "failed to parse pipeline file %s", path)
	}

	var cfg PipelineConfig
	err = v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	})
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrorTypeConfig, "failed to decode pipeline file %s", path)
	}

	for _, c := range []*BaseConfig{&cfg.Source, &cfg.Destination} {
		c.ApplyDefaults()
		if cfg.BatchSize > 0 {
			c.Performance.BatchSize = cfg.BatchSize
		}
		if cfg.FlushInterval > 0 {
			c.Performance.FlushInterval = cfg.FlushInterval
		}
	}
	if cfg.Source.Name == "" {
		cfg.Source.Name = cfg.Name + "-source"
	}
	if cfg.Destination.Name == "" {
		cfg.Destination.Name = cfg.Name + "-destination"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks both connector configurations
func (p *PipelineConfig) Validate() error {
	if p.BatchSize <= 0 {
		return errors.New(errors.ErrorTypeConfig, "batch_size must be positive")
	}
	if err := p.Source.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "source")
	}
	if err := p.Destination.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "destination")
	}
	return nil
}
