package config

import (
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/recordbridge/pkg/errors"
)

// Load loads a configuration from a YAML (or JSON) file, substituting
// ${VAR} and ${VAR:-default} references from the environment first
func Load(filePath string, config interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to read config file %s", filePath)
	}
	return Parse(data, config)
}

// Parse decodes YAML (or JSON) configuration text into config
func Parse(data []byte, config interface{}) error {
	content := SubstituteEnv(string(data))
	if err := yaml.Unmarshal([]byte(content), config); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML")
	}
	return nil
}

// LoadBase loads a connector configuration file and fills in defaults
func LoadBase(filePath string) (*BaseConfig, error) {
	var cfg BaseConfig
	if err := Load(filePath, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save saves a configuration to a YAML file
func Save(filePath string, config interface{}) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to marshal YAML")
	}
	if err := os.WriteFile(filePath, data, 0o600); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeFile, "failed to write config file %s", filePath)
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// SubstituteEnv replaces ${VAR_NAME} with the environment value of
// VAR_NAME. ${VAR_NAME:-fallback} uses fallback when the variable is unset
// or empty.
func SubstituteEnv(content string) string {
	return envRef.ReplaceAllStringFunc(content, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v := os.Getenv(m[1]); v != "" {
			return v
		}
		return m[3]
	})
}
