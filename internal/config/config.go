// Package config loads the engine's global configuration and resolves the
// per-scope filesystem locations (install roots, state directories, desktop
// and systemd paths).
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	yamlv3 "gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"
)

// Schema validates the global config file. The YAML is converted to JSON
// first so one schema serves both encodings.
const Schema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "workers": {"type": "integer", "minimum": 1, "maximum": 64},
    "temp_dir": {"type": "string"},
    "keyring_dir": {"type": "string"},
    "state_dir_user": {"type": "string"},
    "state_dir_system": {"type": "string"},
    "logging": {
      "type": "object",
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]}
      }
    }
  },
  "additionalProperties": false
}`

var compiledSchema = jsonschema.MustCompileString("config.schema.json", Schema)

// GlobalConfig holds engine-wide settings. Zero values fall back to
// defaults at the point of use.
type GlobalConfig struct {
	Workers        int    `yaml:"workers" json:"workers,omitempty"`
	TempDir        string `yaml:"temp_dir" json:"temp_dir,omitempty"`
	KeyringDir     string `yaml:"keyring_dir" json:"keyring_dir,omitempty"`
	StateDirUser   string `yaml:"state_dir_user" json:"state_dir_user,omitempty"`
	StateDirSystem string `yaml:"state_dir_system" json:"state_dir_system,omitempty"`
	Logging        struct {
		Level string `yaml:"level" json:"level,omitempty"`
	} `yaml:"logging" json:"logging,omitempty"`
}

// Default returns the built-in configuration.
func Default() *GlobalConfig {
	cfg := &GlobalConfig{Workers: 4}
	cfg.Logging.Level = "info"
	return cfg
}

// Load reads a YAML config file, validates it against the schema, and
// merges it over the defaults. A missing file yields the defaults.
func Load(path string) (*GlobalConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	jsonData, err := sigsyaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to convert config to JSON: %w", err)
	}
	var raw interface{}
	if err := json.Unmarshal(jsonData, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := compiledSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := yamlv3.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = Default().Workers
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = Default().Logging.Level
	}
	return cfg, nil
}

// TempRoot returns the directory under which staging areas are created.
func (c *GlobalConfig) TempRoot() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return os.TempDir()
}
