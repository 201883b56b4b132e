package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Loader reads and validates a configuration document. The default loader
// detects the format from the file extension; alternative loaders exist so
// tests and embedders can substitute their own schema.
type Loader func(path string) (*Config, error)

// Load reads a configuration document, picking the parser by extension:
// .yaml/.yml, .toml, or .json. Unknown extensions parse as YAML. Any read,
// parse, or validation failure surfaces as a ValidationError.
func Load(path string) (*Config, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, &ValidationError{Path: path, Err: err}
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(payload, cfg)
	case ".json":
		err = json.Unmarshal(payload, cfg)
	default:
		err = yaml.Unmarshal(payload, cfg)
	}
	if err != nil {
		return nil, &ValidationError{Path: path, Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return nil, &ValidationError{Path: path, Err: err}
	}
	return cfg, nil
}
