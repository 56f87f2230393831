package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by the CLI.
const (
	EnvConfigPath = "VOICEBOOT_CONFIG"
	EnvLogLevel   = "VOICEBOOT_LOG_LEVEL"
)

// Load reads a configuration file based on its extension and fills every
// unset field with its default.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Resolve loads path, or the file named by VOICEBOOT_CONFIG when path is
// empty, or the defaults when neither is set. VOICEBOOT_LOG_LEVEL overrides
// the log level either way.
func Resolve(path string) (Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	cfg := Defaults()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return cfg, err
		}
	}
	if lvl := strings.TrimSpace(os.Getenv(EnvLogLevel)); lvl != "" {
		cfg.LogLevel = lvl
	}
	if err := cfg.ExpandPaths(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Encode renders cfg in the format implied by ext (yaml, json or toml).
func Encode(cfg Config, format string) ([]byte, error) {
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "yaml", "yml", "":
		return yaml.Marshal(cfg)
	case "json":
		return json.MarshalIndent(cfg, "", "  ")
	case "toml":
		return toml.Marshal(cfg)
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}
}
