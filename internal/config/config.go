// Package config loads the roit configuration from YAML or TOML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the complete roit configuration.
type Config struct {
	Registration struct {
		// Suffix is appended to the names of transformed regions
		Suffix string `yaml:"suffix" toml:"suffix"`

		// MaxRegions caps the number of area regions per run
		MaxRegions int `yaml:"maxRegions" toml:"maxRegions"`
	} `yaml:"registration" toml:"registration"`

	Engine struct {
		// Kind is "landmarks" or "exec"
		Kind string `yaml:"kind" toml:"kind"`

		// Command and Args run the external tool for the exec engine.
		// {moving}, {fixed} and {output} are replaced with paths.
		Command string   `yaml:"command" toml:"command"`
		Args    []string `yaml:"args" toml:"args"`

		// WorkDir keeps exec runs for inspection; empty uses a temp dir
		WorkDir string `yaml:"workDir" toml:"workDir"`

		// Landmarks is the BigWarp landmarks CSV for the landmarks engine
		Landmarks string `yaml:"landmarks" toml:"landmarks"`

		// SettleDelay is how long an output file must be unchanged before it is opened
		SettleDelay Duration `yaml:"settleDelay" toml:"settleDelay"`
	} `yaml:"engine" toml:"engine"`

	Logging struct {
		// Level is debug, info or error
		Level string `yaml:"level" toml:"level"`
	} `yaml:"logging" toml:"logging"`

	Metrics struct {
		// Addr serves Prometheus metrics when set, e.g. ":9090"
		Addr string `yaml:"addr" toml:"addr"`
	} `yaml:"metrics" toml:"metrics"`
}

// Duration is a time.Duration written as a string such as "500ms".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler, used by the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Registration.Suffix = "-tr"
	cfg.Registration.MaxRegions = 2

	cfg.Engine.Kind = "landmarks"
	cfg.Engine.SettleDelay = Duration{500 * time.Millisecond}

	cfg.Logging.Level = "info"

	return cfg
}

// LoadConfig loads configuration from a .yaml/.yml or .toml file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(configPath))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Registration.MaxRegions < 1 {
		return fmt.Errorf("registration.maxRegions must be at least 1, got %d", c.Registration.MaxRegions)
	}
	switch c.Engine.Kind {
	case "landmarks", "exec":
	default:
		return fmt.Errorf("engine.kind must be landmarks or exec, got %q", c.Engine.Kind)
	}
	if c.Engine.Kind == "exec" && c.Engine.Command == "" {
		return fmt.Errorf("engine.command is required for the exec engine")
	}
	return nil
}

// SaveConfig writes the configuration as YAML or TOML, chosen by extension.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	f, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	defer f.Close()

	if strings.ToLower(filepath.Ext(configPath)) == ".toml" {
		return toml.NewEncoder(f).Encode(cfg)
	}
	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}
