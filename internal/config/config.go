// Package config holds the server configuration captured once at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultExecutable is the sqlfluff binary looked up on PATH when no override is given.
const DefaultExecutable = "sqlfluff"

// DefaultTimeout bounds a single sqlfluff invocation.
const DefaultTimeout = 30 * time.Second

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is immutable after startup and passed around by value.
type Config struct {
	Dialect      string        `yaml:"dialect"`
	Templater    string        `yaml:"templater"`
	SqlfluffPath string        `yaml:"sqlfluff_path"`
	Timeout      time.Duration `yaml:"timeout"`
}

// Default returns the configuration used when nothing else is specified.
func Default() Config {
	return Config{Timeout: DefaultTimeout}
}

// Executable returns the sqlfluff binary to invoke.
func (c Config) Executable() string {
	if c.SqlfluffPath != "" {
		return c.SqlfluffPath
	}
	return DefaultExecutable
}

// Validate checks the configuration for values sqlfluff cannot be run with.
func (c Config) Validate() error {
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative, got %s", ErrInvalidConfig, c.Timeout)
	}
	return nil
}

// Merge returns c with every non-zero field of override applied on top.
func (c Config) Merge(override Config) Config {
	if override.Dialect != "" {
		c.Dialect = override.Dialect
	}
	if override.Templater != "" {
		c.Templater = override.Templater
	}
	if override.SqlfluffPath != "" {
		c.SqlfluffPath = override.SqlfluffPath
	}
	if override.Timeout != 0 {
		c.Timeout = override.Timeout
	}
	return c
}

// Load reads a YAML config file and layers it over the defaults.
// An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg = cfg.Merge(file)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
