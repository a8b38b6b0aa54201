// Package config loads the reflow-counter server configuration from a YAML
// file, layering environment overrides on top of file values and defaults on
// top of nothing.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration.
type Config struct {
	// Addr is the host:port the HTTP server listens on.
	Addr string `yaml:"addr"`
	// Backend selects the state persistence backend ("memory" or "bolt").
	Backend string `yaml:"backend"`
	// DSN is the backend's data source name; a file path for bolt, ignored
	// by memory.
	DSN string `yaml:"dsn"`
	// ShutdownTimeout bounds graceful shutdown, including the drain of
	// in-flight background tasks.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// New returns the default configuration.
func New() *Config {
	return &Config{
		Addr:            "localhost:8080",
		Backend:         "memory",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load reads configuration from path, or returns defaults when path is
// empty. REFLOW_ADDR, REFLOW_BACKEND and REFLOW_DSN environment variables
// override file values.
func Load(path string) (*Config, error) {
	cfg := New()
	if path != "" {
		loaded, err := LoadFromPath(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads configuration from the YAML file at path. A missing
// file is an error; callers that treat the path as optional pass "" to Load
// instead.
func LoadFromPath(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: opening %q: %w", path, err)
	}
	defer file.Close()
	cfg, err := LoadFromReader(file)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader reads YAML configuration from r over the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := New()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if err == io.EOF {
			return cfg, nil
		}
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr must not be empty")
	}
	if c.Backend == "" {
		return fmt.Errorf("config: backend must not be empty")
	}
	if c.Backend == "bolt" && c.DSN == "" {
		return fmt.Errorf("config: the bolt backend requires a dsn")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("config: shutdown_timeout must be positive")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("REFLOW_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("REFLOW_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("REFLOW_DSN"); v != "" {
		cfg.DSN = v
	}
}
