// Package config loads the API server configuration from YAML with
// environment expansion, so secrets stay out of the file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "2s" or "5m" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Addr        string           `yaml:"addr"`
	DatabaseURL string           `yaml:"database_url"`
	RedisAddr   string           `yaml:"redis_addr"`
	JWTSecret   string           `yaml:"jwt_secret"`
	SchemaDir   string           `yaml:"schema_dir"`
	CORSOrigins []string         `yaml:"cors_origins"`
	Dispatch    DispatchConfig   `yaml:"dispatch"`
	Providers   []ProviderConfig `yaml:"providers"`
}

type DispatchConfig struct {
	MaxAttempts      int      `yaml:"max_attempts"`
	BackoffBase      Duration `yaml:"backoff_base"`
	Timeout          Duration `yaml:"timeout"`
	ProgressInterval Duration `yaml:"progress_interval"`
	Workers          int      `yaml:"workers"`
}

type ProviderConfig struct {
	Name    string   `yaml:"name"`
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// Load reads and parses a YAML config file. Environment variables in the
// format ${VAR} are expanded before parsing.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.SchemaDir == "" {
		c.SchemaDir = "schemas"
	}
	if c.Dispatch.MaxAttempts == 0 {
		c.Dispatch.MaxAttempts = 3
	}
	if c.Dispatch.BackoffBase == 0 {
		c.Dispatch.BackoffBase = Duration(2 * time.Second)
	}
	if c.Dispatch.Timeout == 0 {
		c.Dispatch.Timeout = Duration(5 * time.Minute)
	}
	if c.Dispatch.ProgressInterval == 0 {
		c.Dispatch.ProgressInterval = Duration(2 * time.Second)
	}
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = 10
	}
	for i := range c.Providers {
		if c.Providers[i].Timeout == 0 {
			c.Providers[i].Timeout = c.Dispatch.Timeout
		}
	}
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: database_url is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("config: jwt_secret is required")
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("config: at least one provider is required")
	}
	names := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("config: providers[%d]: name is required", i)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("config: providers[%d] (%s): base_url is required", i, p.Name)
		}
		if names[p.Name] {
			return fmt.Errorf("config: duplicate provider %q", p.Name)
		}
		names[p.Name] = true
	}
	return nil
}
