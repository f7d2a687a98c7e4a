package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider types.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
)

// Config holds all sendchat configuration.
type Config struct {
	Providers      []ProviderConfig `yaml:"providers"`
	Router         RouterConfig     `yaml:"router"`
	FallbackModels []string         `yaml:"fallback_models"`
	Cache          CacheConfig      `yaml:"cache"`
	Retry          RetryConfig      `yaml:"retry"`
	Log            LogConfig        `yaml:"log"`
}

// RouterConfig maps model names to providers.
type RouterConfig struct {
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig sends requests for Model to Provider. Model may end in "*" to
// match a prefix. Target, when set, replaces the model name sent upstream.
type RouteConfig struct {
	Model    string `yaml:"model"`
	Provider string `yaml:"provider"`
	Target   string `yaml:"target"`
}

// ProviderConfig defines an upstream LLM provider.
// Type is "openai" (default) or "anthropic".
type ProviderConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Type   string `yaml:"type"`
}

// CacheConfig controls the response cache. A zero TTL never expires entries.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Backend string        `yaml:"backend"`
	DBPath  string        `yaml:"db_path"`
	TTL     time.Duration `yaml:"ttl"`
}

// RetryConfig controls the backoff schedule for transient failures.
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
	MaxTime         time.Duration `yaml:"max_time"`
}

// LogConfig controls logger output. When File is set, records are also
// appended there as JSON.
type LogConfig struct {
	Debug  bool   `yaml:"debug"`
	JSON   bool   `yaml:"json"`
	Pretty bool   `yaml:"pretty"`
	File   string `yaml:"file"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		FallbackModels: []string{"claude-3-5-sonnet-20240620"},
		Cache: CacheConfig{
			Enabled: false,
			Backend: CacheMemory,
			DBPath:  "sendchat.db",
		},
		Retry: RetryConfig{
			InitialInterval: time.Second,
			MaxInterval:     60 * time.Second,
			Multiplier:      2,
			MaxTime:         60 * time.Second,
		},
		Log: LogConfig{
			Pretty: true,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks provider types, route targets and the cache backend.
func (c *Config) Validate() error {
	names := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name)
		}
		names[p.Name] = true
		switch p.Type {
		case "", ProviderOpenAI, ProviderAnthropic:
		default:
			return fmt.Errorf("provider %q: unknown type %q", p.Name, p.Type)
		}
	}

	for _, r := range c.Router.Routes {
		if r.Model == "" {
			return errors.New("route: model is required")
		}
		if !names[r.Provider] {
			return fmt.Errorf("route %q: unknown provider %q", r.Model, r.Provider)
		}
	}

	switch c.Cache.Backend {
	case "", CacheMemory:
	case CacheSQLite:
		if c.Cache.DBPath == "" {
			return errors.New("cache: db_path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("cache: unknown backend %q", c.Cache.Backend)
	}
	return nil
}
