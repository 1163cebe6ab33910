package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Backend  BackendConfig  `yaml:"backend"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Cache    CacheConfig    `yaml:"cache"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// BackendConfig selects and configures the inference backend.
// The backend kind is fixed at process start; it is never switched per request.
type BackendConfig struct {
	Kind       string `yaml:"kind"` // "local" or "openai"
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	APIKey     string `yaml:"-"` // env-only, never in YAML
}

// PipelineConfig contains batching and preprocessing settings.
type PipelineConfig struct {
	BatchSize    int `yaml:"batch_size"`
	PoolSize     int `yaml:"pool_size"`
	BatchRetries int `yaml:"batch_retries"`
}

// CacheConfig contains embedding cache settings.
type CacheConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Path             string   `yaml:"path"`
	TTL              Duration `yaml:"ttl"`
	EvictionInterval Duration `yaml:"eviction_interval"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("ENCODERD_CONFIG_PATH", "config/encoderd.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
// Batch size and preprocessing pool size defaults suit a single-GPU-class backend.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Backend: BackendConfig{
			Kind:       "local",
			Model:      "feature-hash-256",
			Dimensions: 256,
		},
		Pipeline: PipelineConfig{
			BatchSize:    64,
			PoolSize:     4,
			BatchRetries: 0,
		},
		Cache: CacheConfig{
			Enabled:          false,
			Path:             "data/encoderd-cache.db",
			TTL:              Duration(24 * time.Hour),
			EvictionInterval: Duration(1 * time.Hour),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("ENCODERD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("ENCODERD_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = Duration(d)
		}
	}
	if v := os.Getenv("ENCODERD_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = Duration(d)
		}
	}
	if v := os.Getenv("ENCODERD_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ShutdownTimeout = Duration(d)
		}
	}

	// Backend (OPENAI_API_KEY is industry convention)
	if v := os.Getenv("ENCODERD_BACKEND"); v != "" {
		cfg.Backend.Kind = v
	}
	if v := os.Getenv("ENCODERD_MODEL"); v != "" {
		cfg.Backend.Model = v
	}
	if v := os.Getenv("ENCODERD_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backend.Dimensions = n
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}

	// Pipeline
	if v := os.Getenv("ENCODERD_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.BatchSize = n
		}
	}
	if v := os.Getenv("ENCODERD_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.PoolSize = n
		}
	}
	if v := os.Getenv("ENCODERD_BATCH_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.BatchRetries = n
		}
	}

	// Cache
	if v := os.Getenv("ENCODERD_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("ENCODERD_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v := os.Getenv("ENCODERD_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = Duration(d)
		}
	}
	if v := os.Getenv("ENCODERD_CACHE_EVICTION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.EvictionInterval = Duration(d)
		}
	}

	// Auth
	if v := os.Getenv("ENCODERD_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Log
	if v := os.Getenv("ENCODERD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ENCODERD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// Validate checks configuration invariants before any request is served.
// Invalid batching or pool settings are fatal at startup, never per-request.
func (c *Config) Validate() error {
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("pipeline.batch_size must be at least 1, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.PoolSize < 1 {
		return fmt.Errorf("pipeline.pool_size must be at least 1, got %d", c.Pipeline.PoolSize)
	}
	if c.Pipeline.BatchRetries < 0 {
		return fmt.Errorf("pipeline.batch_retries must not be negative, got %d", c.Pipeline.BatchRetries)
	}

	switch c.Backend.Kind {
	case "local":
		if c.Backend.Dimensions < 1 {
			return fmt.Errorf("backend.dimensions must be at least 1, got %d", c.Backend.Dimensions)
		}
	case "openai":
		if c.Backend.APIKey == "" && os.Getenv("ENCODERD_DEV_MODE") != "true" {
			return errors.New("OPENAI_API_KEY is required for the openai backend")
		}
	default:
		return fmt.Errorf("unknown backend kind %q", c.Backend.Kind)
	}

	if c.Cache.Enabled {
		if c.Cache.Path == "" {
			return errors.New("cache.path is required when cache is enabled")
		}
		if c.Cache.TTL <= 0 {
			return errors.New("cache.ttl must be positive when cache is enabled")
		}
	}

	// Dev mode bypasses API key validation
	if os.Getenv("ENCODERD_DEV_MODE") == "true" {
		return nil
	}
	if c.Auth.APIKey == "" {
		return errors.New("ENCODERD_API_KEY is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
