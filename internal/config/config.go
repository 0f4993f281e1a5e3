// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blueberrycongee/captionmux/pkg/types"
)

// Config represents the complete caption service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Generation GenerationConfig `yaml:"generation"`
	Cache      CacheConfig      `yaml:"cache"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	// MaxBodyBytes bounds request bodies. Image uploads dominate, so this
	// sits a little above the image size ceiling.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// ProvidersConfig holds the upstream provider credentials and endpoints.
type ProvidersConfig struct {
	Replicate ReplicateConfig `yaml:"replicate"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
}

// ReplicateConfig configures the base-caption provider.
type ReplicateConfig struct {
	APIToken     string        `yaml:"api_token"`
	BaseURL      string        `yaml:"base_url"`
	ModelVersion string        `yaml:"model_version"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// OpenAIConfig configures the style-rewrite provider.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// GenerationConfig controls the caption pipeline.
type GenerationConfig struct {
	Styles           []string      `yaml:"styles"`
	MaxVariantLength int           `yaml:"max_variant_length"`
	CaptionTimeout   time.Duration `yaml:"caption_timeout"`
	RetryCount       int           `yaml:"retry_count"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	RetryMaxBackoff  time.Duration `yaml:"retry_max_backoff"`
}

// CacheConfig controls the in-memory result cache.
type CacheConfig struct {
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

// RateLimitConfig defines outbound rate limiting parameters.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	MaxQueueDepth     int `yaml:"max_queue_depth"`
}

// AuthConfig controls API-key authentication for the HTTP surface.
type AuthConfig struct {
	Enabled bool     `yaml:"enabled"`
	APIKeys []string `yaml:"api_keys"`
	// PerKeyRPS limits requests per second for each API key.
	PerKeyRPS   float64       `yaml:"per_key_rps"`
	PerKeyBurst int           `yaml:"per_key_burst"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 12 << 20,
		},
		Generation: GenerationConfig{
			Styles:           []string{"creative", "funny", "poetic"},
			MaxVariantLength: 100,
			CaptionTimeout:   30 * time.Second,
			RetryCount:       3,
			RetryBackoff:     time.Second,
			RetryMaxBackoff:  10 * time.Second,
		},
		Cache: CacheConfig{
			MaxSize: 50,
			TTL:     time.Hour,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 10,
			MaxQueueDepth:     100,
		},
		Auth: AuthConfig{
			Enabled:     false,
			PerKeyRPS:   5,
			PerKeyBurst: 10,
			CacheTTL:    5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Providers.Replicate.APIToken == "" {
		return fmt.Errorf("providers.replicate.api_token is required")
	}
	if c.Providers.OpenAI.APIKey == "" {
		return fmt.Errorf("providers.openai.api_key is required")
	}
	if c.Providers.Replicate.PollInterval < 0 {
		return fmt.Errorf("providers.replicate.poll_interval cannot be negative")
	}

	if n := len(c.Generation.Styles); n < 3 || n > 5 {
		return fmt.Errorf("generation.styles: between 3 and 5 styles required, got %d", n)
	}
	for _, s := range c.Generation.Styles {
		if !types.Style(s).Valid() {
			return fmt.Errorf("generation.styles: unknown style %q", s)
		}
	}
	if c.Generation.MaxVariantLength <= 0 {
		return fmt.Errorf("generation.max_variant_length must be positive")
	}
	if c.Generation.RetryCount < 0 {
		return fmt.Errorf("generation.retry_count cannot be negative")
	}
	if c.Generation.CaptionTimeout <= 0 {
		return fmt.Errorf("generation.caption_timeout must be positive")
	}

	if c.Cache.MaxSize <= 0 {
		return fmt.Errorf("cache.max_size must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be positive")
	}
	if c.RateLimit.MaxQueueDepth < 0 {
		return fmt.Errorf("rate_limit.max_queue_depth cannot be negative")
	}

	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth.api_keys is required when auth is enabled")
	}

	return nil
}

// Styles converts the configured style names to their typed form. Call
// Validate first; unknown names pass through unchecked here.
func (c *Config) Styles() []types.Style {
	styles := make([]types.Style, 0, len(c.Generation.Styles))
	for _, s := range c.Generation.Styles {
		styles = append(styles, types.Style(s))
	}
	return styles
}
