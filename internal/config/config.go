package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"` // Listen address, e.g. ":8317".
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // PostgreSQL or SQLite DSN.
}

// RedisConfig holds optional Redis settings. An empty Addr disables Redis;
// rate limiting and compaction locking then fall back to in-process variants.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ProviderConfig holds text-generation provider settings.
type ProviderConfig struct {
	APIKey         string `yaml:"api-key"`         // Provider API key; env LEARNLOOP_PROVIDER_API_KEY overrides.
	BaseURL        string `yaml:"base-url"`        // Optional API base URL override.
	Model          string `yaml:"model"`           // Default conversation model.
	CompactModel   string `yaml:"compact-model"`   // Lower-cost model for history summaries.
	QuizModel      string `yaml:"quiz-model"`      // Model used for quiz generation.
	TimeoutSeconds int    `yaml:"timeout-seconds"` // Per-call timeout, defaults to 60.
}

// Timeout returns the provider call timeout as a duration.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// JWTConfig holds token signing settings.
type JWTConfig struct {
	Secret      string `yaml:"secret"`
	ExpiryHours int    `yaml:"expiry-hours"`
}

// Expiry returns the configured token lifetime.
func (j JWTConfig) Expiry() time.Duration {
	if j.ExpiryHours <= 0 {
		return 72 * time.Hour
	}
	return time.Duration(j.ExpiryHours) * time.Hour
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`       // logrus level name, defaults to "info".
	File       string `yaml:"file"`        // Log file path; empty logs to stderr only.
	MaxSizeMB  int    `yaml:"max-size-mb"` // Rotation size threshold.
	MaxBackups int    `yaml:"max-backups"` // Rotated files to keep.
}

// RateLimitConfig holds request rate limit settings.
type RateLimitConfig struct {
	PerMinute int `yaml:"per-minute"` // Allowed turn requests per user per minute; 0 disables.
}

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Provider  ProviderConfig  `yaml:"provider"`
	JWT       JWTConfig       `yaml:"jwt"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate-limit"`
}

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "config.yaml"

// Load reads and parses the YAML configuration file at path.
// Environment overrides are applied after parsing.
func Load(path string) (*Config, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = DefaultConfigPath
	}
	data, errRead := os.ReadFile(trimmed)
	if errRead != nil {
		return nil, fmt.Errorf("config: read %s: %w", trimmed, errRead)
	}

	cfg := &Config{}
	if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
		return nil, fmt.Errorf("config: parse %s: %w", trimmed, errUnmarshal)
	}

	applyEnvOverrides(cfg)

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = ":8317"
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return nil, fmt.Errorf("config: missing database.dsn")
	}
	if strings.TrimSpace(cfg.JWT.Secret) == "" {
		return nil, fmt.Errorf("config: missing jwt.secret")
	}
	return cfg, nil
}

// applyEnvOverrides lets secrets come from the environment instead of the file.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("LEARNLOOP_PROVIDER_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("LEARNLOOP_JWT_SECRET")); v != "" {
		cfg.JWT.Secret = v
	}
	if v := strings.TrimSpace(os.Getenv("LEARNLOOP_DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("LEARNLOOP_REDIS_ADDR")); v != "" {
		cfg.Redis.Addr = v
	}
}
