// Package config loads closectl settings from a YAML file and CLOSE_*
// environment variables.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Sternrassler/close-api-client/pkg/client"
	"github.com/Sternrassler/close-api-client/pkg/logging"
	"github.com/spf13/viper"
)

// Catalog cache backends.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNATS   = "nats"
)

// ErrMissingAPIKey is returned when no API key is configured.
var ErrMissingAPIKey = errors.New("api key is required (set CLOSE_API_KEY or api_key in the config file)")

// Config holds closectl settings.
type Config struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`

	// Env names the Close organization, e.g. "prod". It prefixes Scope and
	// tags log entries.
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`

	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`

	// RedisAddr enables shared rate limit state, and the redis catalog cache.
	RedisAddr string `mapstructure:"redis_addr"`
	NATSURL   string `mapstructure:"nats_url"`

	CatalogCache string        `mapstructure:"catalog_cache"`
	CatalogTTL   time.Duration `mapstructure:"catalog_ttl"`

	SliceSize int `mapstructure:"slice_size"`
}

// SetDefaults registers every key with its default, which also makes the
// keys visible to AutomaticEnv.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api_key", "")
	v.SetDefault("base_url", client.DefaultBaseURL)
	v.SetDefault("env", "default")
	v.SetDefault("log_level", "info")
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("max_retries", 3)
	v.SetDefault("requests_per_second", 0.0)
	v.SetDefault("redis_addr", "")
	v.SetDefault("nats_url", "")
	v.SetDefault("catalog_cache", CacheMemory)
	v.SetDefault("catalog_ttl", time.Hour)
	v.SetDefault("slice_size", 10)
}

// DefaultPath returns ~/.closectl/config.yml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("find home directory: %w", err)
	}
	return filepath.Join(home, ".closectl", "config.yml"), nil
}

// Load reads file (or the default path when file is empty and it exists)
// and the environment into a validated Config.
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("CLOSE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file == "" {
		if path, err := DefaultPath(); err == nil {
			if _, err := os.Stat(path); err == nil {
				file = path
			}
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings for consistency.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.SliceSize <= 0 {
		return fmt.Errorf("slice_size must be > 0 (got %d)", c.SliceSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0 (got %d)", c.MaxRetries)
	}
	switch c.CatalogCache {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.RedisAddr == "" {
			return errors.New("catalog_cache redis requires redis_addr")
		}
	case CacheNATS:
		if c.NATSURL == "" {
			return errors.New("catalog_cache nats requires nats_url")
		}
	default:
		return fmt.Errorf("unknown catalog_cache %q (want none, memory, redis or nats)", c.CatalogCache)
	}
	return nil
}

// Scope identifies the organization in shared catalog and rate limit keys:
// the env name plus a digest of the API key, so two organizations never
// share keys even under the same env name. The key itself is not exposed.
func (c Config) Scope() string {
	sum := sha256.Sum256([]byte(c.APIKey))
	return c.Env + "-" + hex.EncodeToString(sum[:6])
}

// ClientConfig returns the API client configuration. The rate limit store
// is left for the caller to attach.
func (c Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.APIKey)
	cfg.BaseURL = c.BaseURL
	cfg.Timeout = c.Timeout
	cfg.MaxRetries = c.MaxRetries
	cfg.RequestsPerSecond = c.RequestsPerSecond
	return cfg
}

// LoggingConfig returns the logger configuration.
func (c Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level, _ = logging.ParseLevel(c.LogLevel)
	cfg.Env = c.Env
	return cfg
}
