package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all client configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ServerConfig points at the slice rendering service
type ServerConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AuthConfig locates the access token issued at login
type AuthConfig struct {
	TokenFile string `mapstructure:"token_file"`
	Token     string `mapstructure:"token"`
}

// StorageConfig selects where sessions and slice bytes are kept between runs
type StorageConfig struct {
	Path    string      `mapstructure:"path"`
	Backend string      `mapstructure:"backend"` // duckdb or redis
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig is used when storage.backend is redis
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
	File   string `mapstructure:"file"`
}

// MetricsConfig toggles the prometheus collectors
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

const (
	BackendDuckDB = "duckdb"
	BackendRedis  = "redis"
)

func stateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "ctslice")
	}
	return ".ctslice"
}

func setDefaults(v *viper.Viper) {
	dir := stateDir()
	v.SetDefault("server.base_url", "http://localhost:8000")
	v.SetDefault("server.timeout", 60*time.Second)
	v.SetDefault("auth.token_file", filepath.Join(dir, "token"))
	v.SetDefault("storage.path", filepath.Join(dir, "state.duckdb"))
	v.SetDefault("storage.backend", BackendDuckDB)
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", filepath.Join(dir, "ctslice.log"))
	v.SetDefault("metrics.enabled", true)
}

// Load reads configuration following defaults → config file → CTSLICE_* environment.
// A missing config file is not an error when path is empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("ctslice")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(stateDir())
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("CTSLICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	return c.Log.Validate()
}

// Validate ensures the base URL is absolute
func (s ServerConfig) Validate() error {
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.base_url must be an absolute URL, got %q", s.BaseURL)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}
	return nil
}

// Validate ensures the selected backend is usable
func (s StorageConfig) Validate() error {
	switch s.Backend {
	case BackendDuckDB:
		return nil
	case BackendRedis:
		if strings.TrimSpace(s.Redis.Addr) == "" {
			return fmt.Errorf("storage.redis.addr is required for the redis backend")
		}
		return nil
	}
	return fmt.Errorf("storage.backend must be %q or %q, got %q", BackendDuckDB, BackendRedis, s.Backend)
}

// Validate ensures level and format are known
func (l LogConfig) Validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", l.Level)
	}
	switch l.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", l.Format)
	}
	return nil
}
