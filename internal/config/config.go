// Package config handles configuration loading for newswire.
// It supports YAML config files with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	API      APIConfig      `mapstructure:"api"      yaml:"api"`
	Ingest   IngestConfig   `mapstructure:"ingest"   yaml:"ingest"`
	Sources  []SourceConfig `mapstructure:"sources"  yaml:"sources"`
}

// DatabaseConfig holds the persistence settings.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // "postgres" or "sqlite"
	DSN    string `mapstructure:"dsn"    yaml:"dsn"`
}

// APIConfig holds the read-API server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// IngestConfig holds pipeline-wide ingestion settings.
type IngestConfig struct {
	// RatePerSecond caps total adapter invocations per second across all
	// sources, respecting upstream usage limits.
	RatePerSecond int `mapstructure:"rate_per_second" yaml:"rate_per_second"`

	// MaxParallel bounds how many source cycles may execute at once.
	MaxParallel int `mapstructure:"max_parallel" yaml:"max_parallel"`

	// SessionRefresh is the cadence on which emulated-session sources get
	// their session state re-established, independent of fetch cadence.
	SessionRefresh time.Duration `mapstructure:"session_refresh" yaml:"session_refresh"`

	// SummaryHistory is how many recent run summaries the scheduler retains
	// for the API and WebSocket observers.
	SummaryHistory int `mapstructure:"summary_history" yaml:"summary_history"`
}

// SourceConfig is the static per-source schedule entry. Loaded once,
// never mutated at runtime.
type SourceConfig struct {
	Name        string        `mapstructure:"name"         yaml:"name"`
	Kind        string        `mapstructure:"kind"         yaml:"kind"` // "cls", "xueqiu", "rss"
	FeedURL     string        `mapstructure:"feed_url"     yaml:"feed_url"`
	Cadence     time.Duration `mapstructure:"cadence"      yaml:"cadence"`
	MaxRetries  int           `mapstructure:"max_retries"  yaml:"max_retries"`
	BackoffBase time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BatchSize   int           `mapstructure:"batch_size"   yaml:"batch_size"`
	Timeout     time.Duration `mapstructure:"timeout"      yaml:"timeout"`
	Enabled     bool          `mapstructure:"enabled"      yaml:"enabled"`
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.newswire/config.yaml (home directory)
//  3. /etc/newswire/config.yaml (system)
//
// Environment variables override config file values.
// Format: NEWSWIRE_<SECTION>_<KEY>, e.g., NEWSWIRE_DATABASE_DSN
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".newswire"))
	v.AddConfigPath("/etc/newswire")

	v.SetEnvPrefix("NEWSWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found — that's fine, use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetEnvPrefix("NEWSWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Database defaults: pure-Go SQLite so a fresh checkout runs without
	// a Postgres instance; production deploys point at Postgres.
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "newswire.db")

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{"http://localhost:3000"})

	// Ingest defaults
	v.SetDefault("ingest.rate_per_second", 3)
	v.SetDefault("ingest.max_parallel", 4)
	v.SetDefault("ingest.session_refresh", "1h")
	v.SetDefault("ingest.summary_history", 200)

	// Source defaults: the wire feed polls often, the community flash feed
	// less so.
	v.SetDefault("sources", []map[string]any{
		{
			"name":         "cls",
			"kind":         "cls",
			"feed_url":     "https://www.cls.cn",
			"cadence":      "60s",
			"max_retries":  3,
			"backoff_base": "1s",
			"batch_size":   50,
			"timeout":      "10s",
			"enabled":      true,
		},
		{
			"name":         "xueqiu",
			"kind":         "xueqiu",
			"feed_url":     "https://xueqiu.com",
			"cadence":      "120s",
			"max_retries":  3,
			"backoff_base": "1s",
			"batch_size":   50,
			"timeout":      "10s",
			"enabled":      true,
		},
	})
}

// applyDefaults fills gaps that per-entry config commonly omits.
func applyDefaults(cfg *Config) {
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		if s.Cadence <= 0 {
			s.Cadence = time.Minute
		}
		if s.MaxRetries <= 0 {
			s.MaxRetries = 3
		}
		if s.BackoffBase <= 0 {
			s.BackoffBase = time.Second
		}
		if s.BatchSize <= 0 {
			s.BatchSize = 50
		}
		if s.Timeout <= 0 {
			s.Timeout = 10 * time.Second
		}
	}
	if cfg.Ingest.RatePerSecond <= 0 {
		cfg.Ingest.RatePerSecond = 3
	}
	if cfg.Ingest.MaxParallel <= 0 {
		cfg.Ingest.MaxParallel = 4
	}
	if cfg.Ingest.SummaryHistory <= 0 {
		cfg.Ingest.SummaryHistory = 200
	}
	if dsn := os.Getenv("NEWSWIRE_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
