package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ekaya-reasoner.
// Configuration can come from a YAML file (config.yaml by default) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL edge store and schema versions)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional schema cache)
	Redis RedisConfig `yaml:"redis"`

	// Reasoner tuning
	Reasoner ReasonerConfig `yaml:"reasoner"`

	// Metrics exposition
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging
	Log LogConfig `yaml:"log"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port            int           `yaml:"port" env:"PGPORT" env-default:"5432"`
	User            string        `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password        string        `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database        string        `yaml:"database" env:"PGDATABASE" env-default:"ekaya_reasoner"`
	MaxConnections  int32         `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"PGMAX_CONN_LIFETIME" env-default:"1h"`
	SSLMode         string        `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration. An empty Host disables the cache.
type RedisConfig struct {
	Host     string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string        `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	TBoxTTL  time.Duration `yaml:"tbox_ttl" env:"REDIS_TBOX_TTL" env-default:"24h"`
}

// ReasonerConfig tunes the reasoners and recompute fan-out.
type ReasonerConfig struct {
	// MaxIterations caps forward-chaining passes per entity.
	MaxIterations int `yaml:"max_iterations" env:"REASONER_MAX_ITERATIONS" env-default:"16"`
	// MaxChainPasses caps fixpoint passes of the incremental chain evaluator.
	MaxChainPasses int `yaml:"max_chain_passes" env:"REASONER_MAX_CHAIN_PASSES" env-default:"16"`
	// RecomputeConcurrency bounds parallel source recomputation after a dependency change.
	RecomputeConcurrency int `yaml:"recompute_concurrency" env:"REASONER_RECOMPUTE_CONCURRENCY" env-default:"8"`
	// StoreRetries is the number of attempts for transient edge store failures.
	StoreRetries int `yaml:"store_retries" env:"REASONER_STORE_RETRIES" env-default:"3"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED" env-default:"false"`
	Addr    string `yaml:"addr" env:"METRICS_ADDR" env-default:"127.0.0.1:9464"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// DefaultPath is the config file read by Load.
const DefaultPath = "config.yaml"

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFrom(DefaultPath, version)
}

// LoadFrom reads configuration from path with environment variable overrides.
// A missing file is not an error: defaults and environment apply.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Reasoner.MaxIterations < 1 {
		return fmt.Errorf("reasoner.max_iterations must be at least 1")
	}
	if c.Reasoner.MaxChainPasses < 1 {
		return fmt.Errorf("reasoner.max_chain_passes must be at least 1")
	}
	if c.Reasoner.RecomputeConcurrency < 1 {
		return fmt.Errorf("reasoner.recompute_concurrency must be at least 1")
	}
	if c.Reasoner.StoreRetries < 1 {
		return fmt.Errorf("reasoner.store_retries must be at least 1")
	}
	return nil
}

// URL returns a PostgreSQL connection URL usable by pgxpool and database/sql.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, ResolveHostForDocker(c.Host), c.Port, c.Database, c.SSLMode,
	)
}

// Addr returns the Redis address, or "" when Redis is not configured.
func (c *RedisConfig) Addr() string {
	if c.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port)
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether /.dockerenv exists. The result is cached.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps localhost to host.docker.internal when running
// inside a container, so a local Postgres or Redis stays reachable.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	if host == "localhost" || host == "127.0.0.1" {
		return "host.docker.internal"
	}
	return host
}
