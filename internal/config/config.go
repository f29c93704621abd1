// Package config loads service configuration.
//
// Sources, lowest precedence first:
//  1. built-in defaults
//  2. a YAML file named by CLIMATE_CONFIG
//  3. a .env file in the working directory
//  4. CLIMATE_* environment variables, e.g. CLIMATE_DATABASE_MAX_OPEN_CONNS
//     for database.max_open_conns
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"climate-explorer/internal/summary"
	"climate-explorer/pkg/database"
)

const (
	envPrefix  = "CLIMATE_"
	envConfig  = "CLIMATE_CONFIG"
	keyDivider = "."
)

// Config is the full service configuration
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Logging  LoggingConfig  `koanf:"logging"`
	Summary  SummaryConfig  `koanf:"summary"`
	Catalog  CatalogConfig  `koanf:"catalog"`
	Sessions SessionConfig  `koanf:"sessions"`
	Ingest   IngestConfig   `koanf:"ingest"`
}

// ServerConfig controls the HTTP listener
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `koanf:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `koanf:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	MaxUploadBytes  int64         `koanf:"max_upload_bytes" validate:"min=1024"`
}

// DatabaseConfig configures the PostgreSQL connection pool
type DatabaseConfig struct {
	Enabled         bool          `koanf:"enabled"`
	Host            string        `koanf:"host" validate:"required_if=Enabled true"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	User            string        `koanf:"user" validate:"required_if=Enabled true"`
	Password        string        `koanf:"password"`
	Database        string        `koanf:"database" validate:"required_if=Enabled true"`
	SSLMode         string        `koanf:"sslmode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"min=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
}

// Postgres converts the section into the pool configuration.
func (d DatabaseConfig) Postgres() *database.Config {
	return &database.Config{
		Host:            d.Host,
		Port:            d.Port,
		User:            d.User,
		Password:        d.Password,
		Database:        d.Database,
		SSLMode:         d.SSLMode,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
	}
}

// LoggingConfig selects the log level
type LoggingConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

// SummaryConfig configures the AI summary endpoint. An empty Endpoint
// disables summaries.
type SummaryConfig struct {
	Endpoint         string        `koanf:"endpoint" validate:"omitempty,url"`
	APIKey           string        `koanf:"api_key" validate:"required_with=Endpoint"`
	Timeout          time.Duration `koanf:"timeout" validate:"gt=0"`
	MaxRetries       int           `koanf:"max_retries" validate:"min=0,max=10"`
	BreakerThreshold uint32        `koanf:"breaker_threshold" validate:"min=1"`
	BreakerCooldown  time.Duration `koanf:"breaker_cooldown" validate:"gt=0"`
}

// Enabled reports whether an endpoint is configured.
func (s SummaryConfig) Enabled() bool {
	return s.Endpoint != ""
}

// Client converts the section into the summary client configuration.
func (s SummaryConfig) Client() summary.Config {
	return summary.Config{
		Endpoint:         s.Endpoint,
		APIKey:           s.APIKey,
		Timeout:          s.Timeout,
		MaxRetries:       s.MaxRetries,
		BreakerThreshold: s.BreakerThreshold,
		BreakerCooldown:  s.BreakerCooldown,
	}
}

// CatalogConfig points at an optional replacement variable catalog
type CatalogConfig struct {
	Path string `koanf:"path"`
}

// SessionConfig bounds explorer sessions
type SessionConfig struct {
	TTL           time.Duration `koanf:"ttl" validate:"gt=0"`
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	MaxSessions   int           `koanf:"max_sessions" validate:"min=1"`
}

// IngestConfig drives cmd/ingester
type IngestConfig struct {
	DataDir string `koanf:"data_dir"`
	Pattern string `koanf:"pattern" validate:"required"`
	Workers int    `koanf:"workers" validate:"min=1,max=64"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"*"},
			MaxUploadBytes:  32 << 20,
		},
		Database: DatabaseConfig{
			Enabled:         true,
			Host:            "localhost",
			Port:            5432,
			User:            "climate",
			Database:        "climate_explorer",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Summary: SummaryConfig{
			Timeout:          30 * time.Second,
			MaxRetries:       2,
			BreakerThreshold: 5,
			BreakerCooldown:  30 * time.Second,
		},
		Sessions: SessionConfig{
			TTL:           2 * time.Hour,
			SweepInterval: time.Minute,
			MaxSessions:   1000,
		},
		Ingest: IngestConfig{
			DataDir: "data",
			Pattern: "*.csv",
			Workers: 4,
		},
	}
}

// LoadConfig layers defaults, the optional YAML file, .env and environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(keyDivider)

	if path := os.Getenv(envConfig); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, keyDivider, envValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return cfg, nil
}

// envKey maps CLIMATE_SESSIONS_SWEEP_INTERVAL to sessions.sweep_interval.
// Only the first underscore after the prefix separates section from key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.Replace(s, "_", keyDivider, 1)
}

// listKeys are the slice-valued settings; their environment values are
// comma-separated.
var listKeys = map[string]bool{
	"server.allowed_origins": true,
}

func envValue(name, value string) (string, interface{}) {
	key := envKey(name)
	if !listKeys[key] {
		return key, value
	}
	items := make([]string, 0, strings.Count(value, ",")+1)
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return key, items
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
