package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
	assert.False(t, Default().Summary.Enabled())
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(envConfig, "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Setenv(envConfig, "")
	t.Setenv("CLIMATE_SERVER_PORT", "9090")
	t.Setenv("CLIMATE_SERVER_READ_TIMEOUT", "5s")
	t.Setenv("CLIMATE_SERVER_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("CLIMATE_DATABASE_MAX_OPEN_CONNS", "50")
	t.Setenv("CLIMATE_DATABASE_ENABLED", "false")
	t.Setenv("CLIMATE_SUMMARY_ENDPOINT", "https://llm.example/api/process")
	t.Setenv("CLIMATE_SUMMARY_API_KEY", "k")
	t.Setenv("CLIMATE_SESSIONS_SWEEP_INTERVAL", "10s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 50, cfg.Database.MaxOpenConns)
	assert.False(t, cfg.Database.Enabled)
	assert.True(t, cfg.Summary.Enabled())
	assert.Equal(t, 10*time.Second, cfg.Sessions.SweepInterval)
	// untouched values keep their defaults
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 2*time.Hour, cfg.Sessions.TTL)
}

func TestEnvValueSplitsLists(t *testing.T) {
	key, v := envValue("CLIMATE_SERVER_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	assert.Equal(t, "server.allowed_origins", key)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, v)

	key, v = envValue("CLIMATE_SERVER_HOST", "a,b")
	assert.Equal(t, "server.host", key)
	assert.Equal(t, "a,b", v)
}

func TestLoadConfigSingleOrigin(t *testing.T) {
	t.Setenv(envConfig, "")
	t.Setenv("CLIMATE_SERVER_ALLOWED_ORIGINS", "https://only.example")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://only.example"}, cfg.Server.AllowedOrigins)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "climate.yaml")
	content := `
server:
  port: 7070
logging:
  level: debug
catalog:
  path: /etc/climate/variables.yaml
sessions:
  ttl: 30m
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv(envConfig, path)
	t.Setenv("CLIMATE_LOGGING_LEVEL", "warn")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level, "environment overrides file")
	assert.Equal(t, "/etc/climate/variables.yaml", cfg.Catalog.Path)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.TTL)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Setenv(envConfig, filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad ssl mode", func(c *Config) { c.Database.SSLMode = "sometimes" }},
		{"idle above open", func(c *Config) { c.Database.MaxIdleConns = 100 }},
		{"db host required", func(c *Config) { c.Database.Host = "" }},
		{"summary key required", func(c *Config) { c.Summary.Endpoint = "https://llm.example" }},
		{"summary endpoint not a url", func(c *Config) { c.Summary.Endpoint = "not a url"; c.Summary.APIKey = "k" }},
		{"zero session ttl", func(c *Config) { c.Sessions.TTL = 0 }},
		{"no ingest workers", func(c *Config) { c.Ingest.Workers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	t.Run("db fields optional when disabled", func(t *testing.T) {
		cfg := Default()
		cfg.Database.Enabled = false
		cfg.Database.Host = ""
		assert.NoError(t, cfg.Validate())
	})
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "database.max_open_conns", envKey("CLIMATE_DATABASE_MAX_OPEN_CONNS"))
	assert.Equal(t, "server.port", envKey("CLIMATE_SERVER_PORT"))
}

func TestSectionConversions(t *testing.T) {
	cfg := Default()
	cfg.Database.Password = "secret"
	cfg.Summary.Endpoint = "https://llm.example/run"
	cfg.Summary.APIKey = "key"

	pg := cfg.Database.Postgres()
	assert.Equal(t, "localhost", pg.Host)
	assert.Equal(t, 25, pg.MaxOpenConns)
	assert.Contains(t, pg.DSN(), "password=secret")

	sc := cfg.Summary.Client()
	assert.Equal(t, "https://llm.example/run", sc.Endpoint)
	assert.Equal(t, uint32(5), sc.BreakerThreshold)
	assert.Equal(t, 30*time.Second, sc.Timeout)
}
