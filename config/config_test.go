package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "anthropic", cfg.Reasoning.Provider)
	assert.Equal(t, 3, cfg.Reasoning.MaxRetries)
	assert.Equal(t, "static", cfg.Store.Driver)
	assert.Equal(t, "memory", cfg.Checkpoints.Backend)
	assert.Equal(t, 3, cfg.Budget.Plan)
	assert.Equal(t, 4, cfg.Budget.EmptyResult)
	assert.Equal(t, 6, cfg.Budget.Repair)
	assert.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "queryflow.yaml", `
server:
  addr: ":9000"
  metrics_addr: ":9090"
  cors_origins: ["https://app.example.com"]
reasoning:
  model: claude-sonnet-4-5
  requests_per_minute: 20
store:
  driver: pgx
checkpoints:
  backend: s3
  bucket: sessions
  prefix: prod
budget:
  repair: 8
logs:
  json: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Reasoning.Model)
	assert.Equal(t, 20, cfg.Reasoning.RequestsPerMinute)
	assert.Equal(t, "pgx", cfg.Store.Driver)
	assert.Equal(t, "sessions", cfg.Checkpoints.Bucket)
	assert.Equal(t, 8, cfg.Budget.Repair)
	assert.Equal(t, 3, cfg.Budget.Plan)
	assert.True(t, cfg.Logs.JSON)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "queryflow.toml", `
[store]
driver = "postgres-sql"
schema = "music"

[checkpoints]
backend = "file"
dir = "/tmp/queryflow"

[budget]
plan = 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres-sql", cfg.Store.Driver)
	assert.Equal(t, "music", cfg.Store.Schema)
	assert.Equal(t, "/tmp/queryflow", cfg.Checkpoints.Dir)
	assert.Equal(t, 2, cfg.Budget.Plan)
	assert.Equal(t, 6, cfg.Budget.Repair)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown driver", func(c *Config) { c.Store.Driver = "oracle" }, "store.driver"},
		{"unknown backend", func(c *Config) { c.Checkpoints.Backend = "redis" }, "checkpoints.backend"},
		{"s3 without bucket", func(c *Config) { c.Checkpoints.Backend = "s3" }, "checkpoints.bucket"},
		{"file without dir", func(c *Config) {
			c.Checkpoints.Backend = "file"
			c.Checkpoints.Dir = ""
		}, "checkpoints.dir"},
		{"bad provider", func(c *Config) { c.Reasoning.Provider = "openai" }, "reasoning.provider"},
		{"scripted without script", func(c *Config) { c.Reasoning.Provider = "scripted" }, "reasoning.script"},
		{"bad retries", func(c *Config) { c.Reasoning.MaxRetries = -2 }, "reasoning.max_retries"},
		{"bad level", func(c *Config) { c.Logs.Level = "verbose" }, "logs.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadInvalidFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "failed to read config file")

	path := writeFile(t, "bad.yaml", "store: [unclosed")
	_, err = Load(path)
	require.ErrorContains(t, err, "failed to parse config file")

	path = writeFile(t, "invalid.yaml", "store:\n  driver: oracle\n")
	_, err = Load(path)
	require.ErrorContains(t, err, "invalid configuration")
}

func TestLoadSecrets(t *testing.T) {
	envFile := writeFile(t, ".env", "ANTHROPIC_API_KEY=from-file\nDATABASE_URL=postgres://file\n")
	t.Setenv("DATABASE_URL", "postgres://env")
	t.Setenv("ANTHROPIC_API_KEY", "")
	os.Unsetenv("ANTHROPIC_API_KEY")

	secrets, err := LoadSecrets(envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-file", secrets.AnthropicAPIKey)
	// Variables already set win over the file.
	assert.Equal(t, "postgres://env", secrets.DatabaseURL)

	_, err = LoadSecrets(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}

func TestDatastoreConfig(t *testing.T) {
	cfg := Default()
	secrets := &Secrets{DatabaseURL: "postgres://db", ClickHouseAddr: "ch:9000", ClickHouseUsername: "reader"}

	cfg.Store.Driver = "pgx"
	ds := cfg.DatastoreConfig(secrets)
	assert.Equal(t, "postgres", ds.Driver)
	assert.Equal(t, "postgres://db", ds.DSN)

	cfg.Store.Driver = "postgres-sql"
	assert.Equal(t, "pq", cfg.DatastoreConfig(secrets).Driver)

	cfg.Store.Driver = "clickhouse"
	ds = cfg.DatastoreConfig(secrets)
	assert.Equal(t, "ch:9000", ds.Addr)
	assert.Equal(t, "reader", ds.Username)
}
