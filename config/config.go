// Package config loads the queryflow configuration file and the secrets
// read from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/deepnoodle-ai/queryflow/datastore"
	"github.com/deepnoodle-ai/queryflow/pipeline"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Reasoning   ReasoningConfig   `yaml:"reasoning" toml:"reasoning"`
	Store       StoreConfig       `yaml:"store" toml:"store"`
	Checkpoints CheckpointsConfig `yaml:"checkpoints" toml:"checkpoints"`
	Budget      pipeline.Budget   `yaml:"budget" toml:"budget"`
	Logs        LogsConfig        `yaml:"logs" toml:"logs"`
}

// ServerConfig holds HTTP transport settings
type ServerConfig struct {
	Addr        string   `yaml:"addr" toml:"addr"`
	MetricsAddr string   `yaml:"metrics_addr" toml:"metrics_addr"` // Empty disables the metrics listener
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
	TimeoutSecs int      `yaml:"timeout_seconds" toml:"timeout_seconds"` // Per-request session timeout
}

// ReasoningConfig holds language model settings
type ReasoningConfig struct {
	Provider          string `yaml:"provider" toml:"provider"` // anthropic | scripted
	Script            string `yaml:"script" toml:"script"`     // Response script for the scripted provider
	Model             string `yaml:"model" toml:"model"`
	BaseURL           string `yaml:"base_url" toml:"base_url"`
	MaxTokens         int64  `yaml:"max_tokens" toml:"max_tokens"`
	RequestsPerMinute int    `yaml:"requests_per_minute" toml:"requests_per_minute"`
	MaxRetries        int    `yaml:"max_retries" toml:"max_retries"`
	TimeoutSecs       int    `yaml:"timeout_seconds" toml:"timeout_seconds"`
}

// StoreConfig selects the target database
type StoreConfig struct {
	Driver   string `yaml:"driver" toml:"driver"` // pgx | postgres-sql | clickhouse | static
	Addr     string `yaml:"addr" toml:"addr"`     // ClickHouse only
	Database string `yaml:"database" toml:"database"`
	Schema   string `yaml:"schema" toml:"schema"` // Postgres schema, default public
	Secure   bool   `yaml:"secure" toml:"secure"`
	MaxRows  int    `yaml:"max_rows" toml:"max_rows"`
}

// CheckpointsConfig selects where session checkpoints are kept
type CheckpointsConfig struct {
	Backend string `yaml:"backend" toml:"backend"` // memory | file | postgres | s3
	Dir     string `yaml:"dir" toml:"dir"`
	Bucket  string `yaml:"bucket" toml:"bucket"`
	Prefix  string `yaml:"prefix" toml:"prefix"`
	Region  string `yaml:"region" toml:"region"`
}

// LogsConfig holds logging settings
type LogsConfig struct {
	Dir   string `yaml:"dir" toml:"dir"` // Stage log directory; empty disables stage logs
	JSON  bool   `yaml:"json" toml:"json"`
	Level string `yaml:"level" toml:"level"`
}

// Secrets holds credentials read from the environment
type Secrets struct {
	AnthropicAPIKey    string
	DatabaseURL        string
	CheckpointDatabase string
	ClickHouseAddr     string
	ClickHouseUsername string
	ClickHousePassword string
	ClickHouseDatabase string
	SentryDSN          string
	SentryEnvironment  string
	S3EndpointURL      string
}

var (
	storeDrivers       = []string{"pgx", "postgres-sql", "clickhouse", "static"}
	checkpointBackends = []string{"memory", "file", "postgres", "s3"}
	reasoningProviders = []string{"anthropic", "scripted"}
	logLevels          = []string{"debug", "info", "warn", "error"}
)

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Load reads and parses the configuration file. The format is chosen by
// extension: .toml for TOML, anything else for YAML. An empty path yields
// the defaults.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.TimeoutSecs == 0 {
		cfg.Server.TimeoutSecs = 120
	}
	if cfg.Reasoning.Provider == "" {
		cfg.Reasoning.Provider = "anthropic"
	}
	if cfg.Reasoning.MaxTokens == 0 {
		cfg.Reasoning.MaxTokens = 2048
	}
	if cfg.Reasoning.RequestsPerMinute == 0 {
		cfg.Reasoning.RequestsPerMinute = 50
	}
	// 0 means unset; -1 disables retries.
	if cfg.Reasoning.MaxRetries == 0 {
		cfg.Reasoning.MaxRetries = 3
	}
	if cfg.Reasoning.TimeoutSecs == 0 {
		cfg.Reasoning.TimeoutSecs = 60
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "static"
	}
	if cfg.Store.MaxRows == 0 {
		cfg.Store.MaxRows = datastore.DefaultMaxRows
	}
	if cfg.Checkpoints.Backend == "" {
		cfg.Checkpoints.Backend = "memory"
	}
	if cfg.Checkpoints.Backend == "file" && cfg.Checkpoints.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Checkpoints.Dir = filepath.Join(home, ".queryflow", "sessions")
		}
	}
	if cfg.Logs.Level == "" {
		cfg.Logs.Level = "info"
	}
	cfg.Budget = cfg.Budget.WithDefaults()
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if !slices.Contains(reasoningProviders, c.Reasoning.Provider) {
		return fmt.Errorf("reasoning.provider must be one of %s, got %q",
			strings.Join(reasoningProviders, ", "), c.Reasoning.Provider)
	}
	if c.Reasoning.Provider == "scripted" && c.Reasoning.Script == "" {
		return fmt.Errorf("reasoning.script is required for the scripted provider")
	}
	if c.Reasoning.MaxTokens < 0 {
		return fmt.Errorf("reasoning.max_tokens must be positive")
	}
	if c.Reasoning.RequestsPerMinute < 0 {
		return fmt.Errorf("reasoning.requests_per_minute must be positive")
	}
	if c.Reasoning.MaxRetries < -1 {
		return fmt.Errorf("reasoning.max_retries must be -1 or greater")
	}
	if !slices.Contains(storeDrivers, c.Store.Driver) {
		return fmt.Errorf("store.driver must be one of %s, got %q",
			strings.Join(storeDrivers, ", "), c.Store.Driver)
	}
	if c.Store.Driver == "clickhouse" && c.Store.Addr == "" && os.Getenv("CLICKHOUSE_ADDR") == "" {
		return fmt.Errorf("store.addr or CLICKHOUSE_ADDR is required for the clickhouse driver")
	}
	if !slices.Contains(checkpointBackends, c.Checkpoints.Backend) {
		return fmt.Errorf("checkpoints.backend must be one of %s, got %q",
			strings.Join(checkpointBackends, ", "), c.Checkpoints.Backend)
	}
	if c.Checkpoints.Backend == "s3" && c.Checkpoints.Bucket == "" {
		return fmt.Errorf("checkpoints.bucket is required for the s3 backend")
	}
	if c.Checkpoints.Backend == "file" && c.Checkpoints.Dir == "" {
		return fmt.Errorf("checkpoints.dir is required for the file backend")
	}
	if !slices.Contains(logLevels, strings.ToLower(c.Logs.Level)) {
		return fmt.Errorf("logs.level must be one of %s, got %q", strings.Join(logLevels, ", "), c.Logs.Level)
	}
	return nil
}

// LoadSecrets reads credentials from the environment after loading envFile,
// when given, or a .env file in the working directory when present. Values
// already set in the environment win.
func LoadSecrets(envFile string) (*Secrets, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}
	return &Secrets{
		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		CheckpointDatabase: os.Getenv("CHECKPOINT_DATABASE_URL"),
		ClickHouseAddr:     os.Getenv("CLICKHOUSE_ADDR"),
		ClickHouseUsername: os.Getenv("CLICKHOUSE_USERNAME"),
		ClickHousePassword: os.Getenv("CLICKHOUSE_PASSWORD"),
		ClickHouseDatabase: os.Getenv("CLICKHOUSE_DATABASE"),
		SentryDSN:          os.Getenv("SENTRY_DSN"),
		SentryEnvironment:  os.Getenv("SENTRY_ENVIRONMENT"),
		S3EndpointURL:      os.Getenv("S3_ENDPOINT_URL"),
	}, nil
}

// DatastoreConfig combines the store section with the secrets into the
// options for datastore.Open.
func (c *Config) DatastoreConfig(secrets *Secrets) datastore.Config {
	cfg := datastore.Config{
		Driver:   c.Store.Driver,
		Addr:     c.Store.Addr,
		Database: c.Store.Database,
		Schema:   c.Store.Schema,
		Secure:   c.Store.Secure,
		MaxRows:  c.Store.MaxRows,
	}
	switch c.Store.Driver {
	case "pgx":
		cfg.Driver = "postgres"
		cfg.DSN = secrets.DatabaseURL
	case "postgres-sql":
		cfg.Driver = "pq"
		cfg.DSN = secrets.DatabaseURL
	case "clickhouse":
		if secrets.ClickHouseAddr != "" {
			cfg.Addr = secrets.ClickHouseAddr
		}
		if secrets.ClickHouseDatabase != "" {
			cfg.Database = secrets.ClickHouseDatabase
		}
		cfg.Username = secrets.ClickHouseUsername
		cfg.Password = secrets.ClickHousePassword
	}
	return cfg
}
