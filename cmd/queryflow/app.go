package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/deepnoodle-ai/queryflow"
	"github.com/deepnoodle-ai/queryflow/config"
	"github.com/deepnoodle-ai/queryflow/datastore"
	"github.com/deepnoodle-ai/queryflow/metrics"
	"github.com/deepnoodle-ai/queryflow/pipeline"
	"github.com/deepnoodle-ai/queryflow/postgres"
	"github.com/deepnoodle-ai/queryflow/reasoning"
	"github.com/deepnoodle-ai/queryflow/s3store"
	"github.com/jackc/pgx/v5/pgxpool"
)

// app holds the components shared by the subcommands.
type app struct {
	cfg     *config.Config
	secrets *config.Secrets
	logger  *slog.Logger
	engine  *queryflow.Engine
	closers []func()
}

// loadConfig reads the configuration, the secrets and builds the logger.
func loadConfig() (*app, error) {
	secrets, err := config.LoadSecrets(envFile)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, secrets: secrets, logger: newLogger(cfg.Logs, verbose)}, nil
}

// newApp loads the configuration and wires the engine.
func newApp(ctx context.Context) (*app, error) {
	a, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := a.buildEngine(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func newLogger(cfg config.LogsConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	if cfg.JSON {
		return queryflow.NewJSONLogger(level)
	}
	return queryflow.NewLogger(level)
}

func (a *app) buildEngine(ctx context.Context) error {
	reasoner, err := a.buildReasoner()
	if err != nil {
		return err
	}

	store, err := datastore.Open(ctx, a.cfg.DatastoreConfig(a.secrets))
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", a.cfg.Store.Driver, err)
	}
	a.closers = append(a.closers, func() { _ = store.Close() })

	p, err := pipeline.New(pipeline.Options{
		Reasoner: reasoner,
		Store:    store,
		Budget:   a.cfg.Budget,
	})
	if err != nil {
		return err
	}

	checkpointer, err := a.buildCheckpointer(ctx)
	if err != nil {
		return err
	}

	var stageLogger queryflow.StageLogger
	if a.cfg.Logs.Dir != "" {
		stageLogger = queryflow.NewFileStageLogger(a.cfg.Logs.Dir)
	}

	callbacks := queryflow.NewCallbackChain(metrics.NewCallbacks())
	if a.secrets.SentryDSN != "" {
		callbacks.Add(&sentryCallbacks{})
	}

	a.engine, err = queryflow.NewEngine(queryflow.EngineOptions{
		Workflow:           p.Workflow(),
		Checkpointer:       checkpointer,
		StageLogger:        stageLogger,
		Logger:             a.logger,
		ExecutionCallbacks: callbacks,
	})
	if err != nil {
		return err
	}
	a.logger.Debug("engine ready",
		"store", a.cfg.Store.Driver,
		"checkpoints", a.cfg.Checkpoints.Backend,
		"budget", p.Budget().String())
	return nil
}

func (a *app) buildReasoner() (reasoning.Reasoner, error) {
	rc := a.cfg.Reasoning
	if rc.Provider == "scripted" {
		return reasoning.LoadScript(rc.Script)
	}
	if a.secrets.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}
	var r reasoning.Reasoner = reasoning.NewAnthropicClient(reasoning.AnthropicOptions{
		APIKey:    a.secrets.AnthropicAPIKey,
		BaseURL:   rc.BaseURL,
		Model:     rc.Model,
		MaxTokens: rc.MaxTokens,
		Timeout:   time.Duration(rc.TimeoutSecs) * time.Second,
	})
	r = reasoning.WithRateLimit(r, rc.RequestsPerMinute)
	return reasoning.WithRetries(r, rc.MaxRetries, time.Second, a.logger), nil
}

func (a *app) buildCheckpointer(ctx context.Context) (queryflow.Checkpointer, error) {
	cc := a.cfg.Checkpoints
	switch cc.Backend {
	case "file":
		return queryflow.NewFileCheckpointer(cc.Dir)
	case "postgres":
		pool, err := a.checkpointPool(ctx)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool, a.logger); err != nil {
			return nil, err
		}
		return postgres.NewCheckpointer(pool), nil
	case "s3":
		return s3store.New(ctx, s3store.Config{
			Bucket:      cc.Bucket,
			Prefix:      cc.Prefix,
			Region:      cc.Region,
			EndpointURL: a.secrets.S3EndpointURL,
		})
	default:
		return queryflow.NewMemoryCheckpointer(), nil
	}
}

// checkpointPool connects to the checkpoint database, which defaults to the
// target database.
func (a *app) checkpointPool(ctx context.Context) (*pgxpool.Pool, error) {
	dsn := a.secrets.CheckpointDatabase
	if dsn == "" {
		dsn = a.secrets.DatabaseURL
	}
	if dsn == "" {
		return nil, fmt.Errorf("CHECKPOINT_DATABASE_URL or DATABASE_URL is required for postgres checkpoints")
	}
	pool, err := postgres.Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pool.Close)
	return pool, nil
}
