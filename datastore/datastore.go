// Package datastore executes read-only statements against the target
// database and introspects its schema.
package datastore

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/deepnoodle-ai/queryflow/metrics"
	"github.com/deepnoodle-ai/queryflow/schema"
)

// DefaultMaxRows bounds how many rows a single query may return.
const DefaultMaxRows = 1000

// Result is the outcome of a query.
type Result struct {
	SQL     string           `json:"sql"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
	Count   int              `json:"count"`
}

// Store executes statements and describes the schema they run against.
type Store interface {
	schema.Fetcher
	Query(ctx context.Context, sql string) (*Result, error)
	Close() error
}

// Config selects and configures a store.
type Config struct {
	// Driver is one of "postgres" (pgx), "pq" (database/sql with lib/pq),
	// "clickhouse" or "static".
	Driver   string
	DSN      string
	Addr     string
	Database string
	Username string
	Password string
	Schema   string
	Secure   bool
	MaxRows  int
}

// Open connects to the store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	switch cfg.Driver {
	case "postgres", "pgx":
		return NewPostgres(ctx, cfg)
	case "pq":
		return NewSQL(ctx, cfg)
	case "clickhouse":
		return NewClickHouse(ctx, cfg)
	case "static", "":
		return NewStatic(schema.Chinook(), nil), nil
	default:
		return nil, fmt.Errorf("unknown datastore driver %q", cfg.Driver)
	}
}

// observe wraps a query with a trace span and metrics.
func observe(ctx context.Context, driver, sql string, fn func(ctx context.Context) (*Result, error)) (*Result, error) {
	span := sentry.StartSpan(ctx, "db.sql.query", sentry.WithDescription(sql))
	span.SetData("db.system", driver)
	defer span.Finish()

	start := time.Now()
	result, err := fn(span.Context())
	rows := 0
	if result != nil {
		rows = result.Count
	}
	metrics.RecordQuery(driver, time.Since(start), rows, err)
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return nil, err
	}
	span.Status = sentry.SpanStatusOK
	span.SetData("db.rows", rows)
	return result, nil
}

// sanitizeValue makes a scanned value JSON-safe.
func sanitizeValue(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil
		}
	}
	return v
}
