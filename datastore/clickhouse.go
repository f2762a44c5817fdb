package datastore

import (
	"context"
	"crypto/tls"
	"fmt"
	"reflect"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/deepnoodle-ai/queryflow/schema"
)

// ClickHouse runs statements over the native ClickHouse protocol. ClickHouse
// has no foreign keys, so fetched schemas carry no join graph unless
// ForeignKeys supplies one.
type ClickHouse struct {
	conn        driver.Conn
	database    string
	maxRows     int
	ForeignKeys []schema.ForeignKey
}

// NewClickHouse connects to cfg.Addr and verifies the connection.
func NewClickHouse(ctx context.Context, cfg Config) (*ClickHouse, error) {
	database := cfg.Database
	if database == "" {
		database = "default"
	}
	username := cfg.Username
	if username == "" {
		username = "default"
	}
	opts := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"readonly": 2,
		},
		DialTimeout:     5 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
	if cfg.Secure {
		opts.TLS = &tls.Config{}
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create clickhouse connection: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return NewClickHouseFromConn(conn, database, cfg.MaxRows), nil
}

// NewClickHouseFromConn wraps an open connection.
func NewClickHouseFromConn(conn driver.Conn, database string, maxRows int) *ClickHouse {
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &ClickHouse{conn: conn, database: database, maxRows: maxRows}
}

func (c *ClickHouse) Query(ctx context.Context, sql string) (*Result, error) {
	return observe(ctx, "clickhouse", sql, func(ctx context.Context) (*Result, error) {
		rows, err := c.conn.Query(ctx, sql)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		columnTypes := rows.ColumnTypes()
		columns := make([]string, len(columnTypes))
		for i, ct := range columnTypes {
			columns[i] = ct.Name()
		}

		result := &Result{SQL: sql, Columns: columns, Rows: []map[string]any{}}
		for rows.Next() {
			if len(result.Rows) >= c.maxRows {
				break
			}
			// Scan into properly typed values based on the column types
			values := make([]any, len(columnTypes))
			for i, ct := range columnTypes {
				values[i] = reflect.New(ct.ScanType()).Interface()
			}
			if err := rows.Scan(values...); err != nil {
				return nil, fmt.Errorf("scan error: %w", err)
			}
			row := make(map[string]any, len(columns))
			for i, col := range columns {
				row[col] = sanitizeValue(reflect.ValueOf(values[i]).Elem().Interface())
			}
			result.Rows = append(result.Rows, row)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}
		result.Count = len(result.Rows)
		return result, nil
	})
}

func (c *ClickHouse) FetchSchema(ctx context.Context) (*schema.Schema, error) {
	rows, err := c.conn.Query(ctx, `
		SELECT table, name, type
		FROM system.columns
		WHERE database = $1
		ORDER BY table, position`, c.database)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch columns: %w", err)
	}
	defer rows.Close()

	columns := map[string][]schema.Column{}
	for rows.Next() {
		var table string
		var col schema.Column
		if err := rows.Scan(&table, &col.Name, &col.Type); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		columns[table] = append(columns[table], col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch columns: %w", err)
	}
	return schema.New(columns, c.ForeignKeys), nil
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
