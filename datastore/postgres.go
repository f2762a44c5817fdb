package datastore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepnoodle-ai/queryflow/schema"
)

const (
	postgresColumnsQuery = `
		SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position`

	postgresForeignKeysQuery = `
		SELECT kcu.table_name, kcu.column_name, ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = $1
		ORDER BY kcu.table_name, kcu.column_name`
)

// Postgres runs statements over a pgx connection pool. Every statement
// executes inside a read-only transaction.
type Postgres struct {
	pool    *pgxpool.Pool
	schema  string
	maxRows int
}

// NewPostgres connects to cfg.DSN and verifies the connection.
func NewPostgres(ctx context.Context, cfg Config) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return NewPostgresFromPool(pool, cfg.Schema, cfg.MaxRows), nil
}

// NewPostgresFromPool wraps an existing pool.
func NewPostgresFromPool(pool *pgxpool.Pool, schemaName string, maxRows int) *Postgres {
	if schemaName == "" {
		schemaName = "public"
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &Postgres{pool: pool, schema: schemaName, maxRows: maxRows}
}

func (p *Postgres) Query(ctx context.Context, sql string) (*Result, error) {
	return observe(ctx, "postgres", sql, func(ctx context.Context) (*Result, error) {
		tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
		if err != nil {
			return nil, err
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		rows, err := tx.Query(ctx, sql)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		fields := rows.FieldDescriptions()
		columns := make([]string, len(fields))
		for i, fd := range fields {
			columns[i] = fd.Name
		}

		result := &Result{SQL: sql, Columns: columns, Rows: []map[string]any{}}
		for rows.Next() {
			if len(result.Rows) >= p.maxRows {
				break
			}
			values, err := rows.Values()
			if err != nil {
				return nil, fmt.Errorf("scan error: %w", err)
			}
			row := make(map[string]any, len(columns))
			for i, col := range columns {
				row[col] = sanitizeValue(values[i])
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

func (p *Postgres) FetchSchema(ctx context.Context) (*schema.Schema, error) {
	rows, err := p.pool.Query(ctx, postgresColumnsQuery, p.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch columns: %w", err)
	}
	columns := map[string][]schema.Column{}
	for rows.Next() {
		var table string
		var col schema.Column
		if err := rows.Scan(&table, &col.Name, &col.Type); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		columns[table] = append(columns[table], col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch columns: %w", err)
	}

	rows, err = p.pool.Query(ctx, postgresForeignKeysQuery, p.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch foreign keys: %w", err)
	}
	defer rows.Close()
	var fks []schema.ForeignKey
	for rows.Next() {
		var fk schema.ForeignKey
		if err := rows.Scan(&fk.FromTable, &fk.FromColumn, &fk.ToTable, &fk.ToColumn); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch foreign keys: %w", err)
	}
	return schema.New(columns, fks), nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
