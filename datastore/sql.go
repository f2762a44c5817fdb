package datastore

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/deepnoodle-ai/queryflow/schema"
)

// SQL runs statements through database/sql using the lib/pq driver. It
// serves deployments that pool connections outside the process, such as
// PgBouncer in transaction mode, where pgx's prepared statements misbehave.
type SQL struct {
	db      *sql.DB
	schema  string
	maxRows int
}

// NewSQL opens cfg.DSN with lib/pq and verifies the connection.
func NewSQL(ctx context.Context, cfg Config) (*SQL, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return NewSQLFromDB(db, cfg.Schema, cfg.MaxRows), nil
}

// NewSQLFromDB wraps an open database handle.
func NewSQLFromDB(db *sql.DB, schemaName string, maxRows int) *SQL {
	if schemaName == "" {
		schemaName = "public"
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	return &SQL{db: db, schema: schemaName, maxRows: maxRows}
}

func (s *SQL) Query(ctx context.Context, query string) (*Result, error) {
	return observe(ctx, "pq", query, func(ctx context.Context) (*Result, error) {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, err
		}
		defer tx.Rollback() //nolint:errcheck

		rows, err := tx.QueryContext(ctx, query)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		columns, err := rows.Columns()
		if err != nil {
			return nil, err
		}
		result := &Result{SQL: query, Columns: columns, Rows: []map[string]any{}}
		for rows.Next() {
			if len(result.Rows) >= s.maxRows {
				break
			}
			values := make([]any, len(columns))
			ptrs := make([]any, len(columns))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
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

func (s *SQL) FetchSchema(ctx context.Context) (*schema.Schema, error) {
	rows, err := s.db.QueryContext(ctx, postgresColumnsQuery, s.schema)
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

	fkRows, err := s.db.QueryContext(ctx, postgresForeignKeysQuery, s.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch foreign keys: %w", err)
	}
	defer fkRows.Close()
	var fks []schema.ForeignKey
	for fkRows.Next() {
		var fk schema.ForeignKey
		if err := fkRows.Scan(&fk.FromTable, &fk.FromColumn, &fk.ToTable, &fk.ToColumn); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := fkRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch foreign keys: %w", err)
	}
	return schema.New(columns, fks), nil
}

func (s *SQL) Close() error {
	return s.db.Close()
}
