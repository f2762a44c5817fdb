// Package postgres stores session checkpoints in a Postgres table.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deepnoodle-ai/queryflow"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Checkpointer implements queryflow.Checkpointer on a pgx pool. The table is
// created by Migrate.
type Checkpointer struct {
	pool *pgxpool.Pool
}

var (
	_ queryflow.Checkpointer  = (*Checkpointer)(nil)
	_ queryflow.SessionLister = (*Checkpointer)(nil)
)

// NewCheckpointer returns a checkpointer backed by pool.
func NewCheckpointer(pool *pgxpool.Pool) *Checkpointer {
	return &Checkpointer{pool: pool}
}

// Connect opens a pool for dsn and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func (c *Checkpointer) SaveCheckpoint(ctx context.Context, checkpoint *queryflow.Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	_, err = c.pool.Exec(ctx, `
		INSERT INTO queryflow_checkpoints
			(session_id, workflow_name, status, next_stage, sequence, data, start_time, end_time, checkpoint_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO UPDATE SET
			workflow_name = EXCLUDED.workflow_name,
			status = EXCLUDED.status,
			next_stage = EXCLUDED.next_stage,
			sequence = EXCLUDED.sequence,
			data = EXCLUDED.data,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			checkpoint_at = EXCLUDED.checkpoint_at`,
		checkpoint.SessionID,
		checkpoint.WorkflowName,
		string(checkpoint.Status),
		checkpoint.NextStage,
		checkpoint.Sequence,
		data,
		nullTime(checkpoint.StartTime),
		nullTime(checkpoint.EndTime),
		checkpoint.CheckpointAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (c *Checkpointer) LoadCheckpoint(ctx context.Context, sessionID string) (*queryflow.Checkpoint, error) {
	var data []byte
	err := c.pool.QueryRow(ctx,
		`SELECT data FROM queryflow_checkpoints WHERE session_id = $1`, sessionID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	var checkpoint queryflow.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func (c *Checkpointer) DeleteCheckpoint(ctx context.Context, sessionID string) error {
	if _, err := c.pool.Exec(ctx, `DELETE FROM queryflow_checkpoints WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// ListSessions returns a summary of every stored session, newest first.
func (c *Checkpointer) ListSessions(ctx context.Context) ([]*queryflow.SessionSummary, error) {
	rows, err := c.pool.Query(ctx, `SELECT data FROM queryflow_checkpoints ORDER BY start_time DESC NULLS LAST, session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var summaries []*queryflow.SessionSummary
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		var checkpoint queryflow.Checkpoint
		if err := json.Unmarshal(data, &checkpoint); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		summaries = append(summaries, checkpoint.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	queryflow.SortSummaries(summaries)
	return summaries, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
