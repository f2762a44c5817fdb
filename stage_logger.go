package queryflow

import (
	"context"
	"time"
)

// StageLogEntry records one stage execution
type StageLogEntry struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Stage     string    `json:"stage"`
	Attempts  int       `json:"attempts"`
	Fields    []string  `json:"fields,omitempty"`
	Messages  []string  `json:"messages,omitempty"`
	Error     string    `json:"error,omitempty"`
	ErrorType string    `json:"error_type,omitempty"`
	StartTime time.Time `json:"start_time"`
	Duration  float64   `json:"duration"`
}

// StageLogger keeps an audit trail of stage executions
type StageLogger interface {
	// LogStage logs a completed stage
	LogStage(ctx context.Context, entry *StageLogEntry) error

	// GetStageHistory retrieves the stage log for a session
	GetStageHistory(ctx context.Context, sessionID string) ([]*StageLogEntry, error)
}
