package queryflow

import "time"

// SessionSummary provides a summary view of a stored session
type SessionSummary struct {
	SessionID    string          `json:"session_id"`
	WorkflowName string          `json:"workflow_name"`
	Status       ExecutionStatus `json:"status"`
	Question     string          `json:"question"`
	NextStage    string          `json:"next_stage,omitempty"`
	Attempts     int             `json:"attempts"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time,omitzero"`
	Duration     time.Duration   `json:"duration"`
	Error        string          `json:"error,omitempty"`
}
