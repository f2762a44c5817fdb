package queryflow

import "time"

// Checkpoint contains a complete snapshot of a session.
type Checkpoint struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	WorkflowName string          `json:"workflow_name"`
	Status       ExecutionStatus `json:"status"`
	NextStage    string          `json:"next_stage"`
	State        *State          `json:"state"`
	Sequence     int             `json:"sequence"`
	Error        string          `json:"error,omitempty"`
	StartTime    time.Time       `json:"start_time,omitzero"`
	EndTime      time.Time       `json:"end_time,omitzero"`
	CheckpointAt time.Time       `json:"checkpoint_at"`
}

// Summary returns the listing view of the checkpoint.
func (c *Checkpoint) Summary() *SessionSummary {
	s := &SessionSummary{
		SessionID:    c.SessionID,
		WorkflowName: c.WorkflowName,
		Status:       c.Status,
		NextStage:    c.NextStage,
		StartTime:    c.StartTime,
		EndTime:      c.EndTime,
		Error:        c.Error,
	}
	if c.State != nil {
		s.Question = c.State.Question
		s.Attempts = c.State.Attempts
	}
	if !c.EndTime.IsZero() {
		s.Duration = c.EndTime.Sub(c.StartTime)
	} else {
		s.Duration = c.CheckpointAt.Sub(c.StartTime)
	}
	return s
}
