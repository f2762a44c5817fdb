package queryflow

import (
	"context"
)

// Checkpointer persists session snapshots between requests.
type Checkpointer interface {
	// SaveCheckpoint saves the current session state
	SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error

	// LoadCheckpoint loads the latest checkpoint for a session. It returns
	// nil and no error when the session has no checkpoint.
	LoadCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error)

	// DeleteCheckpoint removes checkpoint data for a session
	DeleteCheckpoint(ctx context.Context, sessionID string) error
}

// SessionLister is implemented by checkpointers that can enumerate the
// sessions they hold.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]*SessionSummary, error)
}
