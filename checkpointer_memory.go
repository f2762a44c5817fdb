package queryflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryCheckpointer keeps checkpoints in process memory. Checkpoints are
// stored in serialized form so callers never share state with the store.
type MemoryCheckpointer struct {
	mu          sync.RWMutex
	checkpoints map[string][]byte
}

func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{checkpoints: map[string][]byte{}}
}

func (c *MemoryCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkpoints[checkpoint.SessionID] = data
	return nil
}

func (c *MemoryCheckpointer) LoadCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	c.mu.RLock()
	data, ok := c.checkpoints[sessionID]
	c.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func (c *MemoryCheckpointer) DeleteCheckpoint(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checkpoints, sessionID)
	return nil
}

// ListSessions returns a summary of every stored session, newest first.
func (c *MemoryCheckpointer) ListSessions(ctx context.Context) ([]*SessionSummary, error) {
	c.mu.RLock()
	ids := make([]string, 0, len(c.checkpoints))
	for id := range c.checkpoints {
		ids = append(ids, id)
	}
	c.mu.RUnlock()

	summaries := make([]*SessionSummary, 0, len(ids))
	for _, id := range ids {
		checkpoint, err := c.LoadCheckpoint(ctx, id)
		if err != nil || checkpoint == nil {
			continue
		}
		summaries = append(summaries, checkpoint.Summary())
	}
	SortSummaries(summaries)
	return summaries, nil
}

// SortSummaries orders summaries by start time, newest first.
func SortSummaries(summaries []*SessionSummary) {
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].StartTime.Equal(summaries[j].StartTime) {
			return summaries[i].SessionID < summaries[j].SessionID
		}
		return summaries[i].StartTime.After(summaries[j].StartTime)
	})
}
