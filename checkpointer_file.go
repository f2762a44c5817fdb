package queryflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const checkpointExt = ".json"

// FileCheckpointer keeps one JSON document per session in a directory. Each
// save replaces the document atomically, so a crash mid-write leaves the
// previous checkpoint readable.
type FileCheckpointer struct {
	dir string
}

// NewFileCheckpointer creates the directory if needed. An empty dir defaults
// to ~/.queryflow/sessions.
func NewFileCheckpointer(dir string) (*FileCheckpointer, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(home, ".queryflow", "sessions")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory %s: %w", dir, err)
	}
	return &FileCheckpointer{dir: dir}, nil
}

func (c *FileCheckpointer) path(sessionID string) (string, error) {
	if sessionID == "" || sessionID == "." || sessionID == ".." ||
		strings.HasPrefix(sessionID, ".") || strings.ContainsAny(sessionID, `/\`) {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(c.dir, sessionID+checkpointExt), nil
}

func (c *FileCheckpointer) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	target, err := c.path(checkpoint.SessionID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	// Temp files start with a dot so ListSessions skips them.
	tmp, err := os.CreateTemp(c.dir, "."+checkpoint.SessionID+"-*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}
	return nil
}

// LoadCheckpoint returns nil when the session has no checkpoint.
func (c *FileCheckpointer) LoadCheckpoint(ctx context.Context, sessionID string) (*Checkpoint, error) {
	target, err := c.path(sessionID)
	if err != nil {
		return nil, err
	}
	return readCheckpoint(target)
}

func (c *FileCheckpointer) DeleteCheckpoint(ctx context.Context, sessionID string) error {
	target, err := c.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete checkpoint file: %w", err)
	}
	return nil
}

// ListSessions summarizes every readable checkpoint, newest first.
func (c *FileCheckpointer) ListSessions(ctx context.Context) ([]*SessionSummary, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*SessionSummary{}, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}
	summaries := []*SessionSummary{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != checkpointExt {
			continue
		}
		checkpoint, err := readCheckpoint(filepath.Join(c.dir, name))
		if err != nil || checkpoint == nil {
			continue
		}
		summaries = append(summaries, checkpoint.Summary())
	}
	SortSummaries(summaries)
	return summaries, nil
}

func readCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}
