package queryflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	Workflow           *Workflow
	Checkpointer       Checkpointer
	StageLogger        StageLogger
	Logger             *slog.Logger
	ExecutionCallbacks ExecutionCallbacks
	Clock              clockwork.Clock
}

// Request is a single inbound call. A request carrying a HumanChoice for an
// existing session resumes it; any other request starts a new run.
type Request struct {
	SessionID   string  `json:"session_id,omitempty"`
	Question    string  `json:"question,omitempty"`
	HumanChoice *string `json:"human_choice,omitempty"`
}

// Engine runs sessions of a workflow and serializes access per session.
type Engine struct {
	opts   EngineOptions
	mu     sync.Mutex
	active map[string]struct{}
}

// NewEngine returns an engine for the given workflow.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Workflow == nil {
		return nil, fmt.Errorf("workflow is required")
	}
	if opts.Checkpointer == nil {
		opts.Checkpointer = NewMemoryCheckpointer()
	}
	if opts.Logger == nil {
		opts.Logger = NewDiscardLogger()
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Engine{opts: opts, active: map[string]struct{}{}}, nil
}

// Workflow returns the workflow the engine runs.
func (e *Engine) Workflow() *Workflow {
	return e.opts.Workflow
}

// Handle dispatches a request to Run or Resume.
func (e *Engine) Handle(ctx context.Context, req Request) (*Result, error) {
	if req.HumanChoice != nil {
		if req.SessionID == "" {
			return nil, fmt.Errorf("%w: session id is required to resume", ErrInvalidRequest)
		}
		return e.Resume(ctx, req.SessionID, *req.HumanChoice)
	}
	return e.Run(ctx, req.SessionID, req.Question)
}

// Run starts a new session. An empty session ID is replaced by a generated
// one. Any checkpoint previously stored under the ID is overwritten.
func (e *Engine) Run(ctx context.Context, sessionID, question string) (*Result, error) {
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question is required", ErrInvalidRequest)
	}
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	release, err := e.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	execution, err := e.newExecution(sessionID)
	if err != nil {
		return nil, err
	}
	return execution.Run(ctx, question)
}

// Resume continues a paused session with the user's choice.
func (e *Engine) Resume(ctx context.Context, sessionID, choice string) (*Result, error) {
	release, err := e.acquire(sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	execution, err := e.newExecution(sessionID)
	if err != nil {
		return nil, err
	}
	return execution.Resume(ctx, choice)
}

// Session returns the stored checkpoint of a session.
func (e *Engine) Session(ctx context.Context, sessionID string) (*Checkpoint, error) {
	checkpoint, err := e.opts.Checkpointer.LoadCheckpoint(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if checkpoint == nil {
		return nil, ErrSessionNotFound
	}
	return checkpoint, nil
}

// DeleteSession discards a stored session.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	release, err := e.acquire(sessionID)
	if err != nil {
		return err
	}
	defer release()
	return e.opts.Checkpointer.DeleteCheckpoint(ctx, sessionID)
}

// ListSessions lists stored sessions when the checkpointer supports it.
func (e *Engine) ListSessions(ctx context.Context) ([]*SessionSummary, error) {
	lister, ok := e.opts.Checkpointer.(SessionLister)
	if !ok {
		return nil, fmt.Errorf("checkpointer %T cannot list sessions", e.opts.Checkpointer)
	}
	return lister.ListSessions(ctx)
}

// StageHistory returns the stage log of a session.
func (e *Engine) StageHistory(ctx context.Context, sessionID string) ([]*StageLogEntry, error) {
	if e.opts.StageLogger == nil {
		return nil, nil
	}
	return e.opts.StageLogger.GetStageHistory(ctx, sessionID)
}

func (e *Engine) newExecution(sessionID string) (*Execution, error) {
	return NewExecution(ExecutionOptions{
		Workflow:           e.opts.Workflow,
		SessionID:          sessionID,
		Checkpointer:       e.opts.Checkpointer,
		StageLogger:        e.opts.StageLogger,
		Logger:             e.opts.Logger,
		ExecutionCallbacks: e.opts.ExecutionCallbacks,
		Clock:              e.opts.Clock,
	})
}

func (e *Engine) acquire(sessionID string) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.active[sessionID]; busy {
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, sessionID)
	}
	e.active[sessionID] = struct{}{}
	return func() {
		e.mu.Lock()
		delete(e.active, sessionID)
		e.mu.Unlock()
	}, nil
}
