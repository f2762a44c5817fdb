package queryflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.jetify.com/typeid"
)

// NewSessionID returns a new prefixed identifier for a session
func NewSessionID() string {
	id, err := typeid.WithPrefix("sess")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ExecutionStatus represents the session status
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusPaused    ExecutionStatus = "paused"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ExecutionOptions configures a new execution
type ExecutionOptions struct {
	Workflow           *Workflow
	SessionID          string
	Checkpointer       Checkpointer
	StageLogger        StageLogger
	Logger             *slog.Logger
	ExecutionCallbacks ExecutionCallbacks
	Clock              clockwork.Clock
}

// Execution drives one session through the workflow graph. A session that
// pauses for input is continued by a new Execution calling Resume.
type Execution struct {
	workflow           *Workflow
	id                 string
	checkpointer       Checkpointer
	stageLogger        StageLogger
	executionCallbacks ExecutionCallbacks
	logger             *slog.Logger
	clock              clockwork.Clock

	state     *State
	status    ExecutionStatus
	startTime time.Time
	endTime   time.Time
	errMsg    string

	mutex    sync.Mutex
	started  bool
	sequence int
}

// Result is the outcome of running a session until it completes, fails or
// pauses for input.
type Result struct {
	SessionID string          `json:"session_id"`
	Status    ExecutionStatus `json:"status"`
	NextStage string          `json:"next_stage,omitempty"`
	State     *State          `json:"state"`
}

// Paused reports whether the session is waiting for a human choice.
func (r *Result) Paused() bool {
	return r.Status == ExecutionStatusPaused
}

// Options returns the clarification options when the session is paused.
func (r *Result) Options() []string {
	if !r.Paused() || r.State == nil {
		return nil
	}
	return r.State.Options()
}

// Err returns the error a finished session ended with, if any.
func (r *Result) Err() *WorkflowError {
	if r.Paused() || r.State == nil || r.State.LastError == nil {
		return nil
	}
	return NewWorkflowError(r.State.LastError.Type, r.State.LastError.Message)
}

// NewExecution creates a new execution
func NewExecution(opts ExecutionOptions) (*Execution, error) {
	if opts.Workflow == nil {
		return nil, fmt.Errorf("workflow is required")
	}
	if opts.Logger == nil {
		opts.Logger = NewDiscardLogger()
	}
	if opts.StageLogger == nil {
		opts.StageLogger = NewNullStageLogger()
	}
	if opts.Checkpointer == nil {
		opts.Checkpointer = NewNullCheckpointer()
	}
	if opts.SessionID == "" {
		opts.SessionID = NewSessionID()
	}
	if opts.ExecutionCallbacks == nil {
		opts.ExecutionCallbacks = &BaseExecutionCallbacks{}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Execution{
		workflow:           opts.Workflow,
		id:                 opts.SessionID,
		checkpointer:       opts.Checkpointer,
		stageLogger:        opts.StageLogger,
		executionCallbacks: opts.ExecutionCallbacks,
		logger:             opts.Logger.With("session_id", opts.SessionID),
		clock:              opts.Clock,
		status:             ExecutionStatusPending,
	}, nil
}

// ID returns the session ID
func (e *Execution) ID() string {
	return e.id
}

// Status returns the current execution status
func (e *Execution) Status() ExecutionStatus {
	return e.status
}

// State returns the current session state
func (e *Execution) State() *State {
	return e.state
}

func (e *Execution) start() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.started {
		return fmt.Errorf("execution already started")
	}
	e.started = true
	return nil
}

// Run starts a new session for the question at the workflow's first step.
func (e *Execution) Run(ctx context.Context, question string) (*Result, error) {
	if err := e.start(); err != nil {
		return nil, err
	}
	e.state = NewState(question)
	e.startTime = e.clock.Now()
	e.logger.Info("starting session", "question", question)
	return e.run(ctx, e.workflow.Start().Name)
}

// Resume continues a stored session. A paused session requires the human
// choice; a session interrupted mid-run continues from its last checkpoint
// and ignores the choice.
func (e *Execution) Resume(ctx context.Context, choice string) (*Result, error) {
	if err := e.start(); err != nil {
		return nil, err
	}
	checkpoint, err := e.checkpointer.LoadCheckpoint(ctx, e.id)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if checkpoint == nil {
		return nil, ErrSessionNotFound
	}
	if checkpoint.WorkflowName != e.workflow.Name() {
		return nil, fmt.Errorf("checkpoint belongs to workflow %q", checkpoint.WorkflowName)
	}
	if _, ok := e.workflow.GetStep(checkpoint.NextStage); !ok {
		return nil, fmt.Errorf("step %q not found in workflow", checkpoint.NextStage)
	}
	e.state = checkpoint.State
	if e.state == nil {
		e.state = &State{}
	}
	e.startTime = checkpoint.StartTime
	e.sequence = checkpoint.Sequence

	switch checkpoint.Status {
	case ExecutionStatusPaused:
		if err := e.state.Apply(Set(FieldHumanChoice, choice), Log("human choice: %s", choice)); err != nil {
			return nil, err
		}
		e.logger.Info("resuming paused session", "next_stage", checkpoint.NextStage)
	case ExecutionStatusRunning:
		e.logger.Info("recovering interrupted session", "next_stage", checkpoint.NextStage)
	default:
		return nil, ErrSessionNotPaused
	}
	return e.run(ctx, checkpoint.NextStage)
}

func (e *Execution) run(ctx context.Context, current string) (*Result, error) {
	e.status = ExecutionStatusRunning
	e.executionCallbacks.BeforeSessionExecution(ctx, e.sessionEvent(current, nil))

	limit := e.workflow.MaxSteps()
	for executed := 0; ; executed++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		step, ok := e.workflow.GetStep(current)
		if !ok {
			return nil, e.abort(ctx, current, fmt.Errorf("step %q not found in workflow", current))
		}

		if executed >= limit && !step.End {
			cause := fmt.Sprintf("stage limit of %d reached at %q", limit, current)
			e.logger.Warn("stage limit reached", "limit", limit, "stage", current)
			fallback := e.workflow.Fallback()
			if fallback == nil {
				return nil, e.abort(ctx, current, NewWorkflowError(ErrorTypeExhaustedRetries, cause))
			}
			if err := e.state.Apply(Fail(ErrorTypeExhaustedRetries, current, cause)); err != nil {
				return nil, e.abort(ctx, current, err)
			}
			current = fallback.Name
			continue
		}

		stageErr, err := e.executeStep(ctx, step)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, e.abort(ctx, step.Name, err)
		}

		if stageErr != nil {
			fallback := e.workflow.Fallback()
			if fallback == nil || step == fallback {
				return e.finish(ctx, ExecutionStatusFailed, stageErr)
			}
			current = fallback.Name
			if err := e.saveCheckpoint(ctx, ExecutionStatusRunning, current); err != nil {
				return nil, err
			}
			continue
		}

		if step.End {
			return e.finish(ctx, ExecutionStatusCompleted, nil)
		}

		next, err := e.workflow.next(step, e.state)
		if err != nil {
			return nil, e.abort(ctx, step.Name, err)
		}
		if step.Interrupt != nil && step.Interrupt(e.state) {
			return e.pause(ctx, next)
		}
		if err := e.saveCheckpoint(ctx, ExecutionStatusRunning, next); err != nil {
			return nil, err
		}
		current = next
	}
}

// executeStep runs a stage and merges its patches. A stage error is recorded
// in the state and returned as the first value; the second value is an
// engine fault that ends the run.
func (e *Execution) executeStep(ctx context.Context, step *Step) (*WorkflowError, error) {
	ctx = WithLogger(ctx, e.logger)
	ctx = WithSessionID(ctx, e.id)

	startTime := e.clock.Now()
	event := &StageExecutionEvent{
		SessionID:    e.id,
		WorkflowName: e.workflow.Name(),
		Stage:        step.Name,
		Attempts:     e.state.Attempts,
		StartTime:    startTime,
	}
	e.executionCallbacks.BeforeStageExecution(ctx, event)

	patches, err := step.Stage.Execute(ctx, e.state.Clone())
	var stageErr *WorkflowError
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		stageErr = ClassifyError(err)
		e.logger.Warn("stage failed", "stage", step.Name, "error_type", stageErr.Type, "error", stageErr.Cause)
		patches = []Patch{
			Fail(stageErr.Type, step.Name, stageErr.Cause),
			Log("%s failed: %s", step.Name, stageErr.Cause),
		}
	}
	messagesBefore := len(e.state.Messages)
	applyErr := e.state.Apply(patches...)

	endTime := e.clock.Now()
	event.Patches = patches
	event.EndTime = endTime
	event.Duration = endTime.Sub(startTime)
	event.Attempts = e.state.Attempts
	event.Error = err
	if applyErr != nil {
		event.Error = applyErr
	}
	e.executionCallbacks.AfterStageExecution(ctx, event)

	entry := &StageLogEntry{
		ID:        uuid.NewString(),
		SessionID: e.id,
		Stage:     step.Name,
		Attempts:  e.state.Attempts,
		StartTime: startTime,
		Duration:  event.Duration.Seconds(),
	}
	for _, p := range patches {
		entry.Fields = append(entry.Fields, string(p.Field()))
	}
	if applyErr == nil && len(e.state.Messages) > messagesBefore {
		entry.Messages = e.state.Messages[messagesBefore:]
	}
	if stageErr != nil {
		entry.Error = stageErr.Cause
		entry.ErrorType = stageErr.Type
	} else if e.state.LastError != nil {
		entry.Error = e.state.LastError.Message
		entry.ErrorType = e.state.LastError.Type
	}
	if logErr := e.stageLogger.LogStage(ctx, entry); logErr != nil {
		e.logger.Error("failed to log stage", "stage", step.Name, "error", logErr)
	}

	if applyErr != nil {
		return nil, NewWorkflowError(ErrorTypeFatal,
			fmt.Sprintf("stage %q returned an invalid patch: %s", step.Name, applyErr))
	}
	e.logger.Debug("stage completed",
		"stage", step.Name,
		"attempts", e.state.Attempts,
		"duration", event.Duration)
	return stageErr, nil
}

func (e *Execution) pause(ctx context.Context, next string) (*Result, error) {
	e.status = ExecutionStatusPaused
	if err := e.saveCheckpoint(ctx, ExecutionStatusPaused, next); err != nil {
		return nil, err
	}
	e.logger.Info("session paused for input", "next_stage", next, "options", len(e.state.Options()))
	e.executionCallbacks.AfterSessionExecution(ctx, e.sessionEvent(next, nil))
	return &Result{
		SessionID: e.id,
		Status:    ExecutionStatusPaused,
		NextStage: next,
		State:     e.state,
	}, nil
}

// finish ends the session. Completed sessions have nothing left to resume,
// so their checkpoints are removed; failed sessions keep theirs for
// inspection.
func (e *Execution) finish(ctx context.Context, status ExecutionStatus, cause error) (*Result, error) {
	e.status = status
	e.endTime = e.clock.Now()
	if cause != nil {
		e.errMsg = cause.Error()
	}
	if status == ExecutionStatusCompleted {
		if err := e.checkpointer.DeleteCheckpoint(ctx, e.id); err != nil {
			e.logger.Error("failed to delete checkpoint", "error", err)
		}
		e.logger.Info("session completed", "attempts", e.state.Attempts)
	} else {
		if err := e.saveCheckpoint(ctx, status, ""); err != nil {
			e.logger.Error("failed to save final checkpoint", "error", err)
		}
		e.logger.Error("session failed", "error", cause)
	}
	e.executionCallbacks.AfterSessionExecution(ctx, e.sessionEvent("", cause))
	return &Result{
		SessionID: e.id,
		Status:    status,
		State:     e.state,
	}, nil
}

// abort records an engine fault and returns it.
func (e *Execution) abort(ctx context.Context, stage string, err error) error {
	var wErr *WorkflowError
	if !errors.As(err, &wErr) {
		wErr = &WorkflowError{Type: ErrorTypeFatal, Cause: err.Error(), Wrapped: err}
	}
	if applyErr := e.state.Apply(Fail(wErr.Type, stage, wErr.Cause)); applyErr != nil {
		e.logger.Error("failed to record error", "error", applyErr)
	}
	e.status = ExecutionStatusFailed
	e.endTime = e.clock.Now()
	e.errMsg = wErr.Error()
	if checkpointErr := e.saveCheckpoint(ctx, ExecutionStatusFailed, stage); checkpointErr != nil {
		e.logger.Error("failed to save final checkpoint", "error", checkpointErr)
	}
	e.logger.Error("session aborted", "stage", stage, "error", wErr)
	e.executionCallbacks.AfterSessionExecution(ctx, e.sessionEvent(stage, wErr))
	return wErr
}

func (e *Execution) saveCheckpoint(ctx context.Context, status ExecutionStatus, next string) error {
	e.sequence++
	checkpoint := &Checkpoint{
		ID:           fmt.Sprintf("%d", e.sequence),
		SessionID:    e.id,
		WorkflowName: e.workflow.Name(),
		Status:       status,
		NextStage:    next,
		State:        e.state,
		Sequence:     e.sequence,
		Error:        e.errMsg,
		StartTime:    e.startTime,
		EndTime:      e.endTime,
		CheckpointAt: e.clock.Now(),
	}
	if err := e.checkpointer.SaveCheckpoint(ctx, checkpoint); err != nil {
		e.logger.Error("failed to save checkpoint", "error", err)
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (e *Execution) sessionEvent(next string, err error) *SessionExecutionEvent {
	event := &SessionExecutionEvent{
		SessionID:    e.id,
		WorkflowName: e.workflow.Name(),
		Status:       e.status,
		NextStage:    next,
		StartTime:    e.startTime,
		EndTime:      e.endTime,
		Error:        err,
	}
	if e.state != nil {
		event.Question = e.state.Question
		event.Attempts = e.state.Attempts
	}
	if !e.endTime.IsZero() {
		event.Duration = e.endTime.Sub(e.startTime)
	} else {
		event.Duration = e.clock.Since(e.startTime)
	}
	return event
}
