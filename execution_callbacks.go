package queryflow

import (
	"context"
	"time"
)

// ExecutionCallbacks defines the callback interface for session execution events
type ExecutionCallbacks interface {
	// Session-level callbacks
	BeforeSessionExecution(ctx context.Context, event *SessionExecutionEvent)
	AfterSessionExecution(ctx context.Context, event *SessionExecutionEvent)

	// Stage-level callbacks
	BeforeStageExecution(ctx context.Context, event *StageExecutionEvent)
	AfterStageExecution(ctx context.Context, event *StageExecutionEvent)
}

// SessionExecutionEvent provides context for session-level execution events.
// A session that pauses for input produces one pair of events per run.
type SessionExecutionEvent struct {
	SessionID    string
	WorkflowName string
	Status       ExecutionStatus
	Question     string
	NextStage    string
	Attempts     int
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Error        error
}

// StageExecutionEvent provides context for stage execution events
type StageExecutionEvent struct {
	SessionID    string
	WorkflowName string
	Stage        string
	Attempts     int
	Patches      []Patch
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Error        error
}

// BaseExecutionCallbacks provides a default implementation that does nothing
type BaseExecutionCallbacks struct{}

func (n *BaseExecutionCallbacks) BeforeSessionExecution(ctx context.Context, event *SessionExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterSessionExecution(ctx context.Context, event *SessionExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) BeforeStageExecution(ctx context.Context, event *StageExecutionEvent) {
	// noop
}

func (n *BaseExecutionCallbacks) AfterStageExecution(ctx context.Context, event *StageExecutionEvent) {
	// noop
}

// NewBaseExecutionCallbacks creates a new no-op callbacks implementation.
// Embed this in your own callbacks to get a default implementation that does nothing.
func NewBaseExecutionCallbacks() ExecutionCallbacks {
	return &BaseExecutionCallbacks{}
}

// CallbackChain allows chaining multiple callback implementations
type CallbackChain struct {
	callbacks []ExecutionCallbacks
}

// NewCallbackChain creates a new callback chain
func NewCallbackChain(callbacks ...ExecutionCallbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

// Add adds a callback to the chain
func (c *CallbackChain) Add(callback ExecutionCallbacks) {
	c.callbacks = append(c.callbacks, callback)
}

func (c *CallbackChain) BeforeSessionExecution(ctx context.Context, event *SessionExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeSessionExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterSessionExecution(ctx context.Context, event *SessionExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.AfterSessionExecution(ctx, event)
	}
}

func (c *CallbackChain) BeforeStageExecution(ctx context.Context, event *StageExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeStageExecution(ctx, event)
	}
}

func (c *CallbackChain) AfterStageExecution(ctx context.Context, event *StageExecutionEvent) {
	for _, callback := range c.callbacks {
		callback.AfterStageExecution(ctx, event)
	}
}
