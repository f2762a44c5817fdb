package queryflow

import "context"

// Stage is a unit of work in the query workflow. A stage reads a snapshot of
// the session state and returns the patches to merge into it.
type Stage interface {
	Name() string
	Execute(ctx context.Context, state *State) ([]Patch, error)
}

// ExecuteFunc is the signature of a function-backed stage.
type ExecuteFunc func(ctx context.Context, state *State) ([]Patch, error)

// StageFunction wraps a function to implement the Stage interface.
type StageFunction struct {
	name string
	fn   ExecuteFunc
}

// NewStageFunction returns a stage backed by fn.
func NewStageFunction(name string, fn ExecuteFunc) *StageFunction {
	return &StageFunction{name: name, fn: fn}
}

func (s *StageFunction) Name() string {
	return s.name
}

func (s *StageFunction) Execute(ctx context.Context, state *State) ([]Patch, error) {
	return s.fn(ctx, state)
}
