package queryflow

import (
	"fmt"
	"slices"
	"sort"
)

// DefaultMaxSteps bounds the number of steps a single run may execute.
const DefaultMaxSteps = 100

// Options are used to configure a workflow.
type Options struct {
	Name  string
	Steps []*Step

	// Fallback names a terminal step that receives control when a stage
	// returns an unrecoverable error or the step limit is reached.
	Fallback string

	// MaxSteps bounds the steps executed per run. Defaults to DefaultMaxSteps.
	MaxSteps int
}

// Workflow defines the stage graph a session walks through.
type Workflow struct {
	name        string
	steps       []*Step
	stepsByName map[string]*Step
	start       *Step
	fallback    *Step
	maxSteps    int
}

// New returns a new Workflow configured with the given options.
func New(opts Options) (*Workflow, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("workflow name required")
	}
	if len(opts.Steps) == 0 {
		return nil, fmt.Errorf("steps required")
	}

	stepsByName := make(map[string]*Step, len(opts.Steps))
	for _, step := range opts.Steps {
		if step.Name == "" {
			return nil, fmt.Errorf("step name required")
		}
		if _, exists := stepsByName[step.Name]; exists {
			return nil, fmt.Errorf("duplicate step %q", step.Name)
		}
		stepsByName[step.Name] = step
	}
	if err := validateWorkflowSteps(stepsByName); err != nil {
		return nil, fmt.Errorf("workflow validation failed: %w", err)
	}

	w := &Workflow{
		name:        opts.Name,
		steps:       opts.Steps,
		stepsByName: stepsByName,
		start:       opts.Steps[0],
		maxSteps:    opts.MaxSteps,
	}
	if w.maxSteps <= 0 {
		w.maxSteps = DefaultMaxSteps
	}
	if opts.Fallback != "" {
		fallback, ok := stepsByName[opts.Fallback]
		if !ok {
			return nil, fmt.Errorf("fallback step %q not found", opts.Fallback)
		}
		if !fallback.End {
			return nil, fmt.Errorf("fallback step %q must be terminal", opts.Fallback)
		}
		w.fallback = fallback
	}
	return w, nil
}

// Name returns the workflow name
func (w *Workflow) Name() string {
	return w.name
}

// Steps returns the workflow steps
func (w *Workflow) Steps() []*Step {
	return w.steps
}

// Start returns the workflow start step
func (w *Workflow) Start() *Step {
	return w.start
}

// Fallback returns the fallback step, or nil when none is configured.
func (w *Workflow) Fallback() *Step {
	return w.fallback
}

// MaxSteps returns the per-run step limit.
func (w *Workflow) MaxSteps() int {
	return w.maxSteps
}

// GetStep returns a step by name
func (w *Workflow) GetStep(name string) (*Step, bool) {
	step, ok := w.stepsByName[name]
	return step, ok
}

// StepNames returns the names of all steps in the workflow
func (w *Workflow) StepNames() []string {
	names := make([]string, 0, len(w.stepsByName))
	for name := range w.stepsByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// next resolves the successor of a completed, non-terminal step.
func (w *Workflow) next(step *Step, state *State) (string, error) {
	if step.Route == nil {
		return step.Next, nil
	}
	target := step.Route(state)
	if !slices.Contains(step.Routes, target) {
		return "", NewWorkflowError(ErrorTypeFatal,
			fmt.Sprintf("step %q routed to undeclared step %q", step.Name, target))
	}
	return target, nil
}

func validateWorkflowSteps(stepsByName map[string]*Step) error {
	for _, step := range stepsByName {
		if step.Stage == nil {
			return fmt.Errorf("step %q has no stage", step.Name)
		}
		if step.Route != nil && len(step.Routes) == 0 {
			return fmt.Errorf("step %q has a router but declares no routes", step.Name)
		}
		if !step.End && step.Route == nil && step.Next == "" {
			return fmt.Errorf("step %q has no successor and is not terminal", step.Name)
		}
		for _, target := range step.Successors() {
			if _, ok := stepsByName[target]; !ok {
				return fmt.Errorf("edge to step %q not found", target)
			}
		}
	}
	return nil
}
