// Package pipeline implements the NL to SQL stage graph: schema exploration,
// ambiguity detection and clarification, planning, SQL synthesis, the safety
// gate, execution and answer synthesis, plus the degrade stage that ends
// sessions whose budgets ran out.
package pipeline

import (
	"context"
	"fmt"

	"github.com/deepnoodle-ai/queryflow"
	"github.com/deepnoodle-ai/queryflow/datastore"
	"github.com/deepnoodle-ai/queryflow/reasoning"
	"github.com/deepnoodle-ai/queryflow/schema"
)

// DefaultName is the workflow name used for checkpoints.
const DefaultName = "nl2sql"

// Querier executes statements against the target database.
type Querier interface {
	Query(ctx context.Context, sql string) (*datastore.Result, error)
}

// Options configures a pipeline.
type Options struct {
	Reasoner reasoning.Reasoner
	Schema   schema.Fetcher
	Store    Querier
	Budget   Budget
	Prompts  *Prompts

	// Name overrides DefaultName.
	Name string

	// MaxSteps bounds the stages executed per call.
	MaxSteps int

	// MaxAnswerData bounds the serialized rows passed to answer synthesis.
	MaxAnswerData int
}

// Pipeline holds the collaborators shared by the stages.
type Pipeline struct {
	reasoner      reasoning.Reasoner
	fetcher       schema.Fetcher
	store         Querier
	budget        Budget
	prompts       *Prompts
	maxAnswerData int
	workflow      *queryflow.Workflow
}

// New builds the pipeline and its workflow graph.
func New(opts Options) (*Pipeline, error) {
	if opts.Reasoner == nil {
		return nil, fmt.Errorf("reasoner is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Schema == nil {
		fetcher, ok := opts.Store.(schema.Fetcher)
		if !ok {
			return nil, fmt.Errorf("schema fetcher is required")
		}
		opts.Schema = fetcher
	}
	if opts.Prompts == nil {
		prompts, err := LoadPrompts()
		if err != nil {
			return nil, err
		}
		opts.Prompts = prompts
	}
	if opts.Name == "" {
		opts.Name = DefaultName
	}
	if opts.MaxAnswerData <= 0 {
		opts.MaxAnswerData = MaxAnswerData
	}
	p := &Pipeline{
		reasoner:      opts.Reasoner,
		fetcher:       opts.Schema,
		store:         opts.Store,
		budget:        opts.Budget.WithDefaults(),
		prompts:       opts.Prompts,
		maxAnswerData: opts.MaxAnswerData,
	}
	w, err := queryflow.New(queryflow.Options{
		Name:     opts.Name,
		Steps:    p.steps(),
		Fallback: StageDegrade,
		MaxSteps: opts.MaxSteps,
	})
	if err != nil {
		return nil, err
	}
	p.workflow = w
	return p, nil
}

// NewWorkflow is a shorthand for New(opts).Workflow().
func NewWorkflow(opts Options) (*queryflow.Workflow, error) {
	p, err := New(opts)
	if err != nil {
		return nil, err
	}
	return p.Workflow(), nil
}

// Workflow returns the stage graph.
func (p *Pipeline) Workflow() *queryflow.Workflow {
	return p.workflow
}

// Budget returns the effective attempt ceilings.
func (p *Pipeline) Budget() Budget {
	return p.budget
}

func (p *Pipeline) steps() []*queryflow.Step {
	stage := queryflow.NewStageFunction
	return []*queryflow.Step{
		{
			Name:  StageExplore,
			Stage: stage(StageExplore, p.explore),
			Next:  StageDetect,
		},
		{
			Name:      StageDetect,
			Stage:     stage(StageDetect, p.detect),
			Route:     routeDetect,
			Routes:    []string{StageClarify, StageResolve},
			Interrupt: needsClarification,
		},
		{
			Name:  StageClarify,
			Stage: stage(StageClarify, p.clarify),
			Next:  StagePlan,
		},
		{
			Name:  StageResolve,
			Stage: stage(StageResolve, p.resolve),
			Next:  StagePlan,
		},
		{
			Name:   StagePlan,
			Stage:  stage(StagePlan, p.plan),
			Route:  routeRetry(StageGenerateSQL, StagePlan),
			Routes: []string{StageGenerateSQL, StagePlan, StageDegrade},
		},
		{
			Name:   StageGenerateSQL,
			Stage:  stage(StageGenerateSQL, p.generateSQL),
			Route:  routeRetry(StageSafety, StageGenerateSQL),
			Routes: []string{StageSafety, StageGenerateSQL, StageDegrade},
		},
		{
			Name:   StageSafety,
			Stage:  stage(StageSafety, p.safety),
			Route:  routeRetry(StageExecute, StageGenerateSQL),
			Routes: []string{StageExecute, StageGenerateSQL, StageDegrade},
		},
		{
			Name:   StageExecute,
			Stage:  stage(StageExecute, p.execute),
			Route:  routeExecute,
			Routes: []string{StageAnswer, StagePlan, StageGenerateSQL, StageDegrade},
		},
		{
			Name:  StageAnswer,
			Stage: stage(StageAnswer, p.answer),
			End:   true,
		},
		{
			Name:  StageDegrade,
			Stage: stage(StageDegrade, p.degrade),
			End:   true,
		},
	}
}

// retry consumes one attempt for a repairable failure. When the attempt
// reaches the ceiling the failure is recorded as exhausted instead.
func retry(state *queryflow.State, errorType, source, message string, ceiling int) []queryflow.Patch {
	attempts := state.Attempts + 1
	patches := []queryflow.Patch{queryflow.Set(queryflow.FieldAttempts, attempts)}
	if attempts >= ceiling {
		return append(patches,
			queryflow.Fail(queryflow.ErrorTypeExhaustedRetries, source,
				fmt.Sprintf("gave up after %d attempts: %s", attempts, message)),
			queryflow.Log("%s: %s (attempt %d, budget of %d exhausted)", source, message, attempts, ceiling),
		)
	}
	return append(patches,
		queryflow.Fail(errorType, source, message),
		queryflow.Log("%s: %s (attempt %d of %d)", source, message, attempts, ceiling),
	)
}

// previousError returns the feedback text for a retried stage.
func previousError(state *queryflow.State) string {
	if state.LastError == nil {
		return ""
	}
	return state.LastError.Message
}
