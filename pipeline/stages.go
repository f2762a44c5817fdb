package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/deepnoodle-ai/queryflow"
	"github.com/deepnoodle-ai/queryflow/plan"
	"github.com/deepnoodle-ai/queryflow/reasoning"
	"github.com/deepnoodle-ai/queryflow/safety"
	"github.com/deepnoodle-ai/queryflow/schema"
)

const (
	// SummaryColumns bounds the columns listed per table in detection and
	// clarification prompts.
	SummaryColumns = 6

	// MaxOptions bounds the clarification options offered to the user.
	MaxOptions = 5

	// DefaultTemporalHint is assumed for questions asking for recent data.
	DefaultTemporalHint = "last 90 days"
)

var errSchemaNotLoaded = errors.New("schema not loaded")

func (p *Pipeline) explore(ctx context.Context, state *queryflow.State) ([]queryflow.Patch, error) {
	s, err := p.fetcher.FetchSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch schema: %w", err)
	}
	return []queryflow.Patch{
		queryflow.Set(queryflow.FieldSchema, s),
		queryflow.Log("explore: loaded %d tables and %d foreign keys", len(s.Tables), len(s.ForeignKeys)),
	}, nil
}

type detectPrompt struct {
	Question   string
	Schema     string
	MaxOptions int
}

func (p *Pipeline) detect(ctx context.Context, state *queryflow.State) ([]queryflow.Patch, error) {
	if state.Schema == nil {
		return nil, errSchemaNotLoaded
	}
	prompt, err := p.prompts.Render("DETECT.md", detectPrompt{
		Question:   state.Question,
		Schema:     state.Schema.Summary(SummaryColumns),
		MaxOptions: MaxOptions,
	})
	if err != nil {
		return nil, err
	}
	detection, err := reasoning.ProposeJSON[queryflow.Detection](ctx, p.reasoner, reasoning.Request{
		Task:   reasoning.TaskDetect,
		System: p.prompts.System,
		Prompt: prompt,
	})
	if err == nil && !detection.Decision.Valid() {
		err = fmt.Errorf("%w: unknown decision %q", reasoning.ErrMalformedOutput, detection.Decision)
	}
	if errors.Is(err, reasoning.ErrMalformedOutput) {
		queryflow.LoggerFromContext(ctx).Warn("ambiguity detection output malformed", "error", err)
		return []queryflow.Patch{
			queryflow.Set(queryflow.FieldDetection, &queryflow.Detection{
				Decision: queryflow.DecisionReady,
				Intent:   state.Question,
			}),
			queryflow.Log("detect: output malformed, proceeding as %s", queryflow.DecisionReady),
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(detection.Options) > MaxOptions {
		detection.Options = detection.Options[:MaxOptions]
	}
	return []queryflow.Patch{
		queryflow.Set(queryflow.FieldDetection, detection),
		queryflow.Log("detect: %s (confidence %.2f)", detection.Decision, detection.Confidence),
	}, nil
}

// ResolveChoice maps a 1-based numeric choice to the option text. Any other
// choice is returned trimmed.
func ResolveChoice(choice string, options []string) string {
	choice = strings.TrimSpace(choice)
	if n, err := strconv.Atoi(choice); err == nil && n >= 1 && n <= len(options) {
		return options[n-1]
	}
	return choice
}

type clarifyPrompt struct {
	Question string
	Choice   string
	Options  []string
	Schema   string
}

func (p *Pipeline) clarify(ctx context.Context, state *queryflow.State) ([]queryflow.Patch, error) {
	if state.Schema == nil {
		return nil, errSchemaNotLoaded
	}
	choice := ResolveChoice(state.HumanChoice, state.Options())
	if choice == "" {
		// Nothing to map; continue with whatever detection produced.
		return p.resolve(ctx, state)
	}
	prompt, err := p.prompts.Render("CLARIFY.md", clarifyPrompt{
		Question: state.Question,
		Choice:   choice,
		Options:  state.Options(),
		Schema:   state.Schema.Summary(SummaryColumns),
	})
	if err != nil {
		return nil, err
	}
	mapped, err := reasoning.ProposeJSON[queryflow.Detection](ctx, p.reasoner, reasoning.Request{
		Task:   reasoning.TaskClarify,
		System: p.prompts.System,
		Prompt: prompt,
	})
	if errors.Is(err, reasoning.ErrMalformedOutput) {
		queryflow.LoggerFromContext(ctx).Warn("clarification output malformed", "error", err)
		mapped = &queryflow.Detection{Intent: fmt.Sprintf("%s (%s)", state.Question, choice)}
	} else if err != nil {
		return nil, err
	}
	intent := mapped.Intent
	if intent == "" {
		intent = fmt.Sprintf("%s (%s)", state.Question, choice)
	}
	return []queryflow.Patch{
		queryflow.Set(queryflow.FieldHumanChoice, choice),
		queryflow.Set(queryflow.FieldTables, knownTables(state.Schema, mapped.Tables)),
		queryflow.Set(queryflow.FieldIntent, intent),
		queryflow.Set(queryflow.FieldAssumptions, mapped.Assumptions),
		queryflow.Set(queryflow.FieldTemporalHint, temporalHint(state.Question, mapped.TemporalHint)),
		queryflow.Log("clarify: mapped choice %q", choice),
	}, nil
}

// resolve turns a ready or assume decision into the planning inputs.
func (p *Pipeline) resolve(ctx context.Context, state *queryflow.State) ([]queryflow.Patch, error) {
	if state.Schema == nil {
		return nil, errSchemaNotLoaded
	}
	detection := state.Detection
	if detection == nil {
		detection = &queryflow.Detection{Decision: queryflow.DecisionReady}
	}
	intent := detection.Intent
	if intent == "" {
		intent = state.Question
	}
	return []queryflow.Patch{
		queryflow.Set(queryflow.FieldTables, knownTables(state.Schema, detection.Tables)),
		queryflow.Set(queryflow.FieldIntent, intent),
		queryflow.Set(queryflow.FieldAssumptions, detection.Assumptions),
		queryflow.Set(queryflow.FieldTemporalHint, temporalHint(state.Question, detection.TemporalHint)),
		queryflow.Log("resolve: %s", detection.Decision),
	}, nil
}

func temporalHint(question, proposed string) string {
	if strings.Contains(strings.ToLower(question), "recent") {
		return DefaultTemporalHint
	}
	return proposed
}

// knownTables keeps the tables present in the schema, using the schema's
// spelling and dropping duplicates.
func knownTables(s *schema.Schema, tables []string) []string {
	out := []string{}
	for _, t := range tables {
		for _, known := range s.Tables {
			if strings.EqualFold(strings.TrimSpace(t), known) && !slices.Contains(out, known) {
				out = append(out, known)
				break
			}
		}
	}
	return out
}

type planPrompt struct {
	Question      string
	Intent        string
	Assumptions   []string
	TemporalHint  string
	Tables        []string
	Columns       string
	ForeignKeys   []schema.ForeignKey
	PreviousError string
}

func (p *Pipeline) plan(ctx context.Context, state *queryflow.State) ([]queryflow.Patch, error) {
	if state.Schema == nil {
		return nil, errSchemaNotLoaded
	}
	tables := candidateTables(state)
	prompt, err := p.prompts.Render("PLAN.md", planPrompt{
		Question:      state.Question,
		Intent:        state.Intent,
		Assumptions:   state.Assumptions,
		TemporalHint:  state.TemporalHint,
		Tables:        tables,
		Columns:       formatColumns(state.Schema, tables),
		ForeignKeys:   foreignKeysBetween(state.Schema, tables),
		PreviousError: previousError(state),
	})
	if err != nil {
		return nil, err
	}
	proposed, err := reasoning.ProposeJSON[plan.Plan](ctx, p.reasoner, reasoning.Request{
		Task:   reasoning.TaskPlan,
		System: p.prompts.System,
		Prompt: prompt,
	})
	if errors.Is(err, reasoning.ErrMalformedOutput) {
		return retry(state, queryflow.ErrorTypeParseFailure, StagePlan,
			fmt.Sprintf("JSON Parsing Failed: %s", err), p.budget.Plan), nil
	}
	if err != nil {
		return nil, err
	}
	if err := plan.Validate(proposed, state.Schema); err != nil {
		return retry(state, queryflow.ErrorTypeValidationFailure, StagePlan, err.Error(), p.budget.Plan), nil
	}
	plan.ApplyDefaults(proposed)
	return []queryflow.Patch{
		queryflow.Set(queryflow.FieldPlan, proposed),
		queryflow.ClearError(),
		queryflow.Log("plan: accepted (%s)", strings.Join(proposed.Tables, ", ")),
	}, nil
}

// candidateTables merges the resolved tables with the relevance search
// results. With neither, every table is offered.
func candidateTables(state *queryflow.State) []string {
	tables := knownTables(state.Schema, state.Tables)
	for _, t := range schema.FindRelevantTables(state.Question, state.Schema) {
		if !slices.Contains(tables, t) {
			tables = append(tables, t)
		}
	}
	if len(tables) == 0 {
		tables = slices.Clone(state.Schema.Tables)
	}
	return tables
}

func formatColumns(s *schema.Schema, tables []string) string {
	subset := s.Subset(tables)
	var sb strings.Builder
	for _, t := range tables {
		cols, ok := subset[t]
		if !ok {
			continue
		}
		parts := make([]string, 0, len(cols))
		for _, c := range cols {
			parts = append(parts, strings.TrimSpace(c.Name+" "+c.Type))
		}
		fmt.Fprintf(&sb, "%s(%s)\n", t, strings.Join(parts, ", "))
	}
	return sb.String()
}

func foreignKeysBetween(s *schema.Schema, tables []string) []schema.ForeignKey {
	var out []schema.ForeignKey
	for _, fk := range s.ForeignKeys {
		if slices.Contains(tables, fk.FromTable) && slices.Contains(tables, fk.ToTable) {
			out = append(out, fk)
		}
	}
	return out
}

type sqlPrompt struct {
	Question      string
	Intent        string
	Columns       string
	Plan          string
	PreviousError string
}

func (p *Pipeline) generateSQL(ctx context.Context, state *queryflow.State) ([]queryflow.Patch, error) {
	if state.Schema == nil {
		return nil, errSchemaNotLoaded
	}
	if state.Plan == nil {
		return nil, fmt.Errorf("no plan to synthesize SQL from")
	}
	planJSON, err := json.MarshalIndent(state.Plan, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	prompt, err := p.prompts.Render("SQL.md", sqlPrompt{
		Question:      state.Question,
		Intent:        state.Intent,
		Columns:       formatColumns(state.Schema, state.Plan.Tables),
		Plan:          string(planJSON),
		PreviousError: previousError(state),
	})
	if err != nil {
		return nil, err
	}
	text, err := p.reasoner.Propose(ctx, reasoning.Request{
		Task:   reasoning.TaskSQL,
		System: p.prompts.System,
		Prompt: prompt,
	})
	if errors.Is(err, reasoning.ErrMalformedOutput) {
		return p.retrySQL(state, err.Error()), nil
	}
	if err != nil {
		return nil, err
	}
	sql := reasoning.CleanSQL(text)
	if sql == "" {
		return p.retrySQL(state, "SQL synthesis returned no statement"), nil
	}
	return []queryflow.Patch{
		queryflow.Set(queryflow.FieldSQL, sql),
		queryflow.Set(queryflow.FieldSafeSQL, ""),
		queryflow.Set(queryflow.FieldReady, false),
		queryflow.ClearError(),
		queryflow.Log("generate_sql: %s", sql),
	}, nil
}

// retrySQL records unusable synthesis output as a parse failure on the repair
// budget.
func (p *Pipeline) retrySQL(state *queryflow.State, message string) []queryflow.Patch {
	return append(retry(state, queryflow.ErrorTypeParseFailure, StageGenerateSQL, message, p.budget.Repair),
		queryflow.Set(queryflow.FieldReady, false))
}

func (p *Pipeline) safety(ctx context.Context, state *queryflow.State) ([]queryflow.Patch, error) {
	gate := safety.Gate{}
	if state.Schema != nil {
		gate.Known = state.Schema.HasTable
	}
	safe, err := gate.Check(state.SQL, state.Tables)
	if err != nil {
		var violation *safety.Violation
		if !errors.As(err, &violation) {
			return nil, err
		}
		return append(retry(state, queryflow.ErrorTypeSafetyViolation, StageSafety, violation.Reason, p.budget.Repair),
			queryflow.Set(queryflow.FieldReady, false)), nil
	}
	return []queryflow.Patch{
		queryflow.Set(queryflow.FieldSafeSQL, safe),
		queryflow.Set(queryflow.FieldReady, true),
		queryflow.ClearError(),
		queryflow.Log("safety: accepted"),
	}, nil
}

func (p *Pipeline) execute(ctx context.Context, state *queryflow.State) ([]queryflow.Patch, error) {
	if !state.Ready || state.SafeSQL == "" {
		return nil, fmt.Errorf("no statement passed the safety gate")
	}
	result, err := p.store.Query(ctx, state.SafeSQL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return append(retry(state, queryflow.ErrorTypeDataAccessFault, StageExecute,
			fmt.Sprintf("Database Execution Error: %s", err), p.budget.Repair),
			queryflow.Set(queryflow.FieldExecuted, false)), nil
	}
	rows := result.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	patches := []queryflow.Patch{
		queryflow.Set(queryflow.FieldExecuted, true),
		queryflow.Set(queryflow.FieldColumns, result.Columns),
		queryflow.Set(queryflow.FieldRows, rows),
	}
	if len(rows) > 0 {
		return append(patches,
			queryflow.ClearError(),
			queryflow.Log("execute: %d rows", len(rows)),
		), nil
	}
	if state.Attempts < p.budget.EmptyResult {
		return append(patches,
			queryflow.Set(queryflow.FieldAttempts, state.Attempts+1),
			queryflow.Fail(queryflow.ErrorTypeEmptyResult, StageExecute,
				"The previous plan returned no rows. Revise the tables, joins or filters."),
			queryflow.Log("execute: no rows, replanning (attempt %d of %d)", state.Attempts+1, p.budget.EmptyResult),
		), nil
	}
	return append(patches,
		queryflow.ClearError(),
		queryflow.Log("execute: no rows after %d attempts, answering with the empty result", state.Attempts),
	), nil
}
