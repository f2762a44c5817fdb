package queryflow

import (
	"fmt"
	"maps"
	"slices"

	"github.com/deepnoodle-ai/queryflow/plan"
	"github.com/deepnoodle-ai/queryflow/schema"
)

// Decision is the outcome of ambiguity detection.
type Decision string

const (
	// DecisionClarify means the question cannot be answered without asking
	// the user to pick between discrete options.
	DecisionClarify Decision = "generate_mcqs"

	// DecisionAssume means the question is answerable under stated
	// assumptions.
	DecisionAssume Decision = "safe_assumptions"

	// DecisionReady means the question is unambiguous.
	DecisionReady Decision = "planner_ready"
)

// Valid reports whether d is one of the known decisions.
func (d Decision) Valid() bool {
	switch d {
	case DecisionClarify, DecisionAssume, DecisionReady:
		return true
	default:
		return false
	}
}

// Detection is the structured output of ambiguity detection and of
// clarification mapping.
type Detection struct {
	Decision     Decision `json:"decision"`
	Confidence   float64  `json:"confidence"`
	Tables       []string `json:"tables"`
	Intent       string   `json:"intent_summary"`
	Options      []string `json:"mcq_options"`
	Assumptions  []string `json:"assumptions"`
	TemporalHint string   `json:"temporal_snippet"`
}

func (d *Detection) clone() *Detection {
	if d == nil {
		return nil
	}
	c := *d
	c.Tables = slices.Clone(d.Tables)
	c.Options = slices.Clone(d.Options)
	c.Assumptions = slices.Clone(d.Assumptions)
	return &c
}

// StageError records the most recent failure and the stage that produced it.
type StageError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Source  string `json:"source"`
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Type, e.Source, e.Message)
}

// State is the context threaded through a session. Stages never mutate it
// directly; they return patches which the engine merges with State.Apply.
type State struct {
	Question     string           `json:"question"`
	Schema       *schema.Schema   `json:"schema,omitempty"`
	Tables       []string         `json:"tables,omitempty"`
	Intent       string           `json:"intent_summary,omitempty"`
	Assumptions  []string         `json:"assumptions,omitempty"`
	TemporalHint string           `json:"temporal_hint,omitempty"`
	Detection    *Detection       `json:"detection,omitempty"`
	Ready        bool             `json:"ready"`
	Plan         *plan.Plan       `json:"plan,omitempty"`
	SQL          string           `json:"sql,omitempty"`
	SafeSQL      string           `json:"safe_sql,omitempty"`
	Executed     bool             `json:"executed"`
	LastError    *StageError      `json:"last_error,omitempty"`
	Columns      []string         `json:"columns,omitempty"`
	Rows         []map[string]any `json:"rows"`
	Answer       string           `json:"answer,omitempty"`
	Attempts     int              `json:"attempts"`
	HumanChoice  string           `json:"human_choice,omitempty"`
	Messages     []string         `json:"messages,omitempty"`
}

// NewState returns the initial state for a question.
func NewState(question string) *State {
	return &State{Question: question}
}

// Options returns the clarification options offered to the user, if any.
func (s *State) Options() []string {
	if s.Detection == nil {
		return nil
	}
	return s.Detection.Options
}

// Clone returns a copy of the state that can be modified without affecting
// the original. The schema snapshot and row maps are shared since they are
// never modified in place.
func (s *State) Clone() *State {
	c := *s
	c.Tables = slices.Clone(s.Tables)
	c.Assumptions = slices.Clone(s.Assumptions)
	c.Detection = s.Detection.clone()
	c.Columns = slices.Clone(s.Columns)
	c.Rows = slices.Clone(s.Rows)
	c.Messages = slices.Clone(s.Messages)
	if s.Plan != nil {
		p := *s.Plan
		p.Tables = slices.Clone(s.Plan.Tables)
		p.Joins = slices.Clone(s.Plan.Joins)
		p.Filters = slices.Clone(s.Plan.Filters)
		p.Aggregations = slices.Clone(s.Plan.Aggregations)
		p.GroupBy = slices.Clone(s.Plan.GroupBy)
		if s.Plan.OrderBy != nil {
			o := *s.Plan.OrderBy
			p.OrderBy = &o
		}
		c.Plan = &p
	}
	if s.LastError != nil {
		e := *s.LastError
		c.LastError = &e
	}
	return &c
}

// ErrorOf reports whether the last error has the given type.
func (s *State) ErrorOf(errorType string) bool {
	return s.LastError != nil && s.LastError.Type == errorType
}

// RowsAsMaps is a convenience for callers that want a copy of the rows.
func (s *State) RowsAsMaps() []map[string]any {
	out := make([]map[string]any, 0, len(s.Rows))
	for _, row := range s.Rows {
		out = append(out, maps.Clone(row))
	}
	return out
}
