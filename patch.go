package queryflow

import (
	"fmt"

	"github.com/deepnoodle-ai/queryflow/plan"
	"github.com/deepnoodle-ai/queryflow/schema"
)

// Field names a State field that a stage may update.
type Field string

const (
	FieldQuestion     Field = "question"
	FieldSchema       Field = "schema"
	FieldTables       Field = "tables"
	FieldIntent       Field = "intent_summary"
	FieldAssumptions  Field = "assumptions"
	FieldTemporalHint Field = "temporal_hint"
	FieldDetection    Field = "detection"
	FieldReady        Field = "ready"
	FieldPlan         Field = "plan"
	FieldSQL          Field = "sql"
	FieldSafeSQL      Field = "safe_sql"
	FieldExecuted     Field = "executed"
	FieldLastError    Field = "last_error"
	FieldColumns      Field = "columns"
	FieldRows         Field = "rows"
	FieldAnswer       Field = "answer"
	FieldAttempts     Field = "attempts"
	FieldHumanChoice  Field = "human_choice"
	FieldMessages     Field = "messages"
)

// Patch is a single field update produced by a stage. Scalar fields are
// overwritten; the message log is appended to.
type Patch struct {
	field Field
	value any
}

// Field returns the field the patch updates.
func (p Patch) Field() Field { return p.field }

// Value returns the new value.
func (p Patch) Value() any { return p.value }

func (p Patch) String() string {
	return fmt.Sprintf("%s=%v", p.field, p.value)
}

// Set returns a patch that overwrites field with value. A nil value resets
// the field to its zero value.
func Set(field Field, value any) Patch {
	return Patch{field: field, value: value}
}

// Log returns a patch that appends a formatted entry to the message log.
func Log(format string, args ...any) Patch {
	return Patch{field: FieldMessages, value: fmt.Sprintf(format, args...)}
}

// Fail returns a patch recording err as the last error of the given stage.
func Fail(errorType, source, message string) Patch {
	return Set(FieldLastError, &StageError{Type: errorType, Message: message, Source: source})
}

// ClearError returns a patch that resets the last error.
func ClearError() Patch {
	return Set(FieldLastError, nil)
}

// Apply merges patches into the state. Either every patch is applied or,
// if any patch is invalid, the state is left unchanged.
func (s *State) Apply(patches ...Patch) error {
	next := s.Clone()
	for _, p := range patches {
		if err := next.apply(p); err != nil {
			return err
		}
	}
	*s = *next
	return nil
}

func (s *State) apply(p Patch) error {
	switch p.field {
	case FieldQuestion:
		return assign(&s.Question, p)
	case FieldSchema:
		return assign[*schema.Schema](&s.Schema, p)
	case FieldTables:
		return assign(&s.Tables, p)
	case FieldIntent:
		return assign(&s.Intent, p)
	case FieldAssumptions:
		return assign(&s.Assumptions, p)
	case FieldTemporalHint:
		return assign(&s.TemporalHint, p)
	case FieldDetection:
		return assign[*Detection](&s.Detection, p)
	case FieldReady:
		return assign(&s.Ready, p)
	case FieldPlan:
		return assign[*plan.Plan](&s.Plan, p)
	case FieldSQL:
		return assign(&s.SQL, p)
	case FieldSafeSQL:
		return assign(&s.SafeSQL, p)
	case FieldExecuted:
		return assign(&s.Executed, p)
	case FieldLastError:
		return assign[*StageError](&s.LastError, p)
	case FieldColumns:
		return assign(&s.Columns, p)
	case FieldRows:
		return assign(&s.Rows, p)
	case FieldAnswer:
		return assign(&s.Answer, p)
	case FieldHumanChoice:
		return assign(&s.HumanChoice, p)
	case FieldAttempts:
		n, ok := p.value.(int)
		if !ok {
			return fmt.Errorf("field %q: expected int, got %T", p.field, p.value)
		}
		if n < s.Attempts {
			return fmt.Errorf("field %q: attempts cannot decrease (%d -> %d)", p.field, s.Attempts, n)
		}
		s.Attempts = n
		return nil
	case FieldMessages:
		switch v := p.value.(type) {
		case string:
			s.Messages = append(s.Messages, v)
		case []string:
			s.Messages = append(s.Messages, v...)
		default:
			return fmt.Errorf("field %q: expected string, got %T", p.field, p.value)
		}
		return nil
	default:
		return fmt.Errorf("unknown field %q", p.field)
	}
}

func assign[T any](dst *T, p Patch) error {
	if p.value == nil {
		var zero T
		*dst = zero
		return nil
	}
	v, ok := p.value.(T)
	if !ok {
		var zero T
		return fmt.Errorf("field %q: expected %T, got %T", p.field, zero, p.value)
	}
	*dst = v
	return nil
}
