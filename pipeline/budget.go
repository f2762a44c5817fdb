package pipeline

import "fmt"

// Budget holds the attempt ceilings of the retry loops. All loops share the
// session's attempt counter.
type Budget struct {
	// Plan bounds plan synthesis retries after parse or validation failures.
	Plan int `yaml:"plan" toml:"plan" json:"plan"`

	// EmptyResult bounds replanning after a statement returns no rows. Once
	// the counter reaches it the empty result is answered.
	EmptyResult int `yaml:"empty_result" toml:"empty_result" json:"empty_result"`

	// Repair bounds the SQL synthesis, safety and execution repair loop.
	Repair int `yaml:"repair" toml:"repair" json:"repair"`
}

// DefaultBudget returns the standard ceilings.
func DefaultBudget() Budget {
	return Budget{Plan: 3, EmptyResult: 4, Repair: 6}
}

// WithDefaults fills unset ceilings from DefaultBudget.
func (b Budget) WithDefaults() Budget {
	d := DefaultBudget()
	if b.Plan <= 0 {
		b.Plan = d.Plan
	}
	if b.EmptyResult <= 0 {
		b.EmptyResult = d.EmptyResult
	}
	if b.Repair <= 0 {
		b.Repair = d.Repair
	}
	return b
}

func (b Budget) String() string {
	return fmt.Sprintf("plan=%d empty_result=%d repair=%d", b.Plan, b.EmptyResult, b.Repair)
}
