package queryflow

import (
	"testing"

	"github.com/deepnoodle-ai/queryflow/plan"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	s := NewState("How many albums are there?")
	err := s.Apply(
		Set(FieldTables, []string{"album"}),
		Set(FieldPlan, &plan.Plan{Tables: []string{"album"}, Limit: 50}),
		Set(FieldAttempts, 1),
		Log("planned"),
		Log("attempt %d", 1),
	)
	require.NoError(t, err)
	require.Equal(t, []string{"album"}, s.Tables)
	require.Equal(t, 50, s.Plan.Limit)
	require.Equal(t, 1, s.Attempts)
	require.Equal(t, []string{"planned", "attempt 1"}, s.Messages)

	// Scalars overwrite, the log appends.
	require.NoError(t, s.Apply(Set(FieldTables, []string{"track"}), Log("again")))
	require.Equal(t, []string{"track"}, s.Tables)
	require.Len(t, s.Messages, 3)
}

func TestApplyClearsWithNil(t *testing.T) {
	s := NewState("q")
	require.NoError(t, s.Apply(Fail(ErrorTypeEmptyResult, "execute", "no rows")))
	require.True(t, s.ErrorOf(ErrorTypeEmptyResult))

	require.NoError(t, s.Apply(ClearError(), Set(FieldPlan, nil)))
	require.Nil(t, s.LastError)
	require.Nil(t, s.Plan)
}

func TestApplyIsAtomic(t *testing.T) {
	s := NewState("q")
	err := s.Apply(Set(FieldSQL, "SELECT 1"), Set(FieldReady, "yes"))
	require.Error(t, err)
	require.Contains(t, err.Error(), `field "ready"`)
	require.Empty(t, s.SQL)
}

func TestApplyRejectsDecreasingAttempts(t *testing.T) {
	s := NewState("q")
	require.NoError(t, s.Apply(Set(FieldAttempts, 2)))
	err := s.Apply(Set(FieldAttempts, 1))
	require.Error(t, err)
	require.Equal(t, 2, s.Attempts)
}

func TestApplyUnknownField(t *testing.T) {
	s := NewState("q")
	require.Error(t, s.Apply(Set(Field("nope"), 1)))
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewState("q")
	require.NoError(t, s.Apply(
		Set(FieldTables, []string{"album"}),
		Set(FieldPlan, &plan.Plan{Tables: []string{"album"}, OrderBy: &plan.OrderBy{Column: "title", Direction: "asc"}}),
		Set(FieldDetection, &Detection{Decision: DecisionClarify, Options: []string{"a", "b"}}),
	))

	c := s.Clone()
	c.Tables[0] = "track"
	c.Plan.Tables[0] = "track"
	c.Plan.OrderBy.Column = "name"
	c.Detection.Options[0] = "z"

	require.Equal(t, "album", s.Tables[0])
	require.Equal(t, "album", s.Plan.Tables[0])
	require.Equal(t, "title", s.Plan.OrderBy.Column)
	require.Equal(t, []string{"a", "b"}, s.Options())
}
