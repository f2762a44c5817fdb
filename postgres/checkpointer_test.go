package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/deepnoodle-ai/queryflow"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

func newTestCheckpointer(t *testing.T) *Checkpointer {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("queryflow"),
		tcpostgres.WithUsername("queryflow"),
		tcpostgres.WithPassword("password"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, Migrate(ctx, pool, nil))
	// Migrations are idempotent.
	require.NoError(t, Migrate(ctx, pool, nil))
	return NewCheckpointer(pool)
}

func TestCheckpointer(t *testing.T) {
	c := newTestCheckpointer(t)
	ctx := context.Background()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	missing, err := c.LoadCheckpoint(ctx, "sess_missing")
	require.NoError(t, err)
	require.Nil(t, missing)

	state := queryflow.NewState("Show me top artists")
	require.NoError(t, state.Apply(
		queryflow.Set(queryflow.FieldDetection, &queryflow.Detection{
			Decision: queryflow.DecisionClarify,
			Options:  []string{"By album count", "By track count"},
		}),
		queryflow.Log("ambiguity: generate_mcqs"),
	))
	checkpoint := &queryflow.Checkpoint{
		ID:           "1",
		SessionID:    "sess_one",
		WorkflowName: "nl2sql",
		Status:       queryflow.ExecutionStatusPaused,
		NextStage:    "clarify",
		State:        state,
		Sequence:     1,
		StartTime:    start,
		CheckpointAt: start.Add(time.Second),
	}
	require.NoError(t, c.SaveCheckpoint(ctx, checkpoint))

	loaded, err := c.LoadCheckpoint(ctx, "sess_one")
	require.NoError(t, err)
	require.Equal(t, queryflow.ExecutionStatusPaused, loaded.Status)
	require.Equal(t, "clarify", loaded.NextStage)
	require.Equal(t, []string{"By album count", "By track count"}, loaded.State.Options())
	require.True(t, start.Equal(loaded.StartTime))

	t.Run("overwrite", func(t *testing.T) {
		checkpoint.Status = queryflow.ExecutionStatusRunning
		checkpoint.NextStage = "plan"
		checkpoint.Sequence = 2
		require.NoError(t, c.SaveCheckpoint(ctx, checkpoint))

		loaded, err := c.LoadCheckpoint(ctx, "sess_one")
		require.NoError(t, err)
		require.Equal(t, "plan", loaded.NextStage)
		require.Equal(t, 2, loaded.Sequence)
	})

	t.Run("list", func(t *testing.T) {
		require.NoError(t, c.SaveCheckpoint(ctx, &queryflow.Checkpoint{
			SessionID:    "sess_two",
			WorkflowName: "nl2sql",
			Status:       queryflow.ExecutionStatusFailed,
			State:        queryflow.NewState("How many albums are there?"),
			StartTime:    start.Add(time.Hour),
			CheckpointAt: start.Add(time.Hour),
		}))
		summaries, err := c.ListSessions(ctx)
		require.NoError(t, err)
		require.Len(t, summaries, 2)
		require.Equal(t, "sess_two", summaries[0].SessionID)
		require.Equal(t, "How many albums are there?", summaries[0].Question)
		require.Equal(t, "sess_one", summaries[1].SessionID)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, c.DeleteCheckpoint(ctx, "sess_one"))
		loaded, err := c.LoadCheckpoint(ctx, "sess_one")
		require.NoError(t, err)
		require.Nil(t, loaded)
		require.NoError(t, c.DeleteCheckpoint(ctx, "sess_one"))
	})
}
