package queryflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEngineHandle(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(EngineOptions{Workflow: clarifyWorkflow(t)})
	require.NoError(t, err)

	result, err := engine.Handle(ctx, Request{Question: "Show me top artists"})
	require.NoError(t, err)
	require.True(t, result.Paused())
	require.NotEmpty(t, result.SessionID)

	sessions, err := engine.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, ExecutionStatusPaused, sessions[0].Status)
	require.Equal(t, "Show me top artists", sessions[0].Question)

	choice := "by play count"
	result, err = engine.Handle(ctx, Request{SessionID: result.SessionID, HumanChoice: &choice})
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusCompleted, result.Status)
	require.Equal(t, "ranked by play count", result.State.Answer)

	_, err = engine.Session(ctx, result.SessionID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEngineHandleValidation(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(EngineOptions{Workflow: clarifyWorkflow(t)})
	require.NoError(t, err)

	_, err = engine.Handle(ctx, Request{Question: "  "})
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.Contains(t, err.Error(), "question is required")

	choice := "1"
	_, err = engine.Handle(ctx, Request{HumanChoice: &choice})
	require.ErrorIs(t, err, ErrInvalidRequest)
	require.Contains(t, err.Error(), "session id is required")

	_, err = engine.Handle(ctx, Request{SessionID: "unknown", HumanChoice: &choice})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEngineRejectsConcurrentUseOfSession(t *testing.T) {
	engine, err := NewEngine(EngineOptions{Workflow: clarifyWorkflow(t)})
	require.NoError(t, err)

	release, err := engine.acquire("sess-1")
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), "sess-1", "q")
	require.ErrorIs(t, err, ErrSessionBusy)
	require.ErrorIs(t, engine.DeleteSession(context.Background(), "sess-1"), ErrSessionBusy)

	release()
	result, err := engine.Run(context.Background(), "sess-1", "q")
	require.NoError(t, err)
	require.Equal(t, "sess-1", result.SessionID)
}

func TestEngineListSessionsUnsupported(t *testing.T) {
	engine, err := NewEngine(EngineOptions{
		Workflow:     clarifyWorkflow(t),
		Checkpointer: NewNullCheckpointer(),
	})
	require.NoError(t, err)
	_, err = engine.ListSessions(context.Background())
	require.Error(t, err)
}
