package queryflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// clarifyWorkflow asks for a choice, then answers with it.
func clarifyWorkflow(t *testing.T) *Workflow {
	t.Helper()
	wf, err := New(Options{
		Name: "clarify",
		Steps: []*Step{
			{
				Name: "ask",
				Stage: NewStageFunction("ask", func(ctx context.Context, s *State) ([]Patch, error) {
					return []Patch{
						Set(FieldDetection, &Detection{
							Decision: DecisionClarify,
							Options:  []string{"by sales", "by play count"},
						}),
						Log("asked"),
					}, nil
				}),
				Next:      "answer",
				Interrupt: func(s *State) bool { return len(s.Options()) > 0 },
			},
			{
				Name: "answer",
				Stage: NewStageFunction("answer", func(ctx context.Context, s *State) ([]Patch, error) {
					return []Patch{Set(FieldAnswer, "ranked "+s.HumanChoice)}, nil
				}),
				End: true,
			},
		},
	})
	require.NoError(t, err)
	return wf
}

// retryWorkflow loops on "work" until it has run the given number of times.
func retryWorkflow(t *testing.T, until int, failWith error) *Workflow {
	t.Helper()
	wf, err := New(Options{
		Name:     "retry",
		Fallback: "degrade",
		Steps: []*Step{
			{
				Name: "work",
				Stage: NewStageFunction("work", func(ctx context.Context, s *State) ([]Patch, error) {
					if failWith != nil {
						return nil, failWith
					}
					return []Patch{Set(FieldAttempts, s.Attempts+1)}, nil
				}),
				Route: func(s *State) string {
					if s.Attempts < until {
						return "work"
					}
					return "done"
				},
				Routes: []string{"work", "done"},
			},
			{
				Name: "done",
				Stage: NewStageFunction("done", func(ctx context.Context, s *State) ([]Patch, error) {
					return []Patch{Set(FieldAnswer, fmt.Sprintf("done after %d", s.Attempts))}, nil
				}),
				End: true,
			},
			{
				Name: "degrade",
				Stage: NewStageFunction("degrade", func(ctx context.Context, s *State) ([]Patch, error) {
					return []Patch{Set(FieldAnswer, "degraded: "+s.LastError.Message)}, nil
				}),
				End: true,
			},
		},
	})
	require.NoError(t, err)
	return wf
}

func TestNewExecutionValidation(t *testing.T) {
	_, err := NewExecution(ExecutionOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "workflow is required")

	execution, err := NewExecution(ExecutionOptions{Workflow: clarifyWorkflow(t)})
	require.NoError(t, err)
	require.NotEmpty(t, execution.ID())
	require.Equal(t, ExecutionStatusPending, execution.Status())
}

func TestExecutionLoopsUntilRouteExits(t *testing.T) {
	execution, err := NewExecution(ExecutionOptions{Workflow: retryWorkflow(t, 3, nil)})
	require.NoError(t, err)

	result, err := execution.Run(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusCompleted, result.Status)
	require.Equal(t, 3, result.State.Attempts)
	require.Equal(t, "done after 3", result.State.Answer)
	require.Nil(t, result.Err())

	_, err = execution.Run(context.Background(), "q")
	require.Error(t, err)
	require.Contains(t, err.Error(), "already started")
}

func TestExecutionStageErrorRoutesToFallback(t *testing.T) {
	execution, err := NewExecution(ExecutionOptions{
		Workflow: retryWorkflow(t, 3, errors.New("upstream returned 429 Too Many Requests")),
	})
	require.NoError(t, err)

	result, err := execution.Run(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusCompleted, result.Status)
	require.Contains(t, result.State.Answer, "degraded: upstream returned 429")
	require.Equal(t, ErrorTypeRateLimited, result.State.LastError.Type)
	require.Equal(t, "work", result.State.LastError.Source)
	require.Equal(t, ErrorTypeRateLimited, result.Err().Type)
}

func TestExecutionStepLimit(t *testing.T) {
	wf := retryWorkflow(t, 1000, nil)
	wf.maxSteps = 5

	execution, err := NewExecution(ExecutionOptions{Workflow: wf})
	require.NoError(t, err)

	result, err := execution.Run(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, 5, result.State.Attempts)
	require.True(t, result.State.ErrorOf(ErrorTypeExhaustedRetries))
	require.Contains(t, result.State.Answer, "stage limit of 5")
}

func TestExecutionContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	execution, err := NewExecution(ExecutionOptions{Workflow: retryWorkflow(t, 3, nil)})
	require.NoError(t, err)
	_, err = execution.Run(ctx, "q")
	require.ErrorIs(t, err, context.Canceled)
}

func TestExecutionInvalidPatchAborts(t *testing.T) {
	wf, err := New(Options{
		Name: "bad",
		Steps: []*Step{{
			Name: "bad",
			Stage: NewStageFunction("bad", func(ctx context.Context, s *State) ([]Patch, error) {
				return []Patch{Set(FieldAttempts, "three")}, nil
			}),
			End: true,
		}},
	})
	require.NoError(t, err)

	checkpointer := NewMemoryCheckpointer()
	execution, err := NewExecution(ExecutionOptions{Workflow: wf, Checkpointer: checkpointer})
	require.NoError(t, err)

	_, err = execution.Run(context.Background(), "q")
	require.Error(t, err)
	require.True(t, MatchesErrorType(err, ErrorTypeFatal))
	require.Equal(t, ExecutionStatusFailed, execution.Status())

	checkpoint, err := checkpointer.LoadCheckpoint(context.Background(), execution.ID())
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusFailed, checkpoint.Status)
}

func TestExecutionPauseAndResume(t *testing.T) {
	ctx := context.Background()
	wf := clarifyWorkflow(t)
	checkpointer := NewMemoryCheckpointer()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))

	first, err := NewExecution(ExecutionOptions{
		Workflow:     wf,
		SessionID:    "sess-1",
		Checkpointer: checkpointer,
		Clock:        clock,
	})
	require.NoError(t, err)

	result, err := first.Run(ctx, "Show me top artists")
	require.NoError(t, err)
	require.True(t, result.Paused())
	require.Equal(t, "answer", result.NextStage)
	require.Equal(t, []string{"by sales", "by play count"}, result.Options())
	require.Nil(t, result.Err())

	checkpoint, err := checkpointer.LoadCheckpoint(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusPaused, checkpoint.Status)
	require.Equal(t, "answer", checkpoint.NextStage)
	require.Equal(t, "Show me top artists", checkpoint.State.Question)
	require.True(t, checkpoint.StartTime.Equal(clock.Now()))

	clock.Advance(time.Minute)
	second, err := NewExecution(ExecutionOptions{
		Workflow:     wf,
		SessionID:    "sess-1",
		Checkpointer: checkpointer,
		Clock:        clock,
	})
	require.NoError(t, err)

	result, err = second.Resume(ctx, "by sales")
	require.NoError(t, err)
	require.Equal(t, ExecutionStatusCompleted, result.Status)
	require.Equal(t, "ranked by sales", result.State.Answer)
	require.Equal(t, []string{"asked", "human choice: by sales"}, result.State.Messages)

	// Completed sessions leave nothing to resume.
	checkpoint, err = checkpointer.LoadCheckpoint(ctx, "sess-1")
	require.NoError(t, err)
	require.Nil(t, checkpoint)
}

func TestExecutionResumeErrors(t *testing.T) {
	ctx := context.Background()
	wf := clarifyWorkflow(t)
	checkpointer := NewMemoryCheckpointer()

	execution, err := NewExecution(ExecutionOptions{Workflow: wf, SessionID: "missing", Checkpointer: checkpointer})
	require.NoError(t, err)
	_, err = execution.Resume(ctx, "x")
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, checkpointer.SaveCheckpoint(ctx, &Checkpoint{
		ID:           "1",
		SessionID:    "failed",
		WorkflowName: "clarify",
		Status:       ExecutionStatusFailed,
		NextStage:    "answer",
		State:        NewState("q"),
	}))
	execution, err = NewExecution(ExecutionOptions{Workflow: wf, SessionID: "failed", Checkpointer: checkpointer})
	require.NoError(t, err)
	_, err = execution.Resume(ctx, "x")
	require.ErrorIs(t, err, ErrSessionNotPaused)
}

type recordingCallbacks struct {
	BaseExecutionCallbacks
	events []string
}

func (r *recordingCallbacks) BeforeSessionExecution(ctx context.Context, event *SessionExecutionEvent) {
	r.events = append(r.events, "before session "+event.Question)
}

func (r *recordingCallbacks) AfterSessionExecution(ctx context.Context, event *SessionExecutionEvent) {
	r.events = append(r.events, "after session "+string(event.Status))
}

func (r *recordingCallbacks) AfterStageExecution(ctx context.Context, event *StageExecutionEvent) {
	r.events = append(r.events, fmt.Sprintf("stage %s attempts=%d", event.Stage, event.Attempts))
}

func TestExecutionCallbacksAndStageLog(t *testing.T) {
	callbacks := &recordingCallbacks{}
	stageLogger := NewFileStageLogger(t.TempDir())

	execution, err := NewExecution(ExecutionOptions{
		Workflow:           retryWorkflow(t, 2, nil),
		SessionID:          "sess-log",
		StageLogger:        stageLogger,
		ExecutionCallbacks: NewCallbackChain(callbacks),
	})
	require.NoError(t, err)

	_, err = execution.Run(context.Background(), "q")
	require.NoError(t, err)
	require.Equal(t, []string{
		"before session q",
		"stage work attempts=1",
		"stage work attempts=2",
		"stage done attempts=2",
		"after session completed",
	}, callbacks.events)

	entries, err := stageLogger.GetStageHistory(context.Background(), "sess-log")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, "work", entries[0].Stage)
	require.Equal(t, []string{"attempts"}, entries[0].Fields)
	require.Equal(t, "done", entries[2].Stage)
	require.NotEmpty(t, entries[2].ID)
}
