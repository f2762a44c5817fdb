package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deepnoodle-ai/queryflow"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCallbacksRecordSessions(t *testing.T) {
	ctx := context.Background()
	c := NewCallbacks()

	before := testutil.ToFloat64(sessionsTotal.WithLabelValues("paused"))
	c.BeforeSessionExecution(ctx, &queryflow.SessionExecutionEvent{})
	require.Equal(t, float64(1), testutil.ToFloat64(activeSessions))
	c.AfterSessionExecution(ctx, &queryflow.SessionExecutionEvent{Status: queryflow.ExecutionStatusPaused})
	require.Equal(t, float64(0), testutil.ToFloat64(activeSessions))
	require.Equal(t, before+1, testutil.ToFloat64(sessionsTotal.WithLabelValues("paused")))

	errsBefore := testutil.ToFloat64(sessionErrors.WithLabelValues("fatal_error"))
	c.BeforeSessionExecution(ctx, &queryflow.SessionExecutionEvent{})
	c.AfterSessionExecution(ctx, &queryflow.SessionExecutionEvent{
		Status: queryflow.ExecutionStatusFailed,
		Error:  queryflow.NewWorkflowError(queryflow.ErrorTypeFatal, "bad route"),
	})
	require.Equal(t, errsBefore+1, testutil.ToFloat64(sessionErrors.WithLabelValues("fatal_error")))
}

func TestRecordReasoningTokens(t *testing.T) {
	before := testutil.ToFloat64(reasoningTokens.WithLabelValues("input"))
	RecordReasoningTokens(120, 30)
	require.Equal(t, before+120, testutil.ToFloat64(reasoningTokens.WithLabelValues("input")))

	RecordReasoningRequest("plan", time.Second, errors.New("boom"))
	RecordQuery("postgres", time.Millisecond, 3, nil)
	require.Equal(t, 1, testutil.CollectAndCount(queryRows))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	labels := []string{"GET", "/v1/sessions/{id}", "404"}
	before := testutil.CollectAndCount(httpRequestDuration)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/sessions/sess_abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/sessions/sess_def", nil))

	require.Equal(t, before+1, testutil.CollectAndCount(httpRequestDuration))
	_, err := httpRequestDuration.GetMetricWithLabelValues(labels...)
	require.NoError(t, err)
}
