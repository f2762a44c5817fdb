// Package metrics exposes Prometheus instrumentation for sessions, stages,
// reasoning calls and data store queries.
package metrics

import (
	"context"
	"time"

	"github.com/deepnoodle-ai/queryflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	reasoningRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queryflow_reasoning_request_duration_seconds",
			Help:    "Reasoning service request duration in seconds by task",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"task", "status"},
	)

	reasoningTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryflow_reasoning_tokens_total",
			Help: "Tokens consumed by reasoning requests",
		},
		[]string{"direction"}, // "input" or "output"
	)

	rateLimiterWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queryflow_rate_limiter_wait_duration_seconds",
			Help:    "Time spent waiting for the reasoning rate limiter",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"task"},
	)

	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queryflow_datastore_query_duration_seconds",
			Help:    "Data store query duration in seconds by driver",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"driver", "status"},
	)

	queryRows = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queryflow_datastore_query_rows",
			Help:    "Rows returned per data store query",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		},
		[]string{"driver"},
	)

	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queryflow_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 18),
		},
		[]string{"stage", "status"},
	)

	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryflow_sessions_total",
			Help: "Session runs by final status",
		},
		[]string{"status"},
	)

	sessionErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queryflow_session_errors_total",
			Help: "Sessions that ended with an error, by error type",
		},
		[]string{"type"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "queryflow_active_sessions",
			Help: "Sessions currently executing",
		},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordReasoningRequest records a reasoning call.
func RecordReasoningRequest(task string, duration time.Duration, err error) {
	reasoningRequestDuration.WithLabelValues(task, status(err)).Observe(duration.Seconds())
}

// RecordReasoningTokens records token usage of a reasoning call.
func RecordReasoningTokens(input, output int64) {
	reasoningTokens.WithLabelValues("input").Add(float64(input))
	reasoningTokens.WithLabelValues("output").Add(float64(output))
}

// RecordRateLimiterWait records time spent blocked on the rate limiter.
func RecordRateLimiterWait(task string, duration time.Duration) {
	rateLimiterWaitDuration.WithLabelValues(task).Observe(duration.Seconds())
}

// RecordQuery records a data store query.
func RecordQuery(driver string, duration time.Duration, rows int, err error) {
	queryDuration.WithLabelValues(driver, status(err)).Observe(duration.Seconds())
	if err == nil {
		queryRows.WithLabelValues(driver).Observe(float64(rows))
	}
}

// Callbacks records session and stage metrics from engine events.
type Callbacks struct {
	queryflow.BaseExecutionCallbacks
}

// NewCallbacks returns execution callbacks that feed the collectors above.
func NewCallbacks() *Callbacks {
	return &Callbacks{}
}

func (c *Callbacks) BeforeSessionExecution(ctx context.Context, event *queryflow.SessionExecutionEvent) {
	activeSessions.Inc()
}

func (c *Callbacks) AfterSessionExecution(ctx context.Context, event *queryflow.SessionExecutionEvent) {
	activeSessions.Dec()
	sessionsTotal.WithLabelValues(string(event.Status)).Inc()
	if event.Error != nil {
		sessionErrors.WithLabelValues(queryflow.ClassifyError(event.Error).Type).Inc()
	}
}

func (c *Callbacks) AfterStageExecution(ctx context.Context, event *queryflow.StageExecutionEvent) {
	stageDuration.WithLabelValues(event.Stage, status(event.Error)).Observe(event.Duration.Seconds())
}
