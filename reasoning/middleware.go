package reasoning

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/deepnoodle-ai/queryflow/metrics"
	"github.com/deepnoodle-ai/queryflow/retry"
)

// NewLimiter converts a requests-per-minute budget into a token bucket
// allowing bursts of a fifth of the budget, and at least five.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	rps := float64(requestsPerMinute) / 60.0
	burst := max(5, requestsPerMinute/5)
	return rate.NewLimiter(rate.Limit(rps), burst)
}

type rateLimited struct {
	next    Reasoner
	limiter *rate.Limiter
}

// WithRateLimit blocks each proposal until the limiter allows it. A
// non-positive budget disables limiting.
func WithRateLimit(next Reasoner, requestsPerMinute int) Reasoner {
	if requestsPerMinute <= 0 {
		return next
	}
	return &rateLimited{next: next, limiter: NewLimiter(requestsPerMinute)}
}

func (r *rateLimited) Propose(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	metrics.RecordRateLimiterWait(string(req.Task), time.Since(start))
	return r.next.Propose(ctx, req)
}

type retrying struct {
	next     Reasoner
	retries  int
	baseWait time.Duration
	logger   *slog.Logger
}

// WithRetries retries proposals that fail with recoverable errors.
func WithRetries(next Reasoner, retries int, baseWait time.Duration, logger *slog.Logger) Reasoner {
	if retries <= 0 {
		return next
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retrying{next: next, retries: retries, baseWait: baseWait, logger: logger}
}

func (r *retrying) Propose(ctx context.Context, req Request) (string, error) {
	var out string
	err := retry.Do(ctx, func() error {
		var err error
		out, err = r.next.Propose(ctx, req)
		return err
	},
		retry.WithMaxRetries(r.retries),
		retry.WithBaseWait(r.baseWait),
		retry.WithOnRetry(func(attempt int, wait time.Duration, err error) {
			r.logger.Warn("retrying reasoning request",
				"task", req.Task,
				"attempt", attempt,
				"wait", wait,
				"error", err)
		}),
	)
	return out, err
}
