// Package retry re-runs operations that fail with recoverable errors,
// waiting with exponential backoff and jitter between attempts.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	defaultMaxRetries = 3
	defaultBaseWait   = 500 * time.Millisecond
	defaultMaxWait    = 30 * time.Second
)

type config struct {
	maxRetries int
	baseWait   time.Duration
	maxWait    time.Duration
	retryIf    func(error) bool
	onRetry    func(attempt int, wait time.Duration, err error)
}

// Option configures Do.
type Option func(*config)

// WithMaxRetries sets how many times the operation is retried after the
// first failure.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// WithBaseWait sets the wait before the first retry. Each later retry
// doubles it.
func WithBaseWait(d time.Duration) Option {
	return func(c *config) { c.baseWait = d }
}

// WithMaxWait caps the wait between attempts.
func WithMaxWait(d time.Duration) Option {
	return func(c *config) { c.maxWait = d }
}

// WithRetryIf replaces IsRecoverable as the retry predicate.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *config) { c.retryIf = fn }
}

// WithOnRetry registers a hook called before each wait.
func WithOnRetry(fn func(attempt int, wait time.Duration, err error)) Option {
	return func(c *config) { c.onRetry = fn }
}

// Do calls fn until it succeeds, returns an error that is not recoverable,
// the retry budget runs out, or ctx is done. The last error from fn is
// returned unchanged.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	cfg := config{
		maxRetries: defaultMaxRetries,
		baseWait:   defaultBaseWait,
		maxWait:    defaultMaxWait,
		retryIf:    IsRecoverable,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= cfg.maxRetries || !cfg.retryIf(err) {
			return err
		}
		wait := backoff(cfg.baseWait, cfg.maxWait, attempt)
		if cfg.onRetry != nil {
			cfg.onRetry(attempt+1, wait, err)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
}

// backoff returns the wait before retry number attempt+1: the base wait
// doubled per attempt, capped, with up to 25% jitter either way.
func backoff(base, maxWait time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	wait := base << min(attempt, 30)
	if wait <= 0 || wait > maxWait {
		wait = maxWait
	}
	jitter := time.Duration(rand.Int64N(int64(wait)/2+1)) - wait/4
	return wait + jitter
}
