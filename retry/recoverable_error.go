package retry

import (
	"context"
	"errors"
	"net"
	"strings"
)

// RecoverableError is implemented by errors that know whether retrying the
// failed call may succeed.
type RecoverableError interface {
	error
	IsRecoverable() bool
}

// transientMessages are substrings of upstream failures that usually clear on
// their own: throttling and overload from the reasoning service, and dropped
// or refused connections to the data store.
var transientMessages = []string{
	"rate limit",
	"too many requests",
	"overloaded",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"internal server error",
	"timeout",
	"connection refused",
	"connection reset",
	"broken pipe",
	"temporary failure",
}

// IsRecoverable reports whether retrying the call that produced err may
// succeed. Explicit markings win over the message heuristics.
func IsRecoverable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var marked RecoverableError
	if errors.As(err, &marked) {
		return marked.IsRecoverable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// markedError overrides the heuristics for the error it wraps.
type markedError struct {
	err         error
	recoverable bool
}

func (e *markedError) Error() string       { return e.err.Error() }
func (e *markedError) Unwrap() error       { return e.err }
func (e *markedError) IsRecoverable() bool { return e.recoverable }

// NewRecoverableError marks err as safe to retry.
func NewRecoverableError(err error) error {
	return &markedError{err: err, recoverable: true}
}

// NewNonRecoverableError marks err as permanent, even when its message looks
// transient.
func NewNonRecoverableError(err error) error {
	return &markedError{err: err, recoverable: false}
}
