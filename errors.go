package queryflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Error type constants for classification and matching
const (
	// ErrorTypeAll acts as a wildcard that matches any error except fatal errors
	ErrorTypeAll = "all"

	// ErrorTypeParseFailure indicates malformed structured output from the
	// reasoning service.
	ErrorTypeParseFailure = "parse_failure"

	// ErrorTypeValidationFailure indicates a plan referencing an invalid
	// table, join or filter, or an aggregation missing its GROUP BY.
	ErrorTypeValidationFailure = "validation_failure"

	// ErrorTypeSafetyViolation indicates a forbidden or malformed statement.
	ErrorTypeSafetyViolation = "safety_violation"

	// ErrorTypeDataAccessFault indicates the data store failed to execute a
	// statement.
	ErrorTypeDataAccessFault = "data_access_fault"

	// ErrorTypeEmptyResult marks a statement that returned zero rows. It
	// triggers replanning rather than failing the session.
	ErrorTypeEmptyResult = "empty_result"

	// ErrorTypeExhaustedRetries indicates an attempt budget ran out.
	ErrorTypeExhaustedRetries = "exhausted_retries"

	// ErrorTypeRateLimited indicates an upstream service throttled requests.
	ErrorTypeRateLimited = "rate_limited"

	// ErrorTypeTimeout indicates a deadline expired or a call timed out.
	ErrorTypeTimeout = "timeout"

	// ErrorTypeCanceled indicates the caller abandoned the session.
	ErrorTypeCanceled = "canceled"

	// ErrorTypeStageFailed is the default classification of an unknown stage
	// error.
	ErrorTypeStageFailed = "stage_failed"

	// ErrorTypeFatal indicates an error that is never retried or recovered.
	ErrorTypeFatal = "fatal_error"
)

var (
	// ErrSessionNotFound is returned when resuming a session with no checkpoint.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionBusy is returned when a session is already being executed.
	ErrSessionBusy = errors.New("session is already running")

	// ErrSessionNotPaused is returned when resuming a session that is not
	// waiting for input.
	ErrSessionNotPaused = errors.New("session is not paused")

	// ErrInvalidRequest is returned for a request missing its question or
	// session id.
	ErrInvalidRequest = errors.New("invalid request")
)

// WorkflowError represents a structured error with classification
// It supports Go's error wrapping patterns with Unwrap() method
type WorkflowError struct {
	Type    string `json:"type"`
	Cause   string `json:"cause"`
	Details any    `json:"details,omitempty"`
	Wrapped error  `json:"-"`
}

// Error implements the error interface
func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for Go's errors.Is and errors.As
func (e *WorkflowError) Unwrap() error {
	return e.Wrapped
}

// NewWorkflowError creates a new WorkflowError with the specified type and cause.
func NewWorkflowError(errorType, cause string) *WorkflowError {
	return &WorkflowError{
		Type:  errorType,
		Cause: cause,
	}
}

// ClassifyError maps an arbitrary error onto the taxonomy. Errors that are
// already a WorkflowError pass through unchanged.
func ClassifyError(err error) *WorkflowError {
	var wErr *WorkflowError
	if errors.As(err, &wErr) {
		return wErr
	}
	errorType := ErrorTypeStageFailed
	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.Canceled):
		errorType = ErrorTypeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		errorType = ErrorTypeTimeout
	case rateLimitPattern.MatchString(msg):
		errorType = ErrorTypeRateLimited
	case timeoutPattern.MatchString(msg):
		errorType = ErrorTypeTimeout
	}
	return &WorkflowError{Type: errorType, Cause: err.Error(), Wrapped: err}
}

var (
	// 429 only counts as an HTTP status, never as part of an address or id.
	rateLimitPattern = regexp.MustCompile(`rate[ _]limit|too many requests|(?:status(?: code)?|http)[\s:=]*429\b|\b429 too many`)
	timeoutPattern   = regexp.MustCompile(`\btime(?:d)?[ _-]?out\b`)
)

// MatchesErrorType checks if an error matches a specified error type pattern
func MatchesErrorType(err error, errorType string) bool {
	wErr := ClassifyError(err)
	// Fatal errors are only matched by the ErrorTypeFatal pattern
	if wErr.Type == ErrorTypeFatal {
		return errorType == ErrorTypeFatal
	}
	if errorType == ErrorTypeAll {
		return true
	}
	return wErr.Type == errorType
}

// IsRecoverableType reports whether errors of the given type are repaired
// inside the stage graph by looping back to an earlier stage.
func IsRecoverableType(errorType string) bool {
	switch errorType {
	case ErrorTypeParseFailure, ErrorTypeValidationFailure, ErrorTypeSafetyViolation,
		ErrorTypeDataAccessFault, ErrorTypeEmptyResult:
		return true
	default:
		return false
	}
}
