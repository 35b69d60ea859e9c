package shared

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrUnauthenticated indicates a missing, malformed or rejected credential.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUpstreamUnavailable indicates the datastore or identity provider could not be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrIdempotencyConflict indicates an idempotency key that is still in
	// flight or was first used for a different request.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
)

// ValidationError lists request fields that are missing or malformed.
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		if e.Reason == "" {
			return "invalid request"
		}
		return e.Reason
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Reason, strings.Join(e.Fields, ", "))
	}
	return "Missing required fields: " + strings.Join(e.Fields, ", ")
}

// NewValidationError builds a ValidationError for missing fields.
func NewValidationError(fields ...string) *ValidationError {
	return &ValidationError{Fields: fields}
}

// RateLimitError is returned when a window quota is exhausted.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}
