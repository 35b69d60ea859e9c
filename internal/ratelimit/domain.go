package ratelimit

import (
	"fmt"
	"strings"
	"time"
)

// Defaults applied when a caller leaves limit or window unset.
const (
	DefaultLimit  = 10
	DefaultWindow = time.Hour
)

// FailurePolicy decides what Check does when the datastore cannot answer.
type FailurePolicy string

const (
	// FailOpen admits the action and logs a warning.
	FailOpen FailurePolicy = "open"
	// FailClosed rejects the action with an upstream error.
	FailClosed FailurePolicy = "closed"
)

// ParseFailurePolicy parses "open" or "closed".
func ParseFailurePolicy(value string) (FailurePolicy, error) {
	switch FailurePolicy(strings.ToLower(strings.TrimSpace(value))) {
	case FailOpen, "":
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	default:
		return "", fmt.Errorf("ratelimit: unknown failure policy %q", value)
	}
}

// Request is one check of an (action, identifier) pair.
type Request struct {
	Action     string
	Identifier string
	Limit      int
	Window     time.Duration
}

// Decision is the derived, never persisted, outcome of a check.
type Decision struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
	// Degraded marks an admission granted by the fail-open policy without
	// consulting the log.
	Degraded bool
}
