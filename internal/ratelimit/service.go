package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clipgate/clipgate/internal/audit"
	"github.com/clipgate/clipgate/internal/observability"
	"github.com/clipgate/clipgate/internal/shared"
)

// EntityType tags audit entries written by the limiter.
const EntityType = "rate_limit"

// Ledger is the counting substrate. AppendIfBelow must count and
// conditionally append as one atomic step.
type Ledger interface {
	AppendIfBelow(ctx context.Context, entry audit.Entry, since time.Time, limit int) (audit.Entry, audit.Admission, error)
}

// Config collects optional collaborators.
type Config struct {
	Policy  FailurePolicy
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Clock   func() time.Time
}

// Service is the sliding-window rate limiter. Usage is never held in
// process: every decision is read from and recorded in the audit log.
type Service struct {
	ledger  Ledger
	policy  FailurePolicy
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewService builds a limiter over ledger.
func NewService(ledger Ledger, cfg Config) *Service {
	s := &Service{
		ledger:  ledger,
		policy:  cfg.Policy,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Clock,
	}
	if s.policy == "" {
		s.policy = FailOpen
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Policy reports the configured failure policy.
func (s *Service) Policy() FailurePolicy {
	return s.policy
}

// Check decides whether req may proceed. An admitted check is recorded in
// the audit log before Check returns; a denied check records nothing.
// Denial is a Decision, not an error.
func (s *Service) Check(ctx context.Context, req Request) (Decision, error) {
	req, err := normalise(req)
	if err != nil {
		return Decision{}, err
	}

	now := s.now().UTC()
	windowStart := now.Add(-req.Window)
	entry := audit.Entry{
		Operation:  req.Action,
		EntityType: EntityType,
		UserEmail:  req.Identifier,
		Status:     audit.StatusSuccess,
		Message:    "Action admitted by rate limiter",
		Metadata: map[string]any{
			"limit":          req.Limit,
			"window_seconds": int(req.Window / time.Second),
		},
		CreatedAt: now,
	}

	_, adm, err := s.ledger.AppendIfBelow(ctx, entry, windowStart, req.Limit)
	if err != nil {
		return s.onFailure(req, now, err)
	}

	if !adm.Admitted {
		s.metrics.RecordDecision(req.Action, observability.OutcomeDenied)
		resetAt := now.Add(req.Window)
		if !adm.Oldest.IsZero() {
			resetAt = adm.Oldest.Add(req.Window)
		}
		return Decision{
			Allowed:    false,
			Remaining:  0,
			Limit:      req.Limit,
			ResetAt:    resetAt,
			RetryAfter: req.Window,
		}, nil
	}

	s.metrics.RecordDecision(req.Action, observability.OutcomeAllowed)
	oldest := adm.Oldest
	if oldest.IsZero() {
		oldest = now
	}
	remaining := req.Limit - (adm.Count + 1)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   true,
		Remaining: remaining,
		Limit:     req.Limit,
		ResetAt:   oldest.Add(req.Window),
	}, nil
}

func (s *Service) onFailure(req Request, now time.Time, err error) (Decision, error) {
	if s.policy == FailClosed {
		s.metrics.RecordDecision(req.Action, observability.OutcomeError)
		s.logger.Error("rate limit check failed, rejecting",
			slog.String("action", req.Action),
			slog.String("identifier", req.Identifier),
			slog.Any("error", err))
		return Decision{}, fmt.Errorf("ratelimit: check: %w: %w", shared.ErrUpstreamUnavailable, err)
	}
	s.metrics.RecordDecision(req.Action, observability.OutcomeDegraded)
	s.logger.Warn("rate limit check failed, admitting",
		slog.String("action", req.Action),
		slog.String("identifier", req.Identifier),
		slog.Any("error", err))
	return Decision{
		Allowed:   true,
		Remaining: req.Limit,
		Limit:     req.Limit,
		ResetAt:   now.Add(req.Window),
		Degraded:  true,
	}, nil
}

func normalise(req Request) (Request, error) {
	req.Action = strings.TrimSpace(req.Action)
	req.Identifier = strings.TrimSpace(req.Identifier)
	var missing []string
	if req.Action == "" {
		missing = append(missing, "action")
	}
	if req.Identifier == "" {
		missing = append(missing, "identifier")
	}
	if len(missing) > 0 {
		return Request{}, shared.NewValidationError(missing...)
	}
	if req.Limit < 0 || req.Window < 0 {
		return Request{}, &shared.ValidationError{Fields: []string{"limit", "window"}, Reason: "Invalid fields"}
	}
	if req.Limit == 0 {
		req.Limit = DefaultLimit
	}
	if req.Window == 0 {
		req.Window = DefaultWindow
	}
	return req, nil
}
