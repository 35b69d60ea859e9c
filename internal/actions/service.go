package actions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clipgate/clipgate/internal/audit"
	"github.com/clipgate/clipgate/internal/auth"
	"github.com/clipgate/clipgate/internal/observability"
)

// Audit operations written by the action handlers.
const (
	OperationEmailSent       = "email_sent"
	OperationConversionEvent = "conversion_event"

	entityEmail      = "email"
	entityConversion = "conversion_event"
)

// Appender records audit entries. *audit.Log satisfies it.
type Appender interface {
	Append(ctx context.Context, entry audit.Entry) (string, error)
}

// Config collects the dispatcher's collaborators.
type Config struct {
	Email      EmailSink
	Conversion ConversionSink
	Audit      Appender
	Logger     *slog.Logger
	Metrics    *observability.Metrics
	Clock      func() time.Time
}

// Dispatcher performs each accepted side effect exactly once and records
// its outcome. Nothing is retried.
type Dispatcher struct {
	email      EmailSink
	conversion ConversionSink
	audit      Appender
	logger     *slog.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// NewDispatcher builds a Dispatcher; missing sinks fall back to the log sinks.
func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{
		email:      cfg.Email,
		conversion: cfg.Conversion,
		audit:      cfg.Audit,
		logger:     logger(cfg.Logger),
		metrics:    cfg.Metrics,
		now:        cfg.Clock,
	}
	if d.email == nil {
		d.email = LogEmailSink{Logger: d.logger}
	}
	if d.conversion == nil {
		d.conversion = LogConversionSink{Logger: d.logger}
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// SendEmail delivers msg on behalf of principal and returns the email id.
func (d *Dispatcher) SendEmail(ctx context.Context, principal auth.Principal, msg Email) (string, error) {
	id, sendErr := d.email.Send(ctx, msg)
	if id == "" {
		id = uuid.NewString()
	}
	entry := audit.Entry{
		Operation:  OperationEmailSent,
		EntityType: entityEmail,
		EntityID:   id,
		UserEmail:  principal.Email,
		Status:     audit.StatusSuccess,
		Message:    "Email sent",
		Metadata: map[string]any{
			"to":      msg.To,
			"subject": msg.Subject,
		},
		CreatedAt: d.now().UTC(),
	}
	if sendErr != nil {
		entry.Status = audit.StatusFailed
		entry.Message = "Email delivery failed"
		entry.Metadata["error"] = sendErr.Error()
	}
	d.metrics.RecordSideEffect(entityEmail, entry.Status)
	d.record(ctx, entry)
	if sendErr != nil {
		return "", fmt.Errorf("actions: send email: %w", sendErr)
	}
	return id, nil
}

// SendConversion dispatches event on behalf of principal. The event id is
// assigned here when empty.
func (d *Dispatcher) SendConversion(ctx context.Context, principal auth.Principal, event ConversionEvent) (ConversionEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = d.now().UTC()
	}
	event.UserEmail = principal.Email

	dispatchErr := d.conversion.Dispatch(ctx, event)
	meta := map[string]any{"event_name": event.Name}
	if event.Value != nil {
		meta["value"] = *event.Value
	}
	if event.Currency != "" {
		meta["currency"] = event.Currency
	}
	entry := audit.Entry{
		Operation:  OperationConversionEvent,
		EntityType: entityConversion,
		EntityID:   event.ID,
		UserEmail:  principal.Email,
		Status:     audit.StatusSuccess,
		Message:    "Conversion event sent",
		Metadata:   meta,
		CreatedAt:  event.OccurredAt,
	}
	if dispatchErr != nil {
		entry.Status = audit.StatusFailed
		entry.Message = "Conversion event dispatch failed"
		meta["error"] = dispatchErr.Error()
	}
	d.metrics.RecordSideEffect(entityConversion, entry.Status)
	d.record(ctx, entry)
	if dispatchErr != nil {
		return ConversionEvent{}, fmt.Errorf("actions: dispatch conversion: %w", dispatchErr)
	}
	return event, nil
}

// record appends entry. Failures are logged only; the side effect already
// happened.
func (d *Dispatcher) record(ctx context.Context, entry audit.Entry) {
	if d.audit == nil {
		return
	}
	if _, err := d.audit.Append(ctx, entry); err != nil {
		d.logger.Error("audit append failed",
			slog.String("operation", entry.Operation),
			slog.String("entity_id", entry.EntityID),
			slog.Any("error", err))
	}
}
