package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/clipgate/clipgate/jobs"
)

// Email is one outbound message.
type Email struct {
	To      string
	From    string
	Subject string
	HTML    string
	Text    string
}

// EmailSink delivers an email and returns the provider's message id.
type EmailSink interface {
	Send(ctx context.Context, msg Email) (string, error)
}

// ConversionEvent is one accepted analytics conversion.
type ConversionEvent struct {
	ID         string
	Name       string
	UserEmail  string
	Value      *float64
	Currency   string
	CustomData map[string]any
	OccurredAt time.Time
}

// ConversionSink forwards a conversion event downstream.
type ConversionSink interface {
	Dispatch(ctx context.Context, event ConversionEvent) error
}

// LogEmailSink records emails in the structured log instead of sending them.
type LogEmailSink struct {
	Logger *slog.Logger
}

// Send implements EmailSink.
func (s LogEmailSink) Send(ctx context.Context, msg Email) (string, error) {
	id := uuid.NewString()
	logger(s.Logger).InfoContext(ctx, "email dispatched",
		slog.String("email_id", id),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject))
	return id, nil
}

type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridEmailSink sends email through the SendGrid v3 API.
type SendGridEmailSink struct {
	client   mailSender
	fromName string
	from     string
}

// NewSendGridEmailSink builds a sink with a default sender address.
func NewSendGridEmailSink(apiKey, fromName, from string) *SendGridEmailSink {
	return &SendGridEmailSink{client: sendgrid.NewSendClient(apiKey), fromName: fromName, from: from}
}

// Send implements EmailSink.
func (s *SendGridEmailSink) Send(ctx context.Context, msg Email) (string, error) {
	fromAddr := msg.From
	if fromAddr == "" {
		fromAddr = s.from
	}
	if fromAddr == "" {
		return "", errors.New("actions: sendgrid: no sender address")
	}
	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(s.fromName, fromAddr))
	message.Subject = msg.Subject
	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", msg.To))
	message.AddPersonalizations(p)
	// SendGrid requires text/plain to precede text/html.
	if msg.Text != "" {
		message.AddContent(mail.NewContent("text/plain", msg.Text))
	}
	if msg.HTML != "" {
		message.AddContent(mail.NewContent("text/html", msg.HTML))
	}
	response, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return "", fmt.Errorf("actions: sendgrid: %w", err)
	}
	if response.StatusCode >= 300 {
		return "", fmt.Errorf("actions: sendgrid: status %d", response.StatusCode)
	}
	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 && ids[0] != "" {
		return ids[0], nil
	}
	return uuid.NewString(), nil
}

// LogConversionSink records conversion events in the structured log.
type LogConversionSink struct {
	Logger *slog.Logger
}

// Dispatch implements ConversionSink.
func (s LogConversionSink) Dispatch(ctx context.Context, event ConversionEvent) error {
	attrs := []any{
		slog.String("event_id", event.ID),
		slog.String("event_name", event.Name),
		slog.String("user_email", event.UserEmail),
	}
	if event.Value != nil {
		attrs = append(attrs, slog.Float64("value", *event.Value))
	}
	if event.Currency != "" {
		attrs = append(attrs, slog.String("currency", event.Currency))
	}
	if len(event.CustomData) > 0 {
		attrs = append(attrs, slog.Any("custom_data", event.CustomData))
	}
	logger(s.Logger).InfoContext(ctx, "conversion event dispatched", attrs...)
	return nil
}

// Deliver adapts the sink to the queue worker.
func (s LogConversionSink) Deliver(ctx context.Context, payload jobs.ConversionPayload) error {
	return s.Dispatch(ctx, eventFromPayload(payload))
}

// Enqueuer is the slice of *jobs.Client used by QueueConversionSink.
type Enqueuer interface {
	EnqueueConversion(ctx context.Context, payload jobs.ConversionPayload) (*asynq.TaskInfo, error)
}

// QueueConversionSink hands events to the asynq worker. A successful
// enqueue counts as a successful dispatch.
type QueueConversionSink struct {
	Queue Enqueuer
}

// Dispatch implements ConversionSink.
func (s QueueConversionSink) Dispatch(ctx context.Context, event ConversionEvent) error {
	if s.Queue == nil {
		return errors.New("actions: conversion queue not configured")
	}
	if _, err := s.Queue.EnqueueConversion(ctx, payloadFromEvent(event)); err != nil {
		return fmt.Errorf("actions: enqueue conversion: %w", err)
	}
	return nil
}

func payloadFromEvent(e ConversionEvent) jobs.ConversionPayload {
	return jobs.ConversionPayload{
		EventID:    e.ID,
		EventName:  e.Name,
		UserEmail:  e.UserEmail,
		Value:      e.Value,
		Currency:   e.Currency,
		CustomData: e.CustomData,
		OccurredAt: e.OccurredAt,
	}
}

func eventFromPayload(p jobs.ConversionPayload) ConversionEvent {
	return ConversionEvent{
		ID:         p.EventID,
		Name:       p.EventName,
		UserEmail:  p.UserEmail,
		Value:      p.Value,
		Currency:   p.Currency,
		CustomData: p.CustomData,
		OccurredAt: p.OccurredAt,
	}
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
