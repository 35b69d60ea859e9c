package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeConversionDeliver carries one accepted conversion event to its
	// downstream destination.
	TaskTypeConversionDeliver = "conversion:deliver"
)

// ConversionPayload describes a queued conversion event.
type ConversionPayload struct {
	EventID    string         `json:"event_id"`
	EventName  string         `json:"event_name"`
	UserEmail  string         `json:"user_email"`
	Value      *float64       `json:"value,omitempty"`
	Currency   string         `json:"currency,omitempty"`
	CustomData map[string]any `json:"custom_data,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewConversionTask constructs an Asynq task. Delivery is attempted once;
// a failed task is archived rather than retried.
func NewConversionTask(payload ConversionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeConversionDeliver, data, asynq.MaxRetry(0), asynq.TaskID(payload.EventID)), nil
}

// ConversionDeliverer hands a dequeued event to its destination.
type ConversionDeliverer func(ctx context.Context, payload ConversionPayload) error

// NewConversionHandler adapts a deliverer to an Asynq handler.
func NewConversionHandler(deliver ConversionDeliverer) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ConversionPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("jobs: decode conversion payload: %v: %w", err, asynq.SkipRetry)
		}
		if err := deliver(ctx, payload); err != nil {
			return fmt.Errorf("jobs: deliver conversion %s: %w", payload.EventID, err)
		}
		return nil
	}
}
