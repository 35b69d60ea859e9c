package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversionHandlerDelivers(t *testing.T) {
	value := 19.99
	payload := ConversionPayload{
		EventID:    "evt-1",
		EventName:  "purchase",
		UserEmail:  "a@x.com",
		Value:      &value,
		Currency:   "USD",
		OccurredAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	task, err := NewConversionTask(payload)
	require.NoError(t, err)
	assert.Equal(t, TaskTypeConversionDeliver, task.Type())

	var got ConversionPayload
	handler := NewConversionHandler(func(ctx context.Context, p ConversionPayload) error {
		got = p
		return nil
	})
	require.NoError(t, handler(context.Background(), task))
	assert.Equal(t, payload, got)
}

func TestConversionHandlerSkipsRetryOnBadPayload(t *testing.T) {
	called := false
	handler := NewConversionHandler(func(ctx context.Context, p ConversionPayload) error {
		called = true
		return nil
	})
	err := handler(context.Background(), asynq.NewTask(TaskTypeConversionDeliver, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.False(t, called)
}

func TestConversionHandlerSurfacesDeliveryError(t *testing.T) {
	refused := errors.New("refused")
	handler := NewConversionHandler(func(ctx context.Context, p ConversionPayload) error {
		return refused
	})
	task, err := NewConversionTask(ConversionPayload{EventID: "evt-2", EventName: "lead"})
	require.NoError(t, err)
	assert.ErrorIs(t, handler(context.Background(), task), refused)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthEndpoint(t *testing.T) {
	cases := map[string]struct {
		inspector QueueInspector
		status    int
		pending   int
	}{
		"no inspector": {nil, http.StatusOK, 0},
		"pending":      {stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3}}, http.StatusOK, 3},
		"redis down":   {stubInspector{err: errors.New("dial")}, http.StatusServiceUnavailable, 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.inspector, nil).MountRoutes(r)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tc.status, rec.Code)
			if tc.status != http.StatusOK {
				return
			}
			var body struct {
				Queue   string `json:"queue"`
				Pending int    `json:"pending"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, QueueDefault, body.Queue)
			assert.Equal(t, tc.pending, body.Pending)
		})
	}
}
