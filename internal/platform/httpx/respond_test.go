package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipgate/clipgate/internal/shared"
)

func TestRespondErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"validation", shared.NewValidationError("to", "subject"), http.StatusBadRequest, "Missing required fields: to, subject"},
		{"unauthenticated", fmt.Errorf("auth: %w", shared.ErrUnauthenticated), http.StatusUnauthorized, "Unauthorized"},
		{"rate limited", &shared.RateLimitError{RetryAfter: time.Hour}, http.StatusTooManyRequests, "Rate limit exceeded"},
		{"upstream", fmt.Errorf("audit: count: %w", shared.ErrUpstreamUnavailable), http.StatusInternalServerError, "Service temporarily unavailable"},
		{"idempotency", fmt.Errorf("idempotency: begin: %w", shared.ErrIdempotencyConflict), http.StatusConflict, "Idempotency-Key is in use by another request"},
		{"unknown", errors.New("pq: relation does not exist"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tc.err)
			assert.Equal(t, tc.status, rec.Code)
			var body ErrorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tc.msg, body.Error)
		})
	}
}

func TestRespondErrorSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, &shared.RateLimitError{RetryAfter: 3600 * time.Second})
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))
}

func TestSuccessEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Success(rec, http.StatusOK, map[string]any{"message": "ok", "success": false})
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "ok", body["message"])
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestDecodeJSONEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	var target struct{ A string }
	require.NoError(t, DecodeJSON(req, &target))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{bad"))
	assert.Error(t, DecodeJSON(req, &target))
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		A string `json:"a"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"x"}`))
	require.NoError(t, DecodeJSON(req, &target))
	assert.Equal(t, "x", target.A)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":"x","extra":1}`))
	err := DecodeJSON(req, &target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown field "extra"`)
}

func TestRawWritesBody(t *testing.T) {
	rec := httptest.NewRecorder()
	Raw(rec, http.StatusOK, []byte(`{"success":true}`))
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}
