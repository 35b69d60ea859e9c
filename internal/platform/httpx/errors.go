package httpx

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/clipgate/clipgate/internal/shared"
)

// RespondError maps domain errors to the failure envelope. Only
// human-readable messages reach the caller.
func RespondError(w http.ResponseWriter, err error) {
	var validation *shared.ValidationError
	var limited *shared.RateLimitError
	switch {
	case errors.As(err, &validation):
		Fail(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(int(limited.RetryAfter.Seconds())))
		Fail(w, http.StatusTooManyRequests, "Rate limit exceeded")
	case errors.Is(err, shared.ErrUnauthenticated):
		Fail(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Fail(w, http.StatusConflict, "Idempotency-Key is in use by another request")
	case errors.Is(err, shared.ErrNotFound):
		Fail(w, http.StatusNotFound, "Not found")
	case errors.Is(err, shared.ErrUpstreamUnavailable):
		Fail(w, http.StatusInternalServerError, "Service temporarily unavailable")
	default:
		Fail(w, http.StatusInternalServerError, "Internal server error")
	}
}
