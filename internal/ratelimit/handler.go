package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipgate/clipgate/internal/auth"
	"github.com/clipgate/clipgate/internal/platform/httpx"
	"github.com/clipgate/clipgate/internal/shared"
)

// Checker is the limiter contract used by the HTTP handler.
type Checker interface {
	Check(ctx context.Context, req Request) (Decision, error)
}

// Handler exposes the rate-limit check function.
type Handler struct {
	logger  *slog.Logger
	checker Checker
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, checker Checker) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, checker: checker}
}

// MountRoutes registers the rate-limit routes. The router must already
// carry the auth middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/rate-limit-check", h.check)
}

type checkRequest struct {
	Action     string `json:"action" validate:"required,max=100"`
	Identifier string `json:"identifier" validate:"omitempty,max=320"`
	Limit      *int   `json:"limit" validate:"omitempty,gt=0,lte=100000"`
	Window     *int   `json:"window" validate:"omitempty,gt=0,lte=31536000"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	var body checkRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := httpx.Validate(body); err != nil {
		httpx.RespondError(w, err)
		return
	}

	req := Request{
		Action:     body.Action,
		Identifier: body.Identifier,
		Limit:      DefaultLimit,
		Window:     DefaultWindow,
	}
	if req.Identifier == "" {
		req.Identifier = principal.Email
	}
	if body.Limit != nil {
		req.Limit = *body.Limit
	}
	if body.Window != nil {
		req.Window = time.Duration(*body.Window) * time.Second
	}

	decision, err := h.checker.Check(r.Context(), req)
	if err != nil {
		h.logger.Error("rate limit check", slog.String("action", req.Action), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	if !decision.Allowed {
		retryAfter := int(decision.RetryAfter / time.Second)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		httpx.JSON(w, http.StatusTooManyRequests, map[string]any{
			"success":     false,
			"error":       "Rate limit exceeded",
			"allowed":     false,
			"remaining":   0,
			"retry_after": retryAfter,
			"reset_time":  decision.ResetAt.Format(time.RFC3339),
		})
		return
	}

	httpx.Success(w, http.StatusOK, map[string]any{
		"allowed":    true,
		"remaining":  decision.Remaining,
		"reset_time": decision.ResetAt.Format(time.RFC3339),
	})
}
