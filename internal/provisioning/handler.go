package provisioning

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clipgate/clipgate/internal/auth"
	"github.com/clipgate/clipgate/internal/platform/httpx"
	"github.com/clipgate/clipgate/internal/shared"
)

// Provisioner is the contract used by the HTTP handler.
type Provisioner interface {
	EnsureProfile(ctx context.Context, principal auth.Principal) (Profile, bool, error)
}

// Handler exposes setup-new-user.
type Handler struct {
	logger  *slog.Logger
	service Provisioner
}

// NewHandler builds a Handler.
func NewHandler(logger *slog.Logger, service Provisioner) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers provisioning routes behind the auth middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/setup-new-user", h.setup)
}

func (h *Handler) setup(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	profile, created, err := h.service.EnsureProfile(r.Context(), principal)
	if err != nil {
		h.logger.Error("setup new user", slog.String("user_id", principal.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	message := "User profile already exists"
	if created {
		message = "User profile created successfully"
	}
	httpx.Success(w, http.StatusOK, map[string]any{
		"user":    profile,
		"message": message,
	})
}
