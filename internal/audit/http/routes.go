package audithttp

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/clipgate/clipgate/internal/auth"
	"github.com/clipgate/clipgate/internal/platform/httpx"
)

const rateLimit = 30
const rateWindow = time.Minute

// MountRoutes registers the audit history endpoint. The router must already
// carry the auth middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Fail(w, http.StatusTooManyRequests, "Rate limit exceeded")
		}),
	)
	r.With(limiter).Get("/audit-log", h.handleList)
}

func rateLimitKey(r *http.Request) (string, error) {
	if p, ok := auth.PrincipalFromContext(r.Context()); ok {
		if email := strings.TrimSpace(p.Email); email != "" {
			return "user:" + email, nil
		}
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
