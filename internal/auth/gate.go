package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clipgate/clipgate/internal/platform/httpx"
	"github.com/clipgate/clipgate/internal/shared"
)

// Gate validates bearer credentials and fails closed.
type Gate struct {
	verifier Verifier
	timeout  time.Duration
	logger   *slog.Logger
}

// NewGate constructs a Gate. timeout bounds every identity provider call.
func NewGate(verifier Verifier, timeout time.Duration, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{verifier: verifier, timeout: timeout, logger: logger}
}

// Verify resolves an Authorization header value to a Principal.
func (g *Gate) Verify(ctx context.Context, credential string) (Principal, error) {
	token, ok := ParseBearer(credential)
	if !ok {
		return Principal{}, fmt.Errorf("auth: missing bearer token: %w", shared.ErrUnauthenticated)
	}
	if g == nil || g.verifier == nil {
		return Principal{}, fmt.Errorf("auth: no verifier configured: %w", shared.ErrUnauthenticated)
	}
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	principal, err := g.verifier.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, shared.ErrUpstreamUnavailable) {
			return Principal{}, err
		}
		if errors.Is(err, shared.ErrUnauthenticated) {
			return Principal{}, err
		}
		return Principal{}, fmt.Errorf("auth: %w: %w", shared.ErrUnauthenticated, err)
	}
	if principal.ID == "" || principal.Email == "" {
		return Principal{}, fmt.Errorf("auth: token lacks subject or email: %w", shared.ErrUnauthenticated)
	}
	return principal, nil
}

// Middleware rejects requests without a valid credential and stores the
// principal in the request context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, err := g.Verify(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			g.logger.Warn("authentication failed", slog.String("path", r.URL.Path), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), principal)))
	})
}

// ParseBearer extracts the token from a "Bearer <token>" header value.
func ParseBearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", false
	}
	return token, true
}
