package auth

import (
	"context"
	"time"
)

// Principal is the authenticated identity attached to a request. It is
// owned by the identity provider and never persisted here.
type Principal struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Verifier resolves a raw bearer token to a Principal. Implementations
// return shared.ErrUnauthenticated for rejected tokens and
// shared.ErrUpstreamUnavailable when the identity provider cannot be reached.
type Verifier interface {
	Verify(ctx context.Context, token string) (Principal, error)
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from context.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
