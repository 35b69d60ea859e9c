package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/clipgate/clipgate/internal/shared"
)

// OIDCConfig holds identity provider settings.
type OIDCConfig struct {
	IssuerURL string
	// JWKSURL skips discovery and verifies against this key set directly.
	JWKSURL string
	// Audience is checked against the aud claim when set.
	Audience string
}

// tokenClaims covers the standard OIDC claims plus the user_metadata block
// some hosted providers put the display name in.
type tokenClaims struct {
	Subject      string `json:"sub"`
	Email        string `json:"email"`
	Name         string `json:"name"`
	UserMetadata struct {
		FullName string `json:"full_name"`
		Name     string `json:"name"`
	} `json:"user_metadata"`
}

func (c tokenClaims) displayName() string {
	for _, candidate := range []string{c.Name, c.UserMetadata.FullName, c.UserMetadata.Name} {
		if v := strings.TrimSpace(candidate); v != "" {
			return v
		}
	}
	return ""
}

// providerTransport counts identity provider round trips that failed at the
// transport level or came back with a 5xx status. go-oidc fetches keys on a
// shared background request and flattens its errors, so the count is the
// only reliable signal that a rejection was really an outage.
type providerTransport struct {
	next     http.RoundTripper
	failures atomic.Uint64
}

func (t *providerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode >= http.StatusInternalServerError {
		t.failures.Add(1)
	}
	return resp, err
}

func newProviderClient() (*http.Client, *providerTransport) {
	transport := &providerTransport{next: http.DefaultTransport}
	return &http.Client{Transport: transport}, transport
}

// OIDCVerifier verifies bearer tokens as signed JWTs against the issuer's
// published keys.
type OIDCVerifier struct {
	verifier  *oidc.IDTokenVerifier
	transport *providerTransport
}

// NewOIDCVerifier builds a verifier either from discovery or from an
// explicit JWKS URL.
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig) (*OIDCVerifier, error) {
	if cfg.IssuerURL == "" {
		return nil, errors.New("auth: issuer URL is required")
	}
	oidcCfg := &oidc.Config{
		ClientID:          cfg.Audience,
		SkipClientIDCheck: cfg.Audience == "",
	}
	client, transport := newProviderClient()
	ctx = oidc.ClientContext(ctx, client)
	if cfg.JWKSURL != "" {
		keySet := oidc.NewRemoteKeySet(ctx, cfg.JWKSURL)
		return &OIDCVerifier{verifier: oidc.NewVerifier(cfg.IssuerURL, keySet, oidcCfg), transport: transport}, nil
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("auth: discover issuer: %w", err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(oidcCfg), transport: transport}, nil
}

// Verify implements Verifier. A failure while the key set could not be
// fetched is reported as ErrUpstreamUnavailable, anything else as a
// rejection.
func (v *OIDCVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	before := v.transport.failures.Load()
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		if v.transport.failures.Load() != before || ctx.Err() != nil {
			return Principal{}, fmt.Errorf("auth: verify token: %w: %w", shared.ErrUpstreamUnavailable, err)
		}
		return Principal{}, classify("verify token", err)
	}
	var claims tokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return Principal{}, fmt.Errorf("auth: decode claims: %w: %w", shared.ErrUnauthenticated, err)
	}
	subject := claims.Subject
	if subject == "" {
		subject = idToken.Subject
	}
	return Principal{
		ID:        subject,
		Email:     strings.ToLower(strings.TrimSpace(claims.Email)),
		Name:      claims.displayName(),
		ExpiresAt: idToken.Expiry,
	}, nil
}

// UserInfoVerifier resolves opaque access tokens by asking the identity
// provider's userinfo endpoint.
type UserInfoVerifier struct {
	provider  *oidc.Provider
	client    *http.Client
	transport *providerTransport
}

// NewUserInfoVerifier discovers the issuer and returns a verifier.
func NewUserInfoVerifier(ctx context.Context, cfg OIDCConfig) (*UserInfoVerifier, error) {
	if cfg.IssuerURL == "" {
		return nil, errors.New("auth: issuer URL is required")
	}
	client, transport := newProviderClient()
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, client), cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("auth: discover issuer: %w", err)
	}
	return &UserInfoVerifier{provider: provider, client: client, transport: transport}, nil
}

// Verify implements Verifier.
func (v *UserInfoVerifier) Verify(ctx context.Context, token string) (Principal, error) {
	before := v.transport.failures.Load()
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	info, err := v.provider.UserInfo(oidc.ClientContext(ctx, v.client), source)
	if err != nil {
		if v.transport.failures.Load() != before {
			return Principal{}, fmt.Errorf("auth: userinfo: %w: %w", shared.ErrUpstreamUnavailable, err)
		}
		return Principal{}, classify("userinfo", err)
	}
	var claims tokenClaims
	if err := info.Claims(&claims); err != nil {
		return Principal{}, fmt.Errorf("auth: decode userinfo: %w: %w", shared.ErrUnauthenticated, err)
	}
	return Principal{
		ID:    info.Subject,
		Email: strings.ToLower(strings.TrimSpace(info.Email)),
		Name:  claims.displayName(),
	}, nil
}

// classify separates "the provider said no" from "the provider could not be
// asked".
func classify(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return fmt.Errorf("auth: %s: %w: %w", op, shared.ErrUpstreamUnavailable, err)
	}
	return fmt.Errorf("auth: %s: %w: %w", op, shared.ErrUnauthenticated, err)
}
