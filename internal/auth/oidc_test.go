package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipgate/clipgate/internal/shared"
)

func newIdentityProvider(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"issuer":                 srv.URL,
			"authorization_endpoint": srv.URL + "/authorize",
			"token_endpoint":         srv.URL + "/token",
			"jwks_uri":               srv.URL + "/jwks",
			"userinfo_endpoint":      srv.URL + "/userinfo",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"keys":[]}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good-token" {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"sub":   "u1",
			"email": "Ann@Example.com",
			"user_metadata": map[string]any{
				"full_name": "Ann Example",
			},
		})
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestUserInfoVerifier(t *testing.T) {
	idp := newIdentityProvider(t)
	verifier, err := NewUserInfoVerifier(context.Background(), OIDCConfig{IssuerURL: idp.URL})
	require.NoError(t, err)

	p, err := verifier.Verify(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.ID)
	assert.Equal(t, "ann@example.com", p.Email)
	assert.Equal(t, "Ann Example", p.Name)

	_, err = verifier.Verify(context.Background(), "bad-token")
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestUserInfoVerifierProviderDown(t *testing.T) {
	idp := newIdentityProvider(t)
	verifier, err := NewUserInfoVerifier(context.Background(), OIDCConfig{IssuerURL: idp.URL})
	require.NoError(t, err)
	idp.Close()

	_, err = verifier.Verify(context.Background(), "good-token")
	assert.ErrorIs(t, err, shared.ErrUpstreamUnavailable)
}

func TestOIDCVerifierRejectsGarbage(t *testing.T) {
	idp := newIdentityProvider(t)
	verifier, err := NewOIDCVerifier(context.Background(), OIDCConfig{IssuerURL: idp.URL})
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), "not-a-jwt")
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestOIDCConfigRequiresIssuer(t *testing.T) {
	_, err := NewOIDCVerifier(context.Background(), OIDCConfig{})
	assert.Error(t, err)
	_, err = NewUserInfoVerifier(context.Background(), OIDCConfig{})
	assert.Error(t, err)
}

// signedLookingJWT builds a structurally valid RS256 token whose signature
// matches no key, so verification reaches the key set.
func signedLookingJWT(t *testing.T, issuer string) string {
	t.Helper()
	enc := base64.RawURLEncoding
	claims, err := json.Marshal(map[string]any{
		"iss":   issuer,
		"sub":   "u1",
		"aud":   "authenticated",
		"email": "a@x.com",
		"iat":   time.Now().Unix(),
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)
	return enc.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT","kid":"k1"}`)) + "." +
		enc.EncodeToString(claims) + "." +
		enc.EncodeToString([]byte("not-a-real-signature"))
}

func closedURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return url
}

func TestOIDCVerifierKeySetUnreachable(t *testing.T) {
	const issuer = "https://idp.example.com/auth/v1"
	verifier, err := NewOIDCVerifier(context.Background(), OIDCConfig{
		IssuerURL: issuer,
		JWKSURL:   closedURL(t) + "/jwks",
		Audience:  "authenticated",
	})
	require.NoError(t, err)

	gate := NewGate(verifier, 2*time.Second, nil)
	_, err = gate.Verify(context.Background(), "Bearer "+signedLookingJWT(t, issuer))
	assert.ErrorIs(t, err, shared.ErrUpstreamUnavailable)
	assert.NotErrorIs(t, err, shared.ErrUnauthenticated)
}

func TestOIDCVerifierKeySetServerError(t *testing.T) {
	const issuer = "https://idp.example.com/auth/v1"
	jwks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	t.Cleanup(jwks.Close)

	verifier, err := NewOIDCVerifier(context.Background(), OIDCConfig{IssuerURL: issuer, JWKSURL: jwks.URL, Audience: "authenticated"})
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), signedLookingJWT(t, issuer))
	assert.ErrorIs(t, err, shared.ErrUpstreamUnavailable)
}

func TestOIDCVerifierUnknownKeyIsRejection(t *testing.T) {
	idp := newIdentityProvider(t)
	verifier, err := NewOIDCVerifier(context.Background(), OIDCConfig{IssuerURL: idp.URL, Audience: "authenticated"})
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), signedLookingJWT(t, idp.URL))
	assert.ErrorIs(t, err, shared.ErrUnauthenticated)
	assert.NotErrorIs(t, err, shared.ErrUpstreamUnavailable)
}
