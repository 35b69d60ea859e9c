package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipgate/clipgate/internal/actions"
	"github.com/clipgate/clipgate/internal/audit"
	"github.com/clipgate/clipgate/internal/audit/audittest"
	audithttp "github.com/clipgate/clipgate/internal/audit/http"
	"github.com/clipgate/clipgate/internal/auth"
	"github.com/clipgate/clipgate/internal/observability"
	"github.com/clipgate/clipgate/internal/provisioning"
	"github.com/clipgate/clipgate/internal/ratelimit"
	"github.com/clipgate/clipgate/internal/shared"
	"github.com/clipgate/clipgate/internal/site"
	"github.com/clipgate/clipgate/web"
)

type tokenVerifier map[string]auth.Principal

func (v tokenVerifier) Verify(ctx context.Context, token string) (auth.Principal, error) {
	p, ok := v[token]
	if !ok {
		return auth.Principal{}, shared.ErrUnauthenticated
	}
	return p, nil
}

type memProfiles struct {
	profiles map[string]provisioning.Profile
	store    *audittest.Store
}

func (m *memProfiles) Get(ctx context.Context, id string) (provisioning.Profile, error) {
	p, ok := m.profiles[id]
	if !ok {
		return provisioning.Profile{}, shared.ErrNotFound
	}
	return p, nil
}

func (m *memProfiles) InsertIfAbsent(ctx context.Context, p provisioning.Profile, entry audit.Entry) (provisioning.Profile, bool, error) {
	if existing, ok := m.profiles[p.ID]; ok {
		return existing, false, nil
	}
	if err := m.store.Insert(ctx, entry); err != nil {
		return provisioning.Profile{}, false, err
	}
	m.profiles[p.ID] = p
	return p, true, nil
}

func newTestRouter(t *testing.T) (http.Handler, *audittest.Store) {
	t.Helper()
	store := audittest.NewStore()
	log := audit.NewLog(store)
	metrics := observability.NewMetrics()
	verifier := tokenVerifier{"good-token": {ID: "u1", Email: "alice@example.com", Name: "Alice"}}
	content, err := site.LoadContent(web.Content)
	require.NoError(t, err)

	cfg := &Config{AppEnv: "test", AppRequestTimeout: 5 * time.Second, IPRateLimit: 1000}
	router := NewRouter(RouterParams{
		Config:              cfg,
		Gate:                auth.NewGate(verifier, time.Second, nil),
		Metrics:             metrics,
		RateLimitHandler:    ratelimit.NewHandler(nil, ratelimit.NewService(log, ratelimit.Config{Metrics: metrics})),
		ProvisioningHandler: provisioning.NewHandler(nil, provisioning.NewService(&memProfiles{profiles: map[string]provisioning.Profile{}, store: store}, log)),
		ActionsHandler:      actions.NewHandler(nil, actions.NewDispatcher(actions.Config{Audit: log, Metrics: metrics})),
		AuditHandler:        audithttp.NewHandler(nil, log),
		SiteHandler:         site.NewHandler(content, "https://clipgate.app", nil),
	})
	return router, store
}

func do(t *testing.T, h http.Handler, method, path, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestPreflightAlwaysOK(t *testing.T) {
	router, _ := newTestRouter(t)
	for _, path := range []string{"/functions/v1/send-email", "/functions/v1/rate-limit-check", "/functions/v1/unknown"} {
		rec, _ := do(t, router, http.MethodOptions, path, "", "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "authorization")
	}
}

func TestCORSHeadersOnErrors(t *testing.T) {
	router, _ := newTestRouter(t)
	rec, body := do(t, router, http.MethodPost, "/functions/v1/send-email", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, false, body["success"])
}

func TestGatedRoutesRejectBadTokens(t *testing.T) {
	router, store := newTestRouter(t)
	for _, path := range []string{"/functions/v1/rate-limit-check", "/functions/v1/send-email", "/functions/v1/send-conversion-event", "/functions/v1/setup-new-user"} {
		rec, _ := do(t, router, http.MethodPost, path, "forged", `{"action":"a"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec, _ := do(t, router, http.MethodGet, "/functions/v1/audit-log", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, store.Len())
}

func TestPublicRoutes(t *testing.T) {
	router, _ := newTestRouter(t)

	rec, _ := do(t, router, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := do(t, router, http.MethodPost, "/functions/v1/site-summary", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Clipgate", body["name"])

	rec, _ = do(t, router, http.MethodGet, "/functions/v1/sitemap", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<loc>https://clipgate.app/pricing</loc>")

	rec, _ = do(t, router, http.MethodGet, "/functions/v1/robots", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Sitemap: https://clipgate.app/functions/v1/sitemap\n")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec, _ = do(t, router, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "clipgate_http_requests_total")
}

func TestEndToEndFlow(t *testing.T) {
	router, store := newTestRouter(t)

	rec, body := do(t, router, http.MethodPost, "/functions/v1/setup-new-user", "good-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	user := body["user"].(map[string]any)
	assert.Equal(t, "Alice", user["full_name"])

	rec, body = do(t, router, http.MethodPost, "/functions/v1/rate-limit-check", "good-token", `{"action":"video_generate","limit":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, body["remaining"])

	rec, _ = do(t, router, http.MethodPost, "/functions/v1/rate-limit-check", "good-token", `{"action":"video_generate","limit":1}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3600", rec.Header().Get("Retry-After"))

	rec, _ = do(t, router, http.MethodPost, "/functions/v1/send-email", "good-token", `{"subject":"Hi","text":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = do(t, router, http.MethodPost, "/functions/v1/send-conversion-event", "good-token", `{"eventName":"signup"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "signup", body["event_name"])

	assert.Equal(t, 3, store.Len())

	rec, body = do(t, router, http.MethodGet, "/functions/v1/audit-log", "good-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["entries"].([]any), 3)
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	router, _ := newTestRouter(t)
	rec, body := do(t, router, http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not found", body["error"])
}
