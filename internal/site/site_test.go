package site

import (
	"encoding/json"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipgate/clipgate/web"
)

func newTestHandler(t *testing.T, baseURL string) http.Handler {
	t.Helper()
	content, err := LoadContent(web.Content)
	require.NoError(t, err)
	h := NewHandler(content, baseURL, nil)
	h.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func get(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestEmbeddedContentLoads(t *testing.T) {
	content, err := LoadContent(web.Content)
	require.NoError(t, err)
	assert.NotEmpty(t, content.Pages)
	assert.Contains(t, content.Robots, "User-agent")
}

func TestLoadContentRejectsBadSummary(t *testing.T) {
	fsys := fstest.MapFS{
		"content/site-summary.json": {Data: []byte("{")},
		"content/pages.json":        {Data: []byte("[]")},
		"content/robots.txt":        {Data: []byte("")},
	}
	_, err := LoadContent(fsys)
	assert.Error(t, err)
}

func TestSiteSummary(t *testing.T) {
	h := newTestHandler(t, "https://clipgate.app")
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := get(h, method, "/site-summary")
		assert.Equal(t, http.StatusOK, rec.Code, method)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var doc map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
		assert.Equal(t, "Clipgate", doc["name"])
	}
}

func TestSitemapUsesBaseURL(t *testing.T) {
	rec := get(newTestHandler(t, "https://clipgate.app/"), http.MethodGet, "/sitemap")
	require.Equal(t, http.StatusOK, rec.Code)

	var set urlSet
	require.NoError(t, xml.Unmarshal(rec.Body.Bytes(), &set))
	require.NotEmpty(t, set.URLs)
	assert.Equal(t, "https://clipgate.app/", set.URLs[0].Loc)
	assert.Equal(t, "2024-05-01", set.URLs[0].LastMod)
	assert.Equal(t, "https://clipgate.app/pricing", set.URLs[1].Loc)
}

func TestSitemapFallsBack(t *testing.T) {
	rec := get(newTestHandler(t, "not a url"), http.MethodGet, "/sitemap")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, fallbackSitemap, rec.Body.String())
}

func TestRobots(t *testing.T) {
	rec := get(newTestHandler(t, "https://clipgate.app"), http.MethodGet, "/robots")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Disallow: /functions/")
	assert.Contains(t, rec.Body.String(), "Sitemap: https://clipgate.app/sitemap\n")

	rec = get(newTestHandler(t, ""), http.MethodGet, "/robots")
	assert.NotContains(t, rec.Body.String(), "Sitemap:")
}

func TestParseBaseURL(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
		ok   bool
	}{
		"https":     {"https://clipgate.app", "https://clipgate.app", true},
		"trailing":  {"https://clipgate.app//", "https://clipgate.app", true},
		"with path": {"http://localhost:3000/app/", "http://localhost:3000/app", true},
		"empty":     {"", "", false},
		"relative":  {"/app", "", false},
		"ftp":       {"ftp://clipgate.app", "", false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ParseBaseURL(tc.in)
			if !tc.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
