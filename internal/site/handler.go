package site

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipgate/clipgate/internal/platform/httpx"
)

// Handler serves the public site documents.
type Handler struct {
	content Content
	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

// NewHandler builds a Handler. baseURL is the public origin used in the
// sitemap and robots.txt; it may be empty.
func NewHandler(content Content, baseURL string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{content: content, baseURL: baseURL, logger: logger, now: time.Now}
}

// MountRoutes registers the public routes. No auth is required.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/site-summary", h.summary)
	r.Post("/site-summary", h.summary)
	r.Get("/sitemap", h.sitemap)
	r.Get("/robots", h.robots)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	if len(h.content.Summary) == 0 {
		httpx.Fail(w, http.StatusInternalServerError, "Site summary unavailable")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.content.Summary)
}

func (h *Handler) sitemap(w http.ResponseWriter, r *http.Request) {
	body, err := BuildSitemap(h.baseURL, h.content.Pages, h.now())
	if err != nil {
		h.logger.Warn("sitemap fallback", slog.Any("error", err))
		body = []byte(fallbackSitemap)
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) robots(w http.ResponseWriter, r *http.Request) {
	var b strings.Builder
	b.WriteString(strings.TrimRight(h.content.Robots, "\n"))
	b.WriteString("\n")
	if base, err := ParseBaseURL(h.baseURL); err == nil {
		// advertise the sitemap route mounted next to this one
		sitemapPath := strings.TrimSuffix(r.URL.Path, "/robots") + "/sitemap"
		b.WriteString("\nSitemap: " + base + sitemapPath + "\n")
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}
