package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clipgate/clipgate/internal/audit"
	"github.com/clipgate/clipgate/internal/auth"
	"github.com/clipgate/clipgate/internal/platform/httpx"
	"github.com/clipgate/clipgate/internal/shared"
)

// Lister defines the read contract for a caller's audit history.
type Lister interface {
	List(ctx context.Context, filter audit.Filter) (audit.Page, error)
}

// Handler serves a caller's own audit entries.
type Handler struct {
	logger  *slog.Logger
	service Lister
}

// NewHandler builds an audit handler.
func NewHandler(logger *slog.Logger, service Lister) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

type entryView struct {
	ID         string         `json:"id"`
	Operation  string         `json:"operation"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Status     string         `json:"status"`
	Message    string         `json:"message,omitempty"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  string         `json:"created_at"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.UserEmail = principal.Email

	page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list audit entries", slog.String("user", principal.Email), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	entries := make([]entryView, 0, len(page.Entries))
	for _, e := range page.Entries {
		entries = append(entries, entryView{
			ID:         e.ID,
			Operation:  e.Operation,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Status:     e.Status,
			Message:    e.Message,
			Metadata:   e.Metadata,
			CreatedAt:  e.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	httpx.Success(w, http.StatusOK, map[string]any{
		"entries": entries,
		"paging":  page.Paging,
	})
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	var filter audit.Filter
	var invalid []string
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			invalid = append(invalid, "page")
		}
		filter.Page = parsed
	}
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			invalid = append(invalid, "page_size")
		}
		filter.PageSize = parsed
	}
	if len(invalid) > 0 {
		return audit.Filter{}, &shared.ValidationError{Fields: invalid, Reason: "Invalid fields"}
	}
	filter.Operation = strings.TrimSpace(q.Get("operation"))
	return filter, nil
}
