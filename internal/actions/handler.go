package actions

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/currency"

	"github.com/clipgate/clipgate/internal/auth"
	"github.com/clipgate/clipgate/internal/idempotency"
	"github.com/clipgate/clipgate/internal/platform/httpx"
	"github.com/clipgate/clipgate/internal/shared"
)

// Service is the dispatch contract used by the HTTP handler.
type Service interface {
	SendEmail(ctx context.Context, principal auth.Principal, msg Email) (string, error)
	SendConversion(ctx context.Context, principal auth.Principal, event ConversionEvent) (ConversionEvent, error)
}

// KeyStore remembers acknowledgments of requests sent with an
// Idempotency-Key header. *idempotency.Store satisfies it.
type KeyStore interface {
	Begin(ctx context.Context, key idempotency.Key, fingerprint string) ([]byte, error)
	Finish(ctx context.Context, key idempotency.Key, response []byte) error
	Abort(ctx context.Context, key idempotency.Key) error
}

// Handler exposes the side-effecting action endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
	keys    KeyStore
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithKeyStore enables Idempotency-Key handling.
func WithKeyStore(keys KeyStore) HandlerOption {
	return func(h *Handler) { h.keys = keys }
}

// NewHandler builds a Handler.
func NewHandler(l *slog.Logger, service Service, opts ...HandlerOption) *Handler {
	h := &Handler{logger: logger(l), service: service}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MountRoutes registers action routes behind the auth middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/send-email", h.sendEmail)
	r.Post("/send-conversion-event", h.sendConversion)
}

type emailRequest struct {
	To      string `json:"to" validate:"required,email"`
	Subject string `json:"subject" validate:"required,max=998"`
	HTML    string `json:"html" validate:"required_without=Text"`
	Text    string `json:"text" validate:"required_without=HTML"`
	From    string `json:"from" validate:"omitempty,email"`
}

type conversionRequest struct {
	EventName  string         `json:"eventName" validate:"required,max=100"`
	Value      *float64       `json:"value" validate:"omitempty,gte=0"`
	Currency   string         `json:"currency" validate:"omitempty,len=3"`
	CustomData map[string]any `json:"customData"`
}

func (h *Handler) sendEmail(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	var req emailRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}
	req.To = strings.TrimSpace(req.To)
	req.Subject = strings.TrimSpace(req.Subject)
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}

	h.respondOnce(w, r, principal, "send-email", req, func(ctx context.Context) (map[string]any, error) {
		id, err := h.service.SendEmail(ctx, principal, Email{
			To:      req.To,
			From:    req.From,
			Subject: req.Subject,
			HTML:    req.HTML,
			Text:    req.Text,
		})
		if err != nil {
			h.logger.Error("send email", slog.String("user", principal.Email), slog.Any("error", err))
			return nil, err
		}
		return map[string]any{
			"message":  "Email sent successfully",
			"email_id": id,
		}, nil
	})
}

func (h *Handler) sendConversion(w http.ResponseWriter, r *http.Request) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrUnauthenticated)
		return
	}
	var req conversionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Fail(w, http.StatusBadRequest, err.Error())
		return
	}
	req.EventName = strings.TrimSpace(req.EventName)
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	code := ""
	if req.Currency != "" {
		unit, err := currency.ParseISO(req.Currency)
		if err != nil {
			httpx.RespondError(w, &shared.ValidationError{Fields: []string{"currency"}, Reason: "Invalid fields"})
			return
		}
		code = unit.String()
	}

	req.Currency = code
	h.respondOnce(w, r, principal, "send-conversion-event", req, func(ctx context.Context) (map[string]any, error) {
		event, err := h.service.SendConversion(ctx, principal, ConversionEvent{
			Name:       req.EventName,
			Value:      req.Value,
			Currency:   code,
			CustomData: req.CustomData,
		})
		if err != nil {
			h.logger.Error("send conversion event", slog.String("user", principal.Email), slog.Any("error", err))
			return nil, err
		}
		return map[string]any{
			"message":    "Conversion event sent successfully",
			"event_name": event.Name,
			"event_id":   event.ID,
		}, nil
	})
}

// respondOnce runs send and writes its acknowledgment. With an
// Idempotency-Key header the first acknowledgment is stored and replayed for
// retries of the same request; a failed attempt releases the key.
func (h *Handler) respondOnce(w http.ResponseWriter, r *http.Request, principal auth.Principal, scope string, req any, send func(context.Context) (map[string]any, error)) {
	ctx := r.Context()
	value := r.Header.Get(idempotency.HeaderName)
	if value == "" || h.keys == nil {
		fields, err := send(ctx)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.Success(w, http.StatusOK, fields)
		return
	}

	payload, err := json.Marshal(req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := idempotency.Key{Scope: scope, Owner: principal.Email, Value: value}
	replay, err := h.keys.Begin(ctx, key, idempotency.Fingerprint(payload))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if replay != nil {
		w.Header().Set("Idempotent-Replayed", "true")
		httpx.Raw(w, http.StatusOK, replay)
		return
	}

	fields, err := send(ctx)
	if err != nil {
		if abortErr := h.keys.Abort(context.WithoutCancel(ctx), key); abortErr != nil {
			h.logger.Warn("release idempotency key", slog.String("key", value), slog.Any("error", abortErr))
		}
		httpx.RespondError(w, err)
		return
	}
	body, err := json.Marshal(httpx.SuccessBody(fields))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.keys.Finish(context.WithoutCancel(ctx), key, body); err != nil {
		h.logger.Warn("store idempotent response", slog.String("key", value), slog.Any("error", err))
	}
	httpx.Raw(w, http.StatusOK, body)
}
