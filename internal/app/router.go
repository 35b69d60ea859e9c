package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/clipgate/clipgate/internal/actions"
	audithttp "github.com/clipgate/clipgate/internal/audit/http"
	"github.com/clipgate/clipgate/internal/auth"
	"github.com/clipgate/clipgate/internal/observability"
	"github.com/clipgate/clipgate/internal/platform/httpx"
	"github.com/clipgate/clipgate/internal/provisioning"
	"github.com/clipgate/clipgate/internal/ratelimit"
	"github.com/clipgate/clipgate/internal/site"
	"github.com/clipgate/clipgate/jobs"
)

// FunctionsPrefix is the mount point of every function endpoint.
const FunctionsPrefix = "/functions/v1"

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Gate    *auth.Gate
	Metrics *observability.Metrics

	RateLimitHandler    *ratelimit.Handler
	ProvisioningHandler *provisioning.Handler
	ActionsHandler      *actions.Handler
	AuditHandler        *audithttp.Handler
	SiteHandler         *site.Handler
	JobHandler          *jobs.Handler

	// RequestLogging enables the chi access log.
	RequestLogging bool
}

// NewRouter constructs the chi.Router with clipgate defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	gate := params.Gate
	if gate == nil {
		// No verifier: every gated route answers 401.
		gate = auth.NewGate(nil, 0, params.Logger)
	}

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if params.RequestLogging {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route(FunctionsPrefix, func(fr chi.Router) {
		if params.SiteHandler != nil {
			params.SiteHandler.MountRoutes(fr)
		}
		fr.Group(func(gr chi.Router) {
			gr.Use(gate.Middleware)
			if params.RateLimitHandler != nil {
				params.RateLimitHandler.MountRoutes(gr)
			}
			if params.ProvisioningHandler != nil {
				params.ProvisioningHandler.MountRoutes(gr)
			}
			if params.ActionsHandler != nil {
				params.ActionsHandler.MountRoutes(gr)
			}
			if params.AuditHandler != nil {
				params.AuditHandler.MountRoutes(gr)
			}
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Fail(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Fail(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}
