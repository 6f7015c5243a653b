package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/franchise-tracker/internal/access"
	"github.com/odyssey-erp/franchise-tracker/internal/changefeed/sse"
	"github.com/odyssey-erp/franchise-tracker/internal/identity"
	"github.com/odyssey-erp/franchise-tracker/internal/ledger"
	"github.com/odyssey-erp/franchise-tracker/internal/observability"
	"github.com/odyssey-erp/franchise-tracker/internal/profitshare"
	"github.com/odyssey-erp/franchise-tracker/internal/revenue"
	"github.com/odyssey-erp/franchise-tracker/internal/tenants"
	"github.com/odyssey-erp/franchise-tracker/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger        *slog.Logger
	Config        *Config
	Verifier      *identity.Verifier
	ScopeResolver access.Resolver

	TenantsHandler     *tenants.Handler
	AccessHandler      *access.Handler
	LedgerHandler      *ledger.Handler
	RevenueHandler     *revenue.Handler
	ProfitShareHandler *profitshare.Handler
	ChangesHandler     *sse.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router serving the JSON API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

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

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(params.Verifier.Middleware(params.Logger))
		r.Use(access.Middleware(params.ScopeResolver, params.Logger))

		if params.ChangesHandler != nil {
			r.Method(http.MethodGet, "/changes", params.ChangesHandler)
		}

		r.Group(func(r chi.Router) {
			r.Use(RequestTimeout(params.Config))

			r.Route("/me", func(r chi.Router) {
				if params.AccessHandler != nil {
					r.Get("/", params.AccessHandler.Me)
				}
				if params.LedgerHandler != nil {
					r.Get("/worker-income", params.LedgerHandler.WorkerView)
				}
			})
			if params.TenantsHandler != nil {
				r.Route("/franchises", params.TenantsHandler.MountRoutes)
			}
			if params.AccessHandler != nil {
				r.Route("/roles", params.AccessHandler.MountRoutes)
			}
			if params.LedgerHandler != nil {
				r.Route("/ledger", params.LedgerHandler.MountRoutes)
			}
			if params.RevenueHandler != nil {
				r.Route("/revenue", params.RevenueHandler.MountRoutes)
			}
			if params.ProfitShareHandler != nil {
				r.Route("/profit-share", params.ProfitShareHandler.MountRoutes)
			}
		})
	})

	return r
}
