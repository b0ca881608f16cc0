package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-wms/meridian-wms/internal/authctx"
	"github.com/meridian-wms/meridian-wms/internal/inventory"
	"github.com/meridian-wms/meridian-wms/internal/masterdata"
	"github.com/meridian-wms/meridian-wms/internal/observability"
	"github.com/meridian-wms/meridian-wms/internal/operations"
	"github.com/meridian-wms/meridian-wms/internal/rbac"
	"github.com/meridian-wms/meridian-wms/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	TokenVerifier     authctx.Verifier
	InventoryHandler  *inventory.Handler
	OperationsHandler *operations.Handler
	MasterDataHandler *masterdata.Handler
	RBACHandler       *rbac.Handler
	TokenHandler      *authctx.Handler
	JobsHandler       *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults. Health and
// metrics endpoints stay outside the authenticated group.
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

	r.Group(func(r chi.Router) {
		r.Use(authctx.Middleware(params.TokenVerifier, params.Logger))

		r.Route("/inventory", params.InventoryHandler.MountRoutes)
		r.Route("/operations", params.OperationsHandler.MountRoutes)
		if params.MasterDataHandler != nil {
			r.Route("/masterdata", params.MasterDataHandler.MountRoutes)
		}
		if params.RBACHandler != nil {
			r.Route("/admin", params.RBACHandler.MountRoutes)
		}
		if params.TokenHandler != nil {
			r.Route("/auth", params.TokenHandler.MountRoutes)
		}
		if params.JobsHandler != nil {
			r.Route("/jobs", params.JobsHandler.MountRoutes)
		}
	})

	return r
}
