package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pricebook/pricebook/internal/observability"
	"github.com/pricebook/pricebook/internal/platform/httpx"
	"github.com/pricebook/pricebook/internal/pricing"
	"github.com/pricebook/pricebook/internal/rbac"
	"github.com/pricebook/pricebook/internal/users"
)

// Mounter attaches routes under a prefix.
type Mounter interface {
	MountRoutes(r chi.Router)
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	RBACMiddleware     rbac.Middleware
	PricingHandler     *pricing.Handler
	UsersHandler       *users.Handler
	PermissionsHandler *rbac.PermissionsHandler
	// JobHandler serves /jobs; nil when no queue is configured.
	JobHandler Mounter
	Metrics    *observability.Metrics
}

// NewRouter constructs the chi.Router with pricebook defaults.
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
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api", func(r chi.Router) {
		if params.PermissionsHandler != nil {
			r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		}
		r.Group(func(r chi.Router) {
			r.Use(params.RBACMiddleware.Authenticate)
			if params.UsersHandler != nil {
				r.Route("/me", params.UsersHandler.MountMeRoutes)
				r.Route("/users", params.UsersHandler.MountRoutes)
			}
			if params.PricingHandler != nil {
				r.Route("/records", params.PricingHandler.MountRecordRoutes)
				r.Route("/imports", params.PricingHandler.MountImportRoutes)
				r.Route("/stats", params.PricingHandler.MountStatsRoutes)
			}
		})
	})

	return r
}
