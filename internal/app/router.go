package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wattshare/wattshare/internal/cycle"
	"github.com/wattshare/wattshare/internal/observability"
	"github.com/wattshare/wattshare/internal/platform/httpx"
	"github.com/wattshare/wattshare/internal/settlement"
	"github.com/wattshare/wattshare/internal/unitbill"
	"github.com/wattshare/wattshare/jobs"
)

// Pinger reports dependency readiness for /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Metrics           *observability.Metrics
	CycleHandler      *cycle.Handler
	UnitBillHandler   *unitbill.Handler
	SettlementHandler *settlement.Handler
	JobHandler        *jobs.Handler
	DB                Pinger
}

// NewRouter constructs the chi.Router with API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.DB.Ping(ctx); err != nil {
				params.Logger.Warn("readiness check failed", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Not Ready", "database unavailable")
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.CycleHandler != nil {
			params.CycleHandler.MountRoutes(r)
		}
		if params.UnitBillHandler != nil {
			params.UnitBillHandler.MountRoutes(r)
		}
		if params.SettlementHandler != nil {
			params.SettlementHandler.MountRoutes(r)
		}
		if params.JobHandler != nil {
			params.JobHandler.MountRoutes(r)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
