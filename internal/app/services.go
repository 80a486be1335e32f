package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wattshare/wattshare/internal/billing"
	"github.com/wattshare/wattshare/internal/cycle"
	"github.com/wattshare/wattshare/internal/estimation"
	"github.com/wattshare/wattshare/internal/observability"
	"github.com/wattshare/wattshare/internal/settings"
	"github.com/wattshare/wattshare/internal/settlement"
	"github.com/wattshare/wattshare/internal/unitbill"
)

// Services bundles the billing services shared by the API and the worker.
type Services struct {
	Cycle      *cycle.Service
	UnitBills  *unitbill.Service
	Settlement *settlement.Service
}

// NewServices wires the billing services over a single store. redisClient may
// be nil, in which case settings are read straight from the database.
func NewServices(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics, logger *slog.Logger) Services {
	return buildServices(cfg, billing.NewRepository(pool), settingsProvider(cfg, pool, redisClient, logger), metrics, logger)
}

func settingsProvider(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger) settings.Provider {
	store := settings.NewStore(pool)
	if redisClient == nil {
		return store
	}
	return settings.NewCache(store, redisClient, cfg.SettingsCacheTTL, logger)
}

func buildServices(cfg *Config, store billing.Store, provider settings.Provider, metrics *observability.Metrics, logger *slog.Logger) Services {
	billingMetrics := metrics.Billing()
	estimator := estimation.New(estimation.WithWindow(cfg.EstimationWindow))
	return Services{
		Cycle: cycle.NewService(store, logger,
			cycle.WithSettings(provider),
			cycle.WithCutoffDay(cfg.MeterCutoffDay),
			cycle.WithMetrics(billingMetrics),
		),
		UnitBills: unitbill.NewService(store, logger, billingMetrics),
		Settlement: settlement.NewService(store, estimator, logger,
			settlement.WithSettings(provider),
			settlement.WithCutoffDay(cfg.MeterCutoffDay),
			settlement.WithMetrics(billingMetrics),
		),
	}
}
