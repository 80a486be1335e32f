package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/wattshare/wattshare/internal/app"
	"github.com/wattshare/wattshare/internal/cycle"
	"github.com/wattshare/wattshare/internal/observability"
	"github.com/wattshare/wattshare/internal/platform/cache"
	"github.com/wattshare/wattshare/internal/platform/db"
	"github.com/wattshare/wattshare/internal/settlement"
	"github.com/wattshare/wattshare/internal/unitbill"
	"github.com/wattshare/wattshare/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{ApplicationName: "wattshare-api"})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	// The API still serves without Redis: settings fall back to the database
	// and async allocation is refused.
	var (
		redisClient *redis.Client
		enqueuer    cycle.Enqueuer
		jobHandler  *jobs.Handler
	)
	redisClient, err = cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
		queueClient := jobs.NewClient(cache.QueueOpts(cfg.RedisAddr))
		defer queueClient.Close()
		enqueuer = queueClient

		inspector := asynq.NewInspector(cache.QueueOpts(cfg.RedisAddr))
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	metrics := observability.NewMetrics()
	services := app.NewServices(cfg, dbpool, redisClient, metrics, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Metrics:           metrics,
		CycleHandler:      cycle.NewHandler(logger, services.Cycle, enqueuer),
		UnitBillHandler:   unitbill.NewHandler(logger, services.UnitBills),
		SettlementHandler: settlement.NewHandler(logger, services.Settlement),
		JobHandler:        jobHandler,
		DB:                dbpool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
