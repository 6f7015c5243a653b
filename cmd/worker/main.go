package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/franchise-tracker/internal/app"
	"github.com/odyssey-erp/franchise-tracker/internal/changefeed"
	jobmetrics "github.com/odyssey-erp/franchise-tracker/internal/jobs"
	"github.com/odyssey-erp/franchise-tracker/internal/ledger"
	"github.com/odyssey-erp/franchise-tracker/internal/platform/cache"
	"github.com/odyssey-erp/franchise-tracker/internal/platform/db"
	"github.com/odyssey-erp/franchise-tracker/internal/profitshare"
	"github.com/odyssey-erp/franchise-tracker/internal/revenue"
	"github.com/odyssey-erp/franchise-tracker/internal/tenants"
	"github.com/odyssey-erp/franchise-tracker/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
	loc := cfg.LedgerLocation()

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, ApplicationName: "franchise-worker"})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	publisher := changefeed.NewRedisPublisher(redisClient)
	tenantsService := tenants.NewService(
		tenants.NewRepository(pool),
		cache.NewJSONCache(redisClient, "franchise:directory", cfg.DirectoryCacheTTL, logger),
		publisher, nil, logger,
	)

	aggregator := revenue.NewAggregator(ledger.NewRepository(pool), loc, logger)
	profitRepo := profitshare.NewRepository(pool)
	resolver := profitshare.NewResolver(
		profitRepo,
		cache.NewJSONCache(redisClient, "franchise:profitshare", cfg.OverrideCacheTTL, logger),
		logger,
	)
	calculator := profitshare.NewCalculator(profitRepo, aggregator, resolver, publisher, profitshare.NewMetrics(prometheus.DefaultRegisterer), logger)
	calculator.WithConcurrency(cfg.RecalcConcurrency)
	profitService := profitshare.NewService(profitRepo, calculator, resolver, publisher, logger)

	recalcJob := jobs.NewRecalculateJob(calculator, profitService, tenantsService, loc, logger, jobmetrics.NewMetrics(nil))

	sweepTask, err := jobs.NewSweepMonthTask("")
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Location:    loc,
		Handlers:    recalcJob.Handlers(),
		Cron: []jobs.CronRegistration{
			{Spec: cfg.RecalcSweepCron, Task: sweepTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
