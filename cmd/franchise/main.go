package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/franchise-tracker/internal/access"
	"github.com/odyssey-erp/franchise-tracker/internal/app"
	"github.com/odyssey-erp/franchise-tracker/internal/changefeed"
	"github.com/odyssey-erp/franchise-tracker/internal/changefeed/sse"
	"github.com/odyssey-erp/franchise-tracker/internal/identity"
	"github.com/odyssey-erp/franchise-tracker/internal/ledger"
	"github.com/odyssey-erp/franchise-tracker/internal/observability"
	"github.com/odyssey-erp/franchise-tracker/internal/platform/cache"
	"github.com/odyssey-erp/franchise-tracker/internal/platform/db"
	"github.com/odyssey-erp/franchise-tracker/internal/profitshare"
	"github.com/odyssey-erp/franchise-tracker/internal/revenue"
	"github.com/odyssey-erp/franchise-tracker/internal/tenants"
	"github.com/odyssey-erp/franchise-tracker/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
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
	metrics := observability.NewMetrics()
	loc := cfg.LedgerLocation()

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, ApplicationName: "franchise-api"})
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
	accessService := access.NewService(
		access.NewRepository(pool),
		tenantsService,
		cache.NewJSONCache(redisClient, "franchise:scope", cfg.ScopeCacheTTL, logger),
		publisher, logger,
	)
	tenantsService.SetScopeInvalidator(accessService)
	if err := accessService.Bootstrap(ctx, cfg.BootstrapSuperAdmins); err != nil {
		logger.Error("bootstrap super admins", slog.Any("error", err))
		os.Exit(1)
	}

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, publisher, loc, logger)

	aggregator := revenue.NewAggregator(ledgerRepo, loc, logger)
	revenueService := revenue.NewService(aggregator)

	profitRepo := profitshare.NewRepository(pool)
	resolver := profitshare.NewResolver(
		profitRepo,
		cache.NewJSONCache(redisClient, "franchise:profitshare", cfg.OverrideCacheTTL, logger),
		logger,
	)
	calculator := profitshare.NewCalculator(profitRepo, aggregator, resolver, publisher, profitshare.NewMetrics(metrics.Registerer()), logger)
	calculator.WithConcurrency(cfg.RecalcConcurrency)
	ledgerService.WithRecalcTrigger(calculator)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	profitService := profitshare.NewService(profitRepo, calculator, resolver, publisher, logger)
	profitService.WithEnqueuer(jobClient)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Verifier:           identity.NewVerifier(cfg.IdentityJWTSecret, cfg.IdentityIssuer),
		ScopeResolver:      accessService,
		TenantsHandler:     tenants.NewHandler(logger, tenantsService),
		AccessHandler:      access.NewHandler(logger, accessService),
		LedgerHandler:      ledger.NewHandler(logger, ledgerService, loc),
		RevenueHandler:     revenue.NewHandler(logger, revenueService, loc),
		ProfitShareHandler: profitshare.NewHandler(logger, profitService),
		ChangesHandler: sse.NewHandler(sse.Config{
			Source:    changefeed.NewRedisSource(redisClient),
			Retry:     cfg.ChangefeedRetry,
			Heartbeat: cfg.ChangefeedHeartbeat,
			Metrics:   changefeed.NewMetrics(metrics.Registerer()),
			Logger:    logger,
		}),
		JobHandler: jobs.NewHandler(inspector, logger),
		Metrics:    metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("ledger_tz", loc.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
