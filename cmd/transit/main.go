package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-transit/internal/app"
	"github.com/odyssey-erp/odyssey-transit/internal/catalog"
	"github.com/odyssey-erp/odyssey-transit/internal/followup"
	"github.com/odyssey-erp/odyssey-transit/internal/inventory"
	"github.com/odyssey-erp/odyssey-transit/internal/observability"
	"github.com/odyssey-erp/odyssey-transit/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-transit/internal/platform/db"
	"github.com/odyssey-erp/odyssey-transit/internal/resolution"
	"github.com/odyssey-erp/odyssey-transit/internal/shared"
	"github.com/odyssey-erp/odyssey-transit/internal/transfer"
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

	dbpool, err := db.New(ctx, db.Options{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns, ApplicationName: "transit"})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisOpts := cache.Options{Addr: cfg.RedisAddr, PoolSize: cfg.RedisPoolSize}
	var redisClient *redis.Client
	if client, err := cache.New(ctx, redisOpts); err != nil {
		logger.Warn("redis unavailable, catalog cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	queueClient := asynq.NewClient(cache.QueueOpt(redisOpts))
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()
	publisher := followup.NewPublisher(queueClient, cfg.FollowUpQueue, logger)

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	metrics := observability.NewMetrics()

	items := catalog.NewCachedReader(catalog.NewRepository(dbpool), redisClient, cfg.CatalogCacheTTL, logger)

	inventoryRepo := inventory.NewRepository(dbpool)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, items, logger)

	transferService := transfer.NewService(transfer.NewRepository(dbpool), auditLogger, items, transfer.Options{
		Idempotency: idempotencyStore,
		FollowUp:    publisher,
		Metrics:     metrics.EngineMetrics(),
		Logger:      logger,
	})

	resolutionService := resolution.NewService(resolution.NewRepository(dbpool), auditLogger, resolution.Options{
		FollowUp: publisher,
		Metrics:  metrics.EngineMetrics(),
		Logger:   logger,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Metrics:           metrics,
		InventoryHandler:  inventory.NewHandler(logger, inventoryService),
		TransferHandler:   transfer.NewHandler(logger, transferService),
		ResolutionHandler: resolution.NewHandler(logger, resolutionService),
		Ready:             dbpool.Ping,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
