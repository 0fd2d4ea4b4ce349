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

	"github.com/apotek-pos/apotek-pos/internal/app"
	"github.com/apotek-pos/apotek-pos/internal/batch"
	"github.com/apotek-pos/apotek-pos/internal/ledger"
	"github.com/apotek-pos/apotek-pos/internal/platform/db"
	"github.com/apotek-pos/apotek-pos/internal/pos"
	"github.com/apotek-pos/apotek-pos/internal/products"
	"github.com/apotek-pos/apotek-pos/internal/shared"
	"github.com/apotek-pos/apotek-pos/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerHandler := ledger.NewHandler(logger, ledgerRepo)

	batchRepo := batch.NewRepository(pool)

	productsRepo := products.NewRepository(pool)
	productsCache := products.NewCache(redisClient, cfg.AvailabilityCacheTTL)
	productsService := products.NewService(logger, productsRepo, batchRepo, productsCache)
	productsHandler := products.NewHandler(logger, productsService)

	batchService := batch.NewService(logger, batchRepo, auditLogger, productsService)
	batchHandler := batch.NewHandler(logger, batchService)

	saleRepo := pos.NewPGRepository(pool)
	saleService := pos.NewService(logger, saleRepo, productsRepo, batchRepo, auditLogger, productsService)
	receiptPrinter := pos.NewReceiptPrinter(saleRepo, productsRepo, cfg.ShopName)
	saleHandler := pos.NewHandler(logger, saleService, receiptPrinter)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SaleHandler:     saleHandler,
		BatchHandler:    batchHandler,
		LedgerHandler:   ledgerHandler,
		ProductsHandler: productsHandler,
		JobsHandler:     jobsHandler,
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
