package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/apotek-pos/apotek-pos/internal/app"
	"github.com/apotek-pos/apotek-pos/internal/batch"
	"github.com/apotek-pos/apotek-pos/internal/platform/db"
	"github.com/apotek-pos/apotek-pos/internal/products"
	"github.com/apotek-pos/apotek-pos/internal/shared"
	"github.com/apotek-pos/apotek-pos/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	auditLogger := shared.NewAuditLogger(pool)
	batchRepo := batch.NewRepository(pool)

	productsRepo := products.NewRepository(pool)
	productsCache := products.NewCache(redisClient, cfg.AvailabilityCacheTTL)
	productsService := products.NewService(logger, productsRepo, batchRepo, productsCache)

	batchService := batch.NewService(logger, batchRepo, auditLogger, productsService)
	batchJobs := jobs.NewBatchJobs(logger, batchService, productsRepo)

	sweepTask, err := jobs.NewExpirySweepTask(time.Now())
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	alertTask, err := jobs.NewExpiryAlertTask(cfg.ExpiryAlertWindow)
	if err != nil {
		logger.Error("build alert task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Batch:     batchJobs,
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ExpirySweepCron, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 1 * * *", Task: alertTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
