package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/pettycash/internal/accounting"
	"github.com/odyssey-erp/pettycash/internal/app"
	jobmetrics "github.com/odyssey-erp/pettycash/internal/jobs"
	"github.com/odyssey-erp/pettycash/internal/pettycash"
	"github.com/odyssey-erp/pettycash/internal/platform/cache"
	"github.com/odyssey-erp/pettycash/internal/platform/db"
	"github.com/odyssey-erp/pettycash/internal/rbac"
	"github.com/odyssey-erp/pettycash/internal/shared"
	"github.com/odyssey-erp/pettycash/jobs"
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	accountingService := accounting.NewService(accounting.NewRepository(pool), auditLogger)

	fundService := pettycash.NewService(
		pettycash.NewRepository(pool),
		accountingService,
		rbac.NewService(pool),
		auditLogger,
		pettycash.ServiceConfig{
			ManagerPermission: cfg.FinanceManagerPermission,
			ManagerGroup:      cfg.FinanceManagerGroup,
			DefaultCompanyID:  cfg.DefaultCompanyID,
		},
	).
		WithCache(pettycash.NewCache(redisClient, cfg.BalanceCacheTTL)).
		WithLogger(logger)

	metrics := jobmetrics.NewMetrics(nil)
	fundClosedJob := jobs.NewFundClosedJob(fundService, auditLogger, logger, metrics)
	refreshJob := jobs.NewBalanceRefreshJob(fundService, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, logger, metrics)

	refreshTask, err := jobs.NewBalanceRefreshTask("schedule")
	if err != nil {
		logger.Error("build balance refresh task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build idempotency cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts.AsynqOpt(),
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskFundClosed, Handler: fundClosedJob.Handle},
			{Type: jobs.TaskBalanceRefresh, Handler: refreshJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.BalanceRefreshCron, Task: refreshTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
