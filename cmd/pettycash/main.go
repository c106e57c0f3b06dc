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

	"github.com/odyssey-erp/pettycash/internal/accounting"
	"github.com/odyssey-erp/pettycash/internal/app"
	"github.com/odyssey-erp/pettycash/internal/auth"
	"github.com/odyssey-erp/pettycash/internal/observability"
	"github.com/odyssey-erp/pettycash/internal/pettycash"
	pettycashhttp "github.com/odyssey-erp/pettycash/internal/pettycash/http"
	"github.com/odyssey-erp/pettycash/internal/platform/cache"
	"github.com/odyssey-erp/pettycash/internal/platform/db"
	"github.com/odyssey-erp/pettycash/internal/rbac"
	"github.com/odyssey-erp/pettycash/internal/shared"
	"github.com/odyssey-erp/pettycash/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	sessionManager := shared.NewSessionManager(redisClient, "pettycash_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	authHandler := auth.NewHandler(logger, authService, sessionManager)

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	accountingRepo := accounting.NewRepository(dbpool)
	accountingService := accounting.NewService(accountingRepo, auditLogger)

	rbacService := rbac.NewService(dbpool)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}

	metrics := observability.NewMetrics()

	jobClient, err := jobs.NewClient(redisOpts.AsynqOpt())
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	fundService := pettycash.NewService(
		pettycash.NewRepository(dbpool),
		accountingService,
		rbacService,
		auditLogger,
		pettycash.ServiceConfig{
			ManagerPermission: cfg.FinanceManagerPermission,
			ManagerGroup:      cfg.FinanceManagerGroup,
			DefaultCompanyID:  cfg.DefaultCompanyID,
		},
	).
		WithCache(pettycash.NewCache(redisClient, cfg.BalanceCacheTTL)).
		WithNotifier(jobClient).
		WithMetrics(metrics).
		WithLogger(logger)

	pettyCashHandler := pettycashhttp.NewHandler(logger, fundService, rbacMiddleware, idempotencyStore)

	inspector := asynq.NewInspector(redisOpts.AsynqOpt())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SessionManager:   sessionManager,
		AuthHandler:      authHandler,
		PettyCashHandler: pettyCashHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
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
