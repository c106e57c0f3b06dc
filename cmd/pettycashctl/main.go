package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/odyssey-erp/pettycash/cmd/pettycashctl/cli"
	"github.com/odyssey-erp/pettycash/internal/accounting"
	"github.com/odyssey-erp/pettycash/internal/app"
	"github.com/odyssey-erp/pettycash/internal/pettycash"
	"github.com/odyssey-erp/pettycash/internal/platform/cache"
	"github.com/odyssey-erp/pettycash/internal/platform/db"
	"github.com/odyssey-erp/pettycash/internal/rbac"
	"github.com/odyssey-erp/pettycash/internal/shared"
	"github.com/odyssey-erp/pettycash/jobs"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		return 1
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	redisOpts := cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	redisClient, err := cache.New(ctx, redisOpts)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		return 1
	}
	defer redisClient.Close()

	jobClient, err := jobs.NewClient(redisOpts.AsynqOpt())
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		return 1
	}
	defer jobClient.Close()

	jobsCLI := cli.NewJobsCLI(redisOpts.AsynqOpt())
	defer jobsCLI.Close()

	auditLogger := shared.NewAuditLogger(pool)
	rbacService := rbac.NewService(pool)
	fundService := pettycash.NewService(
		pettycash.NewRepository(pool),
		accounting.NewService(accounting.NewRepository(pool), auditLogger),
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
		WithLogger(logger)

	root := cli.NewRootCommand(cli.Deps{
		Funds:        fundService,
		Roles:        rbacService,
		Jobs:         jobsCLI,
		ManagerGroup: cfg.FinanceManagerGroup,
	})
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}
