package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/pettycash/internal/jobs"
)

// BalanceRefresher recomputes the cached balances of active funds.
type BalanceRefresher interface {
	RefreshBalances(ctx context.Context) (int, error)
}

// BalanceRefreshJob keeps cached fund balances warm.
type BalanceRefreshJob struct {
	Service BalanceRefresher
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Timeout time.Duration
}

// NewBalanceRefreshJob wires dependencies for the refresh handler.
func NewBalanceRefreshJob(service BalanceRefresher, logger *slog.Logger, metrics *jobmetrics.Metrics) *BalanceRefreshJob {
	return &BalanceRefreshJob{Service: service, Logger: logger, Metrics: metrics, Timeout: 2 * time.Minute}
}

// Handle processes TaskBalanceRefresh tasks.
func (j *BalanceRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("balance refresh: handler not configured")
	}
	var payload BalanceRefreshPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskBalanceRefresh)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}

	logger := j.logger()
	if payload.Reason != "" {
		logger = logger.With(slog.String("reason", payload.Reason))
	}
	start := time.Now()
	count, err := j.Service.RefreshBalances(ctx)
	if err != nil {
		resultErr = err
		logger.Error("refresh fund balances", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddRefreshedBalances(count)
	logger.Info("refreshed fund balances", slog.Int("funds", count), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *BalanceRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskBalanceRefresh))
	}
	return slog.Default().With(slog.String("job", TaskBalanceRefresh))
}

func (j *BalanceRefreshJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
