package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/odyssey-erp/pettycash/internal/jobs"
	"github.com/odyssey-erp/pettycash/internal/pettycash"
	"github.com/odyssey-erp/pettycash/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// BalanceReader recomputes a fund balance.
type BalanceReader interface {
	FundBalance(ctx context.Context, fundID int64) (decimal.Decimal, error)
}

// AuditRecorder stores audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// FundClosedJob settles the follow-up of a committed fund closure: it warms
// the now-empty balance and records the notification in the audit trail.
type FundClosedJob struct {
	Balances BalanceReader
	Audit    AuditRecorder
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewFundClosedJob wires dependencies for the fund closed handler.
func NewFundClosedJob(balances BalanceReader, audit AuditRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *FundClosedJob {
	return &FundClosedJob{
		Balances: balances,
		Audit:    audit,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskFundClosed tasks.
func (j *FundClosedJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("fund closed: handler not configured")
	}
	var event pettycash.FundClosedEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil || event.FundID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskFundClosed)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("fund_id", event.FundID))
	if j.Balances != nil {
		balance, err := j.Balances.FundBalance(ctx, event.FundID)
		if err != nil {
			resultErr = err
			logger.Error("warm closed fund balance", slog.Any("error", err))
			return resultErr
		}
		logger = logger.With(slog.String("balance", balance.StringFixed(2)))
	}
	if j.Audit != nil {
		if err := j.Audit.Record(ctx, shared.AuditLog{
			ActorID:  event.ClosedBy,
			Action:   "pettycash.fund.close.notified",
			Entity:   "petty_cash_fund",
			EntityID: strconv.FormatInt(event.FundID, 10),
			Meta: map[string]any{
				"name":      event.Name,
				"move_id":   event.MoveID,
				"amount":    event.Amount,
				"closed_at": event.ClosedAt.Format(time.RFC3339),
			},
			At: j.now(),
		}); err != nil {
			resultErr = err
			logger.Error("record fund closed notification", slog.Any("error", err))
			return resultErr
		}
	}
	logger.Info("petty cash fund closed", slog.String("name", event.Name), slog.String("amount", event.Amount), slog.Int64("move_id", event.MoveID))
	return resultErr
}

func (j *FundClosedJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskFundClosed))
	}
	return slog.Default().With(slog.String("job", TaskFundClosed))
}

func (j *FundClosedJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *FundClosedJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
