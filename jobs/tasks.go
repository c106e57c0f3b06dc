package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/pettycash/internal/pettycash"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskFundClosed follows up a committed fund closure.
	TaskFundClosed = "pettycash:fund_closed"
	// TaskBalanceRefresh recomputes cached balances of active funds.
	TaskBalanceRefresh = "pettycash:balance_refresh"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "pettycash:idempotency_cleanup"
)

// BalanceRefreshPayload is the payload of TaskBalanceRefresh.
type BalanceRefreshPayload struct {
	Reason string `json:"reason,omitempty"`
}

// IdempotencyCleanupPayload is the payload of TaskIdempotencyCleanup.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// Retention returns the configured retention, defaulting to a week.
func (p IdempotencyCleanupPayload) Retention() time.Duration {
	if p.RetentionHours <= 0 {
		return 7 * 24 * time.Hour
	}
	return time.Duration(p.RetentionHours) * time.Hour
}

// NewFundClosedTask builds the follow-up task of a fund closure.
func NewFundClosedTask(event pettycash.FundClosedEvent) (*asynq.Task, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskFundClosed, data, asynq.MaxRetry(5)), nil
}

// NewBalanceRefreshTask builds a balance refresh task.
func NewBalanceRefreshTask(reason string) (*asynq.Task, error) {
	data, err := json.Marshal(BalanceRefreshPayload{Reason: reason})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBalanceRefresh, data), nil
}

// NewIdempotencyCleanupTask builds a cleanup task keeping keys for retention.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
