package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-scm/internal/notify"
)

// Queue names served by the worker.
const (
	QueueDefault       = "default"
	QueueMaintenance   = "maintenance"
	QueueNotifications = notify.QueueName
)

// Task types handled by the worker.
const (
	TaskApprovalReminder   = "approval:reminder"
	TaskStockVerify        = "inventory:verify_balances"
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// ReminderPayload optionally overrides the staleness threshold of one scan.
type ReminderPayload struct {
	OlderThan time.Duration `json:"older_than,omitempty"`
}

// NewApprovalReminderTask builds the reminder scan task.
func NewApprovalReminderTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(ReminderPayload{OlderThan: olderThan})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskApprovalReminder, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// StockVerifyPayload carries scheduling metadata.
type StockVerifyPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewStockVerifyTask builds the balance verification task.
func NewStockVerifyTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(StockVerifyPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockVerify, body, asynq.Queue(QueueMaintenance)), nil
}

// CleanupPayload sets the retention of processed idempotency keys.
type CleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyCleanupTask builds the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(CleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueMaintenance)), nil
}
