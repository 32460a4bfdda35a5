package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-scm/internal/approval"
	jobmetrics "github.com/odyssey-erp/odyssey-scm/internal/jobs"
	"github.com/odyssey-erp/odyssey-scm/internal/notify"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

const reminderLockKey = "odyssey:lock:approval-reminder"

// reminderNamespace seeds reminder event ids: one id per approval per day, so
// overlapping scans collapse in the notification deduper.
var reminderNamespace = uuid.MustParse("0b5f6f0e-3c2a-4d8e-9a47-5f1d2c7e8a10")

// StaleApprovals lists pending approvals older than a threshold.
type StaleApprovals interface {
	ListStalePending(ctx context.Context, olderThan time.Duration) ([]approval.Approval, error)
}

// ReminderJob re-notifies approvers of approvals left pending too long. A
// redis lock keeps concurrent worker replicas from scanning twice.
type ReminderJob struct {
	Approvals  StaleApprovals
	Locker     *redislock.Client
	Dispatcher notify.Dispatcher
	After      time.Duration
	LockTTL    time.Duration
	Clock      shared.Clock
	Metrics    *jobmetrics.Metrics
	Logger     *slog.Logger
}

// Run scans once and returns the number of reminders dispatched. It returns
// zero without error when another replica holds the scan lock.
func (j *ReminderJob) Run(ctx context.Context, olderThan time.Duration) (int, error) {
	if j == nil || j.Approvals == nil || j.Dispatcher == nil {
		return 0, errors.New("approval reminder: job not configured")
	}
	if olderThan <= 0 {
		olderThan = j.After
	}
	if olderThan <= 0 {
		olderThan = 48 * time.Hour
	}
	logger := j.logger()
	if j.Locker != nil {
		ttl := j.LockTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		lock, err := j.Locker.Obtain(ctx, reminderLockKey, ttl, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			logger.Info("approval reminder scan already running elsewhere")
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("approval reminder: obtain lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				logger.Warn("approval reminder: release lock", slog.Any("error", err))
			}
		}()
	}

	stale, err := j.Approvals.ListStalePending(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	clock := shared.ClockOrSystem(j.Clock)
	day := clock.Now().UTC().Format("2006-01-02")
	sent := 0
	for _, a := range stale {
		to := approval.Recipient(a)
		if to.UserID == nil && to.Role == "" {
			continue
		}
		evt := notify.NewEvent(notify.ApprovalReminder, a.Document, "", to, a.CreatedAt).
			With("approval_id", a.ID).
			With("step", a.StepName)
		evt.ID = uuid.NewSHA1(reminderNamespace, []byte(strconv.FormatInt(a.ID, 10)+":"+day))
		if err := j.Dispatcher.Dispatch(ctx, evt); err != nil {
			logger.Warn("dispatch approval reminder", slog.Int64("approval_id", a.ID), slog.Any("error", err))
			continue
		}
		sent++
	}
	j.Metrics.AddReminders(sent)
	logger.Info("approval reminders dispatched", slog.Int("count", sent), slog.Int("stale", len(stale)))
	return sent, nil
}

// ProcessTask runs a scan for TaskApprovalReminder.
func (j *ReminderJob) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ReminderPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("approval reminder: payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskApprovalReminder)
	_, err := j.Run(ctx, payload.OlderThan)
	return tracker.End(err)
}

func (j *ReminderJob) logger() *slog.Logger {
	return loggerOr(j.Logger)
}
