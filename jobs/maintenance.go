package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-scm/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-scm/internal/jobs"
)

// DefaultIdempotencyRetention bounds how long idempotency keys are kept.
const DefaultIdempotencyRetention = 30 * 24 * time.Hour

// BalanceVerifier compares cached balances with the ledger.
type BalanceVerifier interface {
	VerifyBalances(ctx context.Context) ([]inventory.Drift, error)
}

// StockVerifyJob reports cached balance rows that disagree with the ledger.
type StockVerifyJob struct {
	Inventory BalanceVerifier
	Metrics   *jobmetrics.Metrics
	Logger    *slog.Logger
}

// Run verifies balances and logs every drift found.
func (j *StockVerifyJob) Run(ctx context.Context) ([]inventory.Drift, error) {
	drifts, err := j.Inventory.VerifyBalances(ctx)
	if err != nil {
		return nil, err
	}
	logger := loggerOr(j.Logger)
	for _, d := range drifts {
		logger.Warn("stock balance drift",
			slog.Int64("location_id", d.Key.LocationID),
			slog.Int64("item_id", d.Key.ItemID),
			slog.Int64("uom_id", d.Key.UOMID),
			slog.String("ledger", d.Ledger.String()),
			slog.String("cached", d.Cached.String()),
		)
	}
	logger.Info("stock balances verified", slog.Int("drifts", len(drifts)))
	return drifts, nil
}

// ProcessTask handles TaskStockVerify.
func (j *StockVerifyJob) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	tracker := j.Metrics.Track(TaskStockVerify)
	_, err := j.Run(ctx)
	return tracker.End(err)
}

// Cleaner drops idempotency keys older than a retention window.
type Cleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob prunes expired idempotency keys.
type IdempotencyCleanupJob struct {
	Store     Cleaner
	Retention time.Duration
	Metrics   *jobmetrics.Metrics
	Logger    *slog.Logger
}

// Run deletes keys older than retention, falling back to the job default.
func (j *IdempotencyCleanupJob) Run(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = j.Retention
	}
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	removed, err := j.Store.Cleanup(ctx, retention)
	if err != nil {
		return 0, fmt.Errorf("idempotency cleanup: %w", err)
	}
	loggerOr(j.Logger).Info("idempotency keys pruned", slog.Int64("removed", removed), slog.Duration("retention", retention))
	return removed, nil
}

// ProcessTask handles TaskIdempotencyCleanup.
func (j *IdempotencyCleanupJob) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload CleanupPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("idempotency cleanup: payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	_, err := j.Run(ctx, payload.Retention)
	return tracker.End(err)
}

func loggerOr(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
