package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/platform/db"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// MovementEntity is the audit entity of stock movements.
const MovementEntity = "stock_movement"

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log AuditLog) error
}

// EntityAudit builds an entry for a row that is not a workflow document,
// such as a payment or a matching config.
func EntityAudit(actorID int64, action, entity string, id int64, meta map[string]any, at time.Time) AuditLog {
	return AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       at,
	}
}

// DocumentAudit builds an entry keyed by the document kind and id.
func DocumentAudit(actorID int64, action string, ref DocumentRef, meta map[string]any, at time.Time) AuditLog {
	return EntityAudit(actorID, action, string(ref.Kind), ref.ID, meta, at)
}

// TransitionAudit records a document reaching status.
func TransitionAudit(actorID int64, action string, ref DocumentRef, number, status string, at time.Time) AuditLog {
	return DocumentAudit(actorID, action, ref, map[string]any{"number": number, "status": status}, at)
}

// MovementAudit builds the entry of one posted stock movement. Action is
// inventory:<direction>.
func MovementAudit(actorID, movementID int64, direction string, itemID int64, qty decimal.Decimal, ref DocumentRef, at time.Time) AuditLog {
	return EntityAudit(actorID, "inventory:"+direction, MovementEntity, movementID, map[string]any{
		"item_id":        itemID,
		"qty":            qty.String(),
		"reference_type": string(ref.Kind),
		"reference_id":   ref.ID,
	}, at)
}

// RecordAfterCommit writes entry once the ambient transaction commits. A nil
// recorder is a no-op and failures are logged, never returned.
func RecordAfterCommit(ctx context.Context, rec AuditRecorder, logger *slog.Logger, entry AuditLog) {
	if rec == nil {
		return
	}
	db.AfterCommit(ctx, func(ctx context.Context) {
		if err := rec.Record(ctx, entry); err != nil && logger != nil {
			logger.Warn("record audit", slog.String("action", entry.Action), slog.String("entity", entry.Entity),
				slog.String("entity_id", entry.EntityID), slog.Any("error", err))
		}
	})
}

// AuditLogger writes records into audit_logs, joining the ambient transaction.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = db.Conn(ctx, l.pool).Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}
