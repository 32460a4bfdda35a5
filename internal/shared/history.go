package shared

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-scm/internal/platform/db"
)

// Status history actions.
const (
	ActionCreate  = "create"
	ActionSubmit  = "submit"
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionCancel  = "cancel"
	ActionReopen  = "reopen"
	ActionPost    = "post"
	ActionClose   = "close"
	ActionConvert = "convert_to_po"
	ActionMatch   = "match"
	ActionPay     = "pay"
	ActionSync    = "sync"
)

// StatusHistory is one append-only transition record.
type StatusHistory struct {
	ID         int64
	Document   DocumentRef
	FromStatus string
	ToStatus   string
	Action     string
	ActorID    int64
	Meta       map[string]any
	At         time.Time
}

// ReplayStatus reconstructs the current status from ordered history.
// ok is false when an entry does not start from the status its predecessor left.
func ReplayStatus(entries []StatusHistory) (status string, ok bool) {
	for _, e := range entries {
		if status != "" && e.FromStatus != status {
			return status, false
		}
		status = e.ToStatus
	}
	return status, true
}

// HistoryRecorder persists status histories inside the ambient transaction.
// Rows are only ever inserted.
type HistoryRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewHistoryRecorder constructs HistoryRecorder.
func NewHistoryRecorder(pool *pgxpool.Pool, logger *slog.Logger) *HistoryRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryRecorder{pool: pool, logger: logger}
}

// Append writes a history entry.
func (r *HistoryRecorder) Append(ctx context.Context, entry StatusHistory) error {
	if r == nil {
		return errors.New("history recorder not initialised")
	}
	if entry.Document.Kind == "" || entry.Document.ID == 0 {
		return errors.New("history document required")
	}
	if entry.Action == "" || entry.ToStatus == "" {
		return errors.New("history action and to_status required")
	}
	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	var from *string
	if entry.FromStatus != "" {
		from = &entry.FromStatus
	}
	_, err = db.Conn(ctx, r.pool).Exec(ctx, `INSERT INTO status_histories (document_kind, document_id, from_status, to_status, action, actor_id, meta, at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, string(entry.Document.Kind), entry.Document.ID, from, entry.ToStatus, entry.Action, entry.ActorID, metaJSON, entry.At)
	if err != nil {
		r.logger.Error("record status history", slog.String("document", entry.Document.String()), slog.Any("error", err))
		return err
	}
	return nil
}

// List returns the history of a document ordered by insertion.
func (r *HistoryRecorder) List(ctx context.Context, ref DocumentRef) ([]StatusHistory, error) {
	if r == nil {
		return nil, errors.New("history recorder not initialised")
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, COALESCE(from_status, ''), to_status, action, actor_id, meta, at
FROM status_histories WHERE document_kind=$1 AND document_id=$2 ORDER BY id ASC`, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatusHistory
	for rows.Next() {
		h := StatusHistory{Document: ref}
		var metaJSON []byte
		if err := rows.Scan(&h.ID, &h.FromStatus, &h.ToStatus, &h.Action, &h.ActorID, &metaJSON, &h.At); err != nil {
			return nil, err
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &h.Meta); err != nil {
				return nil, err
			}
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
