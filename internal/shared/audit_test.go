package shared

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var auditAt = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

func TestTransitionAudit(t *testing.T) {
	ref := DocumentRef{Kind: DocPutAway, ID: 42}
	got := TransitionAudit(7, "PUTAWAY_POST", ref, "PA-202501-0001", "POSTED", auditAt)
	require.Equal(t, AuditLog{
		ActorID:  7,
		Action:   "PUTAWAY_POST",
		Entity:   "PUT_AWAY",
		EntityID: "42",
		Meta:     map[string]any{"number": "PA-202501-0001", "status": "POSTED"},
		At:       auditAt,
	}, got)
}

func TestMovementAudit(t *testing.T) {
	ref := DocumentRef{Kind: DocPickingOrder, ID: 9}
	got := MovementAudit(3, 500, "out", 100, decimal.RequireFromString("2.5"), ref, auditAt)
	require.Equal(t, "inventory:out", got.Action)
	require.Equal(t, MovementEntity, got.Entity)
	require.Equal(t, "500", got.EntityID)
	require.Equal(t, int64(3), got.ActorID)
	require.Equal(t, map[string]any{
		"item_id":        int64(100),
		"qty":            "2.5",
		"reference_type": "PICKING_ORDER",
		"reference_id":   int64(9),
	}, got.Meta)
}

type failingAudit struct{ calls int }

func (f *failingAudit) Record(context.Context, AuditLog) error {
	f.calls++
	return errors.New("audit store down")
}

func TestRecordAfterCommitOutsideTx(t *testing.T) {
	ctx := context.Background()
	entry := EntityAudit(1, "AP_PAYMENT_RECORD", "invoice_payment", 11, nil, auditAt)

	mem := &MemoryAudit{}
	RecordAfterCommit(ctx, mem, nil, entry)
	require.Equal(t, []AuditLog{entry}, mem.Logs())

	failing := &failingAudit{}
	require.NotPanics(t, func() { RecordAfterCommit(ctx, failing, nil, entry) })
	require.Equal(t, 1, failing.calls)

	require.NotPanics(t, func() { RecordAfterCommit(ctx, nil, nil, entry) })
}
