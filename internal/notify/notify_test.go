package notify

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

func TestEventRoundTripThroughTask(t *testing.T) {
	evt := NewEvent(ApprovalRequired, shared.DocumentRef{Kind: shared.DocPurchaseOrder, ID: 7}, "PO-202501-0001",
		ToRole(shared.RoleFinance), time.Date(2025, 1, 3, 8, 0, 0, 0, time.UTC)).With("step", "finance")

	task, err := NewDeliverTask(evt)
	require.NoError(t, err)
	require.Equal(t, TaskDeliver, task.Type())

	decoded, err := Decode(task.Payload())
	require.NoError(t, err)
	require.Equal(t, evt.ID, decoded.ID)
	require.Equal(t, "finance", decoded.Payload["step"])
	require.Equal(t, shared.RoleFinance, decoded.Recipient.Role)
}

func TestEventValidateRequiresRecipient(t *testing.T) {
	evt := NewEvent(DocumentApproved, shared.DocumentRef{Kind: shared.DocPurchaseRequest, ID: 1}, "PR-1", Recipient{}, time.Now())
	require.Error(t, evt.Validate())
	_, err := NewDeliverTask(evt)
	require.Error(t, err)
}

func TestAfterCommitOutsideTransactionDispatchesImmediately(t *testing.T) {
	rec := &Recorder{}
	evt := NewEvent(DocumentRejected, shared.DocumentRef{Kind: shared.DocPurchaseRequest, ID: 2}, "PR-2", ToUser(5), time.Now())
	AfterCommit(context.Background(), rec, nil, evt)
	require.Len(t, rec.OfType(DocumentRejected), 1)
	AfterCommit(context.Background(), nil, nil, evt)
}

func TestRenderFormatsAmountsWithGrouping(t *testing.T) {
	r := NewRenderer(language.English)
	evt := NewEvent(DocumentApproved, shared.DocumentRef{Kind: shared.DocSupplierInvoice, ID: 9}, "SI-202501-0001",
		ToUser(3), time.Now()).With("amount", decimal.NewFromInt(1000000))
	msg := r.Render(evt)
	require.Equal(t, "SI-202501-0001 approved", msg.Subject)
	require.Contains(t, msg.Body, "1,000,000.00")

	low := NewEvent(LowStockAlert, shared.DocumentRef{Kind: shared.DocPickingOrder, ID: 1}, "", ToRole(shared.RoleWarehouse), time.Now()).
		With("item_code", "SKU-1").With("on_hand", "4").With("reorder_level", decimal.NewFromInt(10))
	msg = r.Render(low)
	require.Contains(t, msg.Body, "SKU-1")
	require.Contains(t, msg.Body, "4.00")
}
