package putaway_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-scm/internal/inventory"
	"github.com/odyssey-erp/odyssey-scm/internal/procurement"
	"github.com/odyssey-erp/odyssey-scm/internal/putaway"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
	"github.com/odyssey-erp/odyssey-scm/internal/testing/fixture"
)

func receipt(t *testing.T, w *fixture.World, qty string) procurement.GoodsReceipt {
	t.Helper()
	po := w.ApprovedOrder(t, "1000", fixture.Line{Item: fixture.ItemBolt, UOM: fixture.UOMPcs, Qty: qty})
	return w.PostedReceipt(t, po, qty)
}

func draft(t *testing.T, w *fixture.World, gr procurement.GoodsReceipt, dest int64, qty string) putaway.PutAway {
	t.Helper()
	pa, err := w.PutAways.CreateDraft(context.Background(), fixture.Warehouse, putaway.CreateInput{
		GoodsReceiptID: gr.ID,
		Lines:          []putaway.LineInput{{GoodsReceiptLineID: gr.Lines[0].ID, DestinationLocationID: dest, Qty: fixture.Qty(qty)}},
	})
	require.NoError(t, err)
	return pa
}

func onHand(t *testing.T, w *fixture.World, loc int64) decimal.Decimal {
	t.Helper()
	q, err := w.Inventory.GetOnHandForLocation(context.Background(), loc, fixture.ItemBolt, nil)
	require.NoError(t, err)
	return q
}

func TestCreateDraftRejectsQuantityAboveRemaining(t *testing.T) {
	w := fixture.NewWorld(t)
	gr := receipt(t, w, "2")

	_, err := w.PutAways.CreateDraft(context.Background(), fixture.Warehouse, putaway.CreateInput{
		GoodsReceiptID: gr.ID,
		Lines:          []putaway.LineInput{{GoodsReceiptLineID: gr.Lines[0].ID, DestinationLocationID: fixture.LocShelfA, Qty: fixture.Qty("3")}},
	})
	var derr *shared.Error
	require.ErrorAs(t, err, &derr)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Len(t, derr.Field("lines.0.qty"), 1)
	require.Contains(t, derr.Field("lines.0.qty")[0], "exceeds remaining")

	_, err = w.PutAways.CreateDraft(context.Background(), fixture.Warehouse, putaway.CreateInput{
		GoodsReceiptID: gr.ID,
		Lines: []putaway.LineInput{
			{GoodsReceiptLineID: gr.Lines[0].ID, DestinationLocationID: fixture.LocShelfA, Qty: fixture.Qty("1.5")},
			{GoodsReceiptLineID: gr.Lines[0].ID, DestinationLocationID: fixture.LocShelfB, Qty: fixture.Qty("1")},
		},
	})
	require.ErrorAs(t, err, &derr)
	require.Empty(t, derr.Field("lines.0.qty"))
	require.NotEmpty(t, derr.Field("lines.1.qty"))
}

func TestCreateDraftValidatesDestination(t *testing.T) {
	w := fixture.NewWorld(t)
	gr := receipt(t, w, "4")
	cases := map[string]int64{
		"staging":         fixture.LocStaging,
		"inactive":        fixture.LocInactiveShelf,
		"other warehouse": fixture.LocOtherShelf,
		"missing":         999,
	}
	for name, loc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := w.PutAways.CreateDraft(context.Background(), fixture.Warehouse, putaway.CreateInput{
				GoodsReceiptID: gr.ID,
				Lines:          []putaway.LineInput{{GoodsReceiptLineID: gr.Lines[0].ID, DestinationLocationID: loc, Qty: fixture.Qty("1")}},
			})
			var derr *shared.Error
			require.ErrorAs(t, err, &derr)
			require.NotEmpty(t, derr.Field("lines.0.destination_location_id"))
		})
	}
}

func TestCreateDraftRequiresPostedReceiptAndRole(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	po := w.ApprovedOrder(t, "1000", fixture.Line{Item: fixture.ItemBolt, UOM: fixture.UOMPcs, Qty: "2"})
	gr, err := w.Procurement.CreateGoodsReceipt(ctx, fixture.Warehouse, procurement.CreateGRInput{
		PurchaseOrderID: po.ID,
		Lines:           []procurement.GRLineInput{{PurchaseOrderLineID: po.Lines[0].ID, Qty: fixture.Qty("2")}},
	})
	require.NoError(t, err)

	in := putaway.CreateInput{
		GoodsReceiptID: gr.ID,
		Lines:          []putaway.LineInput{{GoodsReceiptLineID: gr.Lines[0].ID, DestinationLocationID: fixture.LocShelfA, Qty: fixture.Qty("1")}},
	}
	_, err = w.PutAways.CreateDraft(ctx, fixture.Warehouse, in)
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = w.PutAways.CreateDraft(ctx, fixture.Purchasing, in)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestPostTransfersStockAndSyncsReceipt(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	gr := receipt(t, w, "4")

	first := draft(t, w, gr, fixture.LocShelfA, "1")
	posted, err := w.PutAways.Post(ctx, fixture.Warehouse, first.ID)
	require.NoError(t, err)
	require.Equal(t, putaway.StatusPosted, posted.Status)
	require.NotNil(t, posted.PostedAt)

	got, err := w.Procurement.GetGoodsReceipt(ctx, gr.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.GRStatusPutAwayPartial, got.Status)
	require.True(t, onHand(t, w, fixture.LocReceiving).Equal(fixture.Qty("3")))
	require.True(t, onHand(t, w, fixture.LocShelfA).Equal(fixture.Qty("1")))

	movements := w.InventoryRepo.Movements()
	last := movements[len(movements)-1]
	require.Equal(t, fixture.LocReceiving, *last.SourceLocationID)
	require.Equal(t, fixture.LocShelfA, *last.DestinationLocationID)
	require.Equal(t, shared.DocPutAway, last.ReferenceType)
	require.Equal(t, inventory.DirectionTransfer, last.Direction())

	second := draft(t, w, gr, fixture.LocShelfB, "3")
	_, err = w.PutAways.Post(ctx, fixture.Warehouse, second.ID)
	require.NoError(t, err)
	got, err = w.Procurement.GetGoodsReceipt(ctx, gr.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.GRStatusPutAwayCompleted, got.Status)
	require.True(t, onHand(t, w, fixture.LocReceiving).IsZero())

	remaining, err := w.PutAways.Remaining(ctx, gr.ID)
	require.NoError(t, err)
	require.True(t, remaining[gr.Lines[0].ID].IsZero())

	history, err := w.History.List(ctx, gr.Ref())
	require.NoError(t, err)
	before := len(history)
	_, changed, err := w.Procurement.SyncPutAwayStatus(ctx, fixture.Warehouse.UserID, gr.ID, remaining)
	require.NoError(t, err)
	require.False(t, changed)
	history, err = w.History.List(ctx, gr.Ref())
	require.NoError(t, err)
	require.Len(t, history, before)

	_, err = w.PutAways.CreateDraft(ctx, fixture.Warehouse, putaway.CreateInput{
		GoodsReceiptID: gr.ID,
		Lines:          []putaway.LineInput{{GoodsReceiptLineID: gr.Lines[0].ID, DestinationLocationID: fixture.LocShelfA, Qty: fixture.Qty("1")}},
	})
	var derr *shared.Error
	require.ErrorAs(t, err, &derr)
	require.NotEmpty(t, derr.Field("lines.0.qty"))

	drifts, err := w.Inventory.VerifyBalances(ctx)
	require.NoError(t, err)
	require.Empty(t, drifts)
}

func TestPostRechecksCapAgainstConcurrentDrafts(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	gr := receipt(t, w, "2")

	a := draft(t, w, gr, fixture.LocShelfA, "2")
	b := draft(t, w, gr, fixture.LocShelfB, "2")

	_, err := w.PutAways.Post(ctx, fixture.Warehouse, a.ID)
	require.NoError(t, err)
	movements := len(w.InventoryRepo.Movements())

	_, err = w.PutAways.Post(ctx, fixture.Warehouse, b.ID)
	var derr *shared.Error
	require.ErrorAs(t, err, &derr)
	require.NotEmpty(t, derr.Field("lines.0.qty"))
	require.Len(t, w.InventoryRepo.Movements(), movements)

	still, err := w.PutAways.Get(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, putaway.StatusDraft, still.Status)

	cancelled, err := w.PutAways.Cancel(ctx, fixture.Warehouse, b.ID, "duplicate")
	require.NoError(t, err)
	require.Equal(t, putaway.StatusCancelled, cancelled.Status)
	_, err = w.PutAways.Post(ctx, fixture.Warehouse, b.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	list, err := w.PutAways.ListByGoodsReceipt(ctx, gr.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestPostRequiresStockInReceiving(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	gr := receipt(t, w, "3")
	pa := draft(t, w, gr, fixture.LocShelfA, "3")

	src, uom := fixture.LocReceiving, fixture.UOMPcs
	_, err := w.Inventory.CreateMovement(ctx, inventory.MovementInput{
		ItemID:           fixture.ItemBolt,
		UOMID:            &uom,
		SourceLocationID: &src,
		Qty:              fixture.Qty("2"),
		ReferenceType:    shared.DocPickingOrder,
		ReferenceID:      1,
		ActorID:          fixture.Warehouse.UserID,
	})
	require.NoError(t, err)

	_, err = w.PutAways.Post(ctx, fixture.Warehouse, pa.ID)
	var derr *shared.Error
	require.ErrorAs(t, err, &derr)
	require.Contains(t, derr.Field("lines.0.qty")[0], "insufficient stock")
}

func TestPostRelocatesSerials(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	po := w.ApprovedOrder(t, "250", fixture.Line{Item: fixture.ItemScanner, UOM: fixture.UOMPcs, Qty: "2"})
	gr := w.PostedReceipt(t, po, "2", "SN-1", "SN-2")

	pa := draft(t, w, gr, fixture.LocShelfA, "1")
	_, err := w.PutAways.Post(ctx, fixture.Warehouse, pa.ID)
	require.NoError(t, err)

	units, err := w.Inventory.ListSerials(ctx, gr.Lines[0].ID)
	require.NoError(t, err)
	at := map[int64]int{}
	for _, u := range units {
		at[u.LocationID]++
	}
	require.Equal(t, map[int64]int{fixture.LocReceiving: 1, fixture.LocShelfA: 1}, at)
}
