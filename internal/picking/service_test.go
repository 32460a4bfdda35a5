package picking_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-scm/internal/masterdata"
	"github.com/odyssey-erp/odyssey-scm/internal/notify"
	"github.com/odyssey-erp/odyssey-scm/internal/picking"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
	"github.com/odyssey-erp/odyssey-scm/internal/testing/fixture"
)

func line(item, loc int64, qty string) picking.LineInput {
	return picking.LineInput{ItemID: item, UOMID: fixture.UOMPcs, SourceLocationID: loc, Qty: fixture.Qty(qty)}
}

func TestPostIsAllOrNothing(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	w.StockIn(t, fixture.ItemBolt, fixture.LocShelfA, "5")
	w.StockIn(t, fixture.ItemWidget, fixture.LocShelfB, "10")
	before := len(w.InventoryRepo.Movements())

	o, err := w.Picking.CreateDraft(ctx, fixture.Warehouse, picking.CreateInput{
		WarehouseID: fixture.WarehouseMain,
		Reference:   "SO-1",
		Lines: []picking.LineInput{
			line(fixture.ItemWidget, fixture.LocShelfB, "2"),
			line(fixture.ItemBolt, fixture.LocShelfA, "4"),
			line(fixture.ItemBolt, fixture.LocShelfA, "2"),
		},
	})
	require.NoError(t, err)
	require.Equal(t, "PK-202501-0001", o.Number)

	_, err = w.Picking.Post(ctx, fixture.Warehouse, o.ID)
	var derr *shared.Error
	require.ErrorAs(t, err, &derr)
	require.Empty(t, derr.Field("lines.0.qty"))
	require.NotEmpty(t, derr.Field("lines.1.qty"))
	require.NotEmpty(t, derr.Field("lines.2.qty"))
	require.Len(t, w.InventoryRepo.Movements(), before)

	got, err := w.Picking.Get(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, picking.StatusDraft, got.Status)
}

func TestPostWritesOutboundMovements(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	w.StockIn(t, fixture.ItemBolt, fixture.LocShelfA, "5")

	o, err := w.Picking.CreateDraft(ctx, fixture.Warehouse, picking.CreateInput{
		WarehouseID: fixture.WarehouseMain,
		Lines:       []picking.LineInput{line(fixture.ItemBolt, fixture.LocShelfA, "3"), line(fixture.ItemBolt, fixture.LocShelfA, "2")},
	})
	require.NoError(t, err)
	posted, err := w.Picking.Post(ctx, fixture.Warehouse, o.ID)
	require.NoError(t, err)
	require.Equal(t, picking.StatusPosted, posted.Status)

	movements := w.InventoryRepo.Movements()
	require.Len(t, movements, 3)
	for _, mv := range movements[1:] {
		require.Nil(t, mv.DestinationLocationID)
		require.Equal(t, fixture.LocShelfA, *mv.SourceLocationID)
		require.Equal(t, shared.DocPickingOrder, mv.ReferenceType)
	}
	onHand, err := w.Inventory.GetOnHandForLocation(ctx, fixture.LocShelfA, fixture.ItemBolt, nil)
	require.NoError(t, err)
	require.True(t, onHand.IsZero())

	_, err = w.Picking.Post(ctx, fixture.Warehouse, o.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = w.Picking.Cancel(ctx, fixture.Warehouse, o.ID, "")
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestPostToleratesRoundingResidue(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	w.StockIn(t, fixture.ItemBolt, fixture.LocShelfA, "1")

	o, err := w.Picking.CreateDraft(ctx, fixture.Warehouse, picking.CreateInput{
		WarehouseID: fixture.WarehouseMain,
		Lines:       []picking.LineInput{line(fixture.ItemBolt, fixture.LocShelfA, "1.0000000001")},
	})
	require.NoError(t, err)
	_, err = w.Picking.Post(ctx, fixture.Warehouse, o.ID)
	require.NoError(t, err)
}

func TestCreateDraftValidatesSourceLocation(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()

	_, err := w.Picking.CreateDraft(ctx, fixture.Warehouse, picking.CreateInput{
		WarehouseID: fixture.WarehouseMain,
		Lines: []picking.LineInput{
			line(fixture.ItemBolt, fixture.LocReceiving, "1"),
			line(fixture.ItemBolt, fixture.LocInactiveShelf, "1"),
			line(fixture.ItemBolt, fixture.LocOtherShelf, "1"),
			line(404, fixture.LocShelfA, "1"),
		},
	})
	var derr *shared.Error
	require.ErrorAs(t, err, &derr)
	require.NotEmpty(t, derr.Field("lines.0.source_location_id"))
	require.NotEmpty(t, derr.Field("lines.1.source_location_id"))
	require.NotEmpty(t, derr.Field("lines.2.source_location_id"))
	require.NotEmpty(t, derr.Field("lines.3.item_id"))

	_, err = w.Picking.CreateDraft(ctx, fixture.Requester, picking.CreateInput{})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestPostRevalidatesLocation(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	w.StockIn(t, fixture.ItemBolt, fixture.LocShelfA, "5")
	o, err := w.Picking.CreateDraft(ctx, fixture.Warehouse, picking.CreateInput{
		WarehouseID: fixture.WarehouseMain,
		Lines:       []picking.LineInput{line(fixture.ItemBolt, fixture.LocShelfA, "1")},
	})
	require.NoError(t, err)

	w.Lookup.PutLocation(masterdata.Location{ID: fixture.LocShelfA, WarehouseID: fixture.WarehouseMain, Code: "A-01", Type: masterdata.LocationStorage})
	_, err = w.Picking.Post(ctx, fixture.Warehouse, o.ID)
	var derr *shared.Error
	require.ErrorAs(t, err, &derr)
	require.NotEmpty(t, derr.Field("lines.0.source_location_id"))
}

func TestPostRaisesLowStockAlert(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	w.StockIn(t, fixture.ItemWidget, fixture.LocShelfA, "6")

	o, err := w.Picking.CreateDraft(ctx, fixture.Warehouse, picking.CreateInput{
		WarehouseID: fixture.WarehouseMain,
		Lines:       []picking.LineInput{line(fixture.ItemWidget, fixture.LocShelfA, "2")},
	})
	require.NoError(t, err)
	_, err = w.Picking.Post(ctx, fixture.Warehouse, o.ID)
	require.NoError(t, err)

	alerts := w.Notifier.OfType(notify.LowStockAlert)
	require.Len(t, alerts, 1)
	require.Equal(t, shared.RoleWarehouse, alerts[0].Recipient.Role)
}
