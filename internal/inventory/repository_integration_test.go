package inventory_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-scm/internal/inventory"
	"github.com/odyssey-erp/odyssey-scm/internal/masterdata"
	"github.com/odyssey-erp/odyssey-scm/internal/platform/db"
	"github.com/odyssey-erp/odyssey-scm/internal/platform/db/dbtest"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

func TestRepositoryLedgerMatchesCache(t *testing.T) {
	pool := dbtest.StartPostgres(t)
	dbtest.Exec(t, pool, `INSERT INTO uoms (id, code, name) VALUES (1, 'PCS', 'Pieces')`)
	dbtest.Exec(t, pool, `INSERT INTO items (id, code, name) VALUES (1, 'BOLT', 'Bolt')`)
	dbtest.Exec(t, pool, `INSERT INTO warehouses (id, code, name) VALUES (1, 'WH1', 'Main')`)
	dbtest.Exec(t, pool, `INSERT INTO warehouse_locations (id, warehouse_id, code, name, type, is_default) VALUES
(1, 1, 'RCV', 'Receiving', 'RECEIVING', TRUE), (2, 1, 'A1', 'Shelf A1', 'STORAGE', FALSE)`)

	svc := inventory.NewService(inventory.NewRepository(pool), masterdata.NewRepository(pool), nil, nil, inventory.ServiceConfig{})
	ctx := context.Background()
	uom, recv, shelf := int64(1), int64(1), int64(2)

	err := db.WithTx(ctx, pool, func(ctx context.Context) error {
		if _, err := svc.CreateMovement(ctx, inventory.MovementInput{ItemID: 1, UOMID: &uom, DestinationLocationID: &recv,
			Qty: decimal.NewFromInt(5), ReferenceType: shared.DocGoodsReceipt, ReferenceID: 1, ActorID: 1}); err != nil {
			return err
		}
		_, err := svc.CreateMovement(ctx, inventory.MovementInput{ItemID: 1, UOMID: &uom, SourceLocationID: &recv, DestinationLocationID: &shelf,
			Qty: decimal.NewFromInt(5), ReferenceType: shared.DocPutAway, ReferenceID: 1, ActorID: 1})
		return err
	})
	require.NoError(t, err)

	recvQty, err := svc.GetOnHandForLocation(ctx, recv, 1, &uom)
	require.NoError(t, err)
	require.True(t, recvQty.IsZero())

	drifts, err := svc.VerifyBalances(ctx)
	require.NoError(t, err)
	require.Empty(t, drifts)

	var rows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_balances WHERE location_id=$1`, recv).Scan(&rows))
	require.Zero(t, rows)
}
