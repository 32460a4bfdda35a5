// Package fixture wires the in-memory stores of every module into a ready
// procurement world for tests.
package fixture

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-scm/internal/ap"
	"github.com/odyssey-erp/odyssey-scm/internal/approval"
	"github.com/odyssey-erp/odyssey-scm/internal/inventory"
	"github.com/odyssey-erp/odyssey-scm/internal/masterdata"
	"github.com/odyssey-erp/odyssey-scm/internal/notify"
	"github.com/odyssey-erp/odyssey-scm/internal/numbering"
	"github.com/odyssey-erp/odyssey-scm/internal/picking"
	"github.com/odyssey-erp/odyssey-scm/internal/platform/storage"
	"github.com/odyssey-erp/odyssey-scm/internal/procurement"
	"github.com/odyssey-erp/odyssey-scm/internal/putaway"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// Seeded master data ids.
const (
	WarehouseMain  int64 = 1
	WarehouseOther int64 = 2

	LocReceiving     int64 = 10
	LocShelfA        int64 = 11
	LocShelfB        int64 = 12
	LocStaging       int64 = 13
	LocInactiveShelf int64 = 14
	LocOtherShelf    int64 = 20
	LocOtherReceive  int64 = 21

	ItemBolt    int64 = 100
	ItemScanner int64 = 101
	ItemWidget  int64 = 102

	UOMPcs int64 = 1
	UOMBox int64 = 2

	SupplierAcme     int64 = 50
	SupplierInactive int64 = 51

	DeptOps      int64 = 3
	DeptNoHead   int64 = 4
	OpsHeadUser  int64 = 30
	RequesterID  int64 = 10
	PurchasingID int64 = 40
)

// Actors with the roles the services check.
var (
	Requester   = shared.StaticActor{UserID: RequesterID, Roles: []string{shared.RoleRequester}}
	DeptHead    = shared.StaticActor{UserID: OpsHeadUser, Roles: []string{shared.RoleRequester}}
	Purchasing  = shared.StaticActor{UserID: PurchasingID, Roles: []string{shared.RolePurchasing}}
	Finance     = shared.StaticActor{UserID: 41, Roles: []string{shared.RoleFinance}}
	GM          = shared.StaticActor{UserID: 42, Roles: []string{shared.RoleGM}}
	Director    = shared.StaticActor{UserID: 43, Roles: []string{shared.RoleDirector}}
	Warehouse   = shared.StaticActor{UserID: 44, Roles: []string{shared.RoleWarehouse}}
	FinanceHead = shared.StaticActor{UserID: 45, Roles: []string{shared.RoleFinance, shared.RoleDeptHead}}
	Outsider    = shared.StaticActor{UserID: 99}
)

// Clock is a settable test clock.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

// Now returns the current instant.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// World holds wired services over in-memory stores.
type World struct {
	Clock           *Clock
	Lookup          *masterdata.MemoryLookup
	Numbers         *numbering.Generator
	History         *shared.MemoryHistory
	Audit           *shared.MemoryAudit
	Notifier        *notify.Recorder
	InventoryRepo   *inventory.MemoryRepository
	Inventory       *inventory.Service
	ApprovalRepo    *approval.MemoryRepository
	Approvals       *approval.Service
	ProcurementRepo *procurement.MemoryRepository
	Procurement     *procurement.Service
	PutAwayRepo     *putaway.MemoryRepository
	PutAways        *putaway.Service
	PickingRepo     *picking.MemoryRepository
	Picking         *picking.Service
	Files           *storage.MemoryStore
	Idempotency     *shared.MemoryIdempotency
	APRepo          *ap.MemoryRepository
	AP              *ap.Service
}

type options struct {
	workflow string
	mode     inventory.BalanceMode
}

// Option customises NewWorld.
type Option func(*options)

// WithPOWorkflow drives purchase order approval through the generic engine.
func WithPOWorkflow(code string) Option {
	return func(o *options) { o.workflow = code }
}

// WithBalanceMode selects the balance cache strategy.
func WithBalanceMode(mode inventory.BalanceMode) Option {
	return func(o *options) { o.mode = mode }
}

// NewWorld seeds master data and wires every service.
func NewWorld(t testing.TB, opts ...Option) *World {
	t.Helper()
	o := options{mode: inventory.BalanceEager}
	for _, opt := range opts {
		opt(&o)
	}
	w := &World{
		Clock:           &Clock{t: time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)},
		Lookup:          SeedLookup(),
		History:         &shared.MemoryHistory{},
		Audit:           &shared.MemoryAudit{},
		Notifier:        &notify.Recorder{},
		InventoryRepo:   inventory.NewMemoryRepository(),
		ApprovalRepo:    approval.NewMemoryRepository(),
		ProcurementRepo: procurement.NewMemoryRepository(),
		PutAwayRepo:     putaway.NewMemoryRepository(),
		PickingRepo:     picking.NewMemoryRepository(),
		Files:           storage.NewMemoryStore(),
		Idempotency:     &shared.MemoryIdempotency{},
		APRepo:          ap.NewMemoryRepository(),
	}
	w.Numbers = numbering.NewGenerator(numbering.NewMemoryStore(), w.Clock)
	w.Inventory = inventory.NewService(w.InventoryRepo, w.Lookup, w.Audit, w.Notifier, inventory.ServiceConfig{BalanceMode: o.mode, Clock: w.Clock})
	w.Approvals = approval.NewService(w.ApprovalRepo, w.Lookup, w.Notifier, w.Clock, nil)
	w.Procurement = procurement.NewService(procurement.Deps{
		Repo:           w.ProcurementRepo,
		Lookup:         w.Lookup,
		Inventory:      w.Inventory,
		Numbers:        w.Numbers,
		History:        w.History,
		Audit:          w.Audit,
		Notifier:       w.Notifier,
		Approvals:      w.Approvals,
		Clock:          w.Clock,
		POWorkflowCode: o.workflow,
	})
	w.PutAways = putaway.NewService(putaway.Deps{
		Repo:      w.PutAwayRepo,
		Receipts:  w.Procurement,
		Inventory: w.Inventory,
		Lookup:    w.Lookup,
		Numbers:   w.Numbers,
		History:   w.History,
		Audit:     w.Audit,
		Clock:     w.Clock,
	})
	w.Picking = picking.NewService(picking.Deps{
		Repo:      w.PickingRepo,
		Inventory: w.Inventory,
		Lookup:    w.Lookup,
		Numbers:   w.Numbers,
		History:   w.History,
		Audit:     w.Audit,
		Clock:     w.Clock,
	})
	w.AP = ap.NewService(ap.Deps{
		Repo:        w.APRepo,
		Procurement: w.Procurement,
		Lookup:      w.Lookup,
		Files:       w.Files,
		Numbers:     w.Numbers,
		History:     w.History,
		Audit:       w.Audit,
		Idempotency: w.Idempotency,
		Notifier:    w.Notifier,
		Clock:       w.Clock,
	})
	return w
}

// SeedLookup returns the master data used across tests.
func SeedLookup() *masterdata.MemoryLookup {
	head := OpsHeadUser
	return masterdata.NewMemoryLookup().
		PutWarehouse(masterdata.Warehouse{ID: WarehouseMain, Code: "MAIN", Name: "Main", Active: true}).
		PutWarehouse(masterdata.Warehouse{ID: WarehouseOther, Code: "EAST", Name: "East", Active: true}).
		PutLocation(masterdata.Location{ID: LocReceiving, WarehouseID: WarehouseMain, Code: "RCV", Type: masterdata.LocationReceiving, IsDefault: true, Active: true}).
		PutLocation(masterdata.Location{ID: LocShelfA, WarehouseID: WarehouseMain, Code: "A-01", Type: masterdata.LocationStorage, Active: true}).
		PutLocation(masterdata.Location{ID: LocShelfB, WarehouseID: WarehouseMain, Code: "B-01", Type: masterdata.LocationStorage, Active: true}).
		PutLocation(masterdata.Location{ID: LocStaging, WarehouseID: WarehouseMain, Code: "STG", Type: masterdata.LocationStaging, Active: true}).
		PutLocation(masterdata.Location{ID: LocInactiveShelf, WarehouseID: WarehouseMain, Code: "Z-99", Type: masterdata.LocationStorage}).
		PutLocation(masterdata.Location{ID: LocOtherShelf, WarehouseID: WarehouseOther, Code: "E-01", Type: masterdata.LocationStorage, Active: true}).
		PutLocation(masterdata.Location{ID: LocOtherReceive, WarehouseID: WarehouseOther, Code: "E-RCV", Type: masterdata.LocationReceiving, IsDefault: true, Active: true}).
		PutUOM(masterdata.UOM{ID: UOMPcs, Code: "PCS", Name: "Pieces"}).
		PutUOM(masterdata.UOM{ID: UOMBox, Code: "BOX", Name: "Box"}).
		PutItem(masterdata.Item{ID: ItemBolt, Code: "BOLT-M8", Name: "Bolt M8", BaseUOMID: ptr(UOMPcs), Active: true}).
		PutItem(masterdata.Item{ID: ItemScanner, Code: "SCN-1", Name: "Barcode scanner", BaseUOMID: ptr(UOMPcs), IsSerialized: true, Active: true}).
		PutItem(masterdata.Item{ID: ItemWidget, Code: "WDG", Name: "Widget", BaseUOMID: ptr(UOMPcs), ReorderLevel: decimal.NewFromInt(5), Active: true}).
		PutSupplier(masterdata.Supplier{ID: SupplierAcme, Code: "ACME", Name: "Acme", TaxRate: decimal.NewFromInt(11), Active: true}).
		PutSupplier(masterdata.Supplier{ID: SupplierInactive, Code: "OLD", Name: "Old Co"}).
		PutDepartment(masterdata.Department{ID: DeptOps, Code: "OPS", Name: "Operations", HeadUserID: &head}).
		PutDepartment(masterdata.Department{ID: DeptNoHead, Code: "LAB", Name: "Lab"})
}

func ptr[T any](v T) *T { return &v }

// Qty parses a decimal literal.
func Qty(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Line is a shorthand for request lines.
type Line struct {
	Item int64
	UOM  int64
	Qty  string
}

// ApprovedRequest creates, submits and approves a purchase request.
func (w *World) ApprovedRequest(t testing.TB, lines ...Line) procurement.PurchaseRequest {
	t.Helper()
	ctx := context.Background()
	in := procurement.CreatePRInput{DepartmentID: DeptOps}
	for _, l := range lines {
		in.Lines = append(in.Lines, procurement.PRLineInput{ItemID: l.Item, UOMID: l.UOM, Qty: Qty(l.Qty)})
	}
	pr, err := w.Procurement.CreatePurchaseRequest(ctx, Requester, in)
	require.NoError(t, err)
	_, err = w.Procurement.SubmitPurchaseRequest(ctx, Requester, pr.ID)
	require.NoError(t, err)
	pr, err = w.Procurement.ApprovePurchaseRequest(ctx, DeptHead, pr.ID, "")
	require.NoError(t, err)
	return pr
}

// ApprovedOrder converts one approved request per line into an order, prices
// it and runs the fixed finance, gm, director approvals.
func (w *World) ApprovedOrder(t testing.TB, price string, lines ...Line) procurement.PurchaseOrder {
	t.Helper()
	ctx := context.Background()
	pr := w.ApprovedRequest(t, lines...)
	prices := map[int64]decimal.Decimal{}
	for _, l := range lines {
		prices[l.Item] = Qty(price)
	}
	po, err := w.Procurement.CreatePurchaseOrderFromRequests(ctx, Purchasing, procurement.CreatePOInput{
		RequestIDs:  []int64{pr.ID},
		SupplierID:  SupplierAcme,
		WarehouseID: WarehouseMain,
		UnitPrices:  prices,
	})
	require.NoError(t, err)
	_, err = w.Procurement.SubmitPurchaseOrder(ctx, Purchasing, po.ID)
	require.NoError(t, err)
	for _, approver := range []shared.Actor{Finance, GM, Director} {
		_, err = w.Procurement.ApprovePurchaseOrder(ctx, approver, po.ID, "")
		require.NoError(t, err)
	}
	po, err = w.Procurement.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, procurement.POStatusApproved, po.Status)
	return po
}

// PostedReceipt receives qty against every line of po and posts it.
func (w *World) PostedReceipt(t testing.TB, po procurement.PurchaseOrder, qty string, serials ...string) procurement.GoodsReceipt {
	t.Helper()
	ctx := context.Background()
	in := procurement.CreateGRInput{PurchaseOrderID: po.ID}
	for _, l := range po.Lines {
		in.Lines = append(in.Lines, procurement.GRLineInput{PurchaseOrderLineID: l.ID, Qty: Qty(qty), Serials: serials})
	}
	gr, err := w.Procurement.CreateGoodsReceipt(ctx, Warehouse, in)
	require.NoError(t, err)
	gr, err = w.Procurement.PostGoodsReceipt(ctx, Warehouse, gr.ID)
	require.NoError(t, err)
	return gr
}

// StockIn books qty of item into location outside any document.
func (w *World) StockIn(t testing.TB, item, location int64, qty string) {
	t.Helper()
	uom := UOMPcs
	_, err := w.Inventory.CreateMovement(context.Background(), inventory.MovementInput{
		ItemID:                item,
		UOMID:                 &uom,
		DestinationLocationID: &location,
		Qty:                   Qty(qty),
		ReferenceType:         shared.DocGoodsReceipt,
		ReferenceID:           1,
		ActorID:               Warehouse.UserID,
	})
	require.NoError(t, err)
}
