package picking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/inventory"
	"github.com/odyssey-erp/odyssey-scm/internal/masterdata"
	"github.com/odyssey-erp/odyssey-scm/internal/numbering"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

var epsilon = decimal.New(1, -9)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Order, error)
}

// TxRepository exposes the writes of a picking transition.
type TxRepository interface {
	Insert(ctx context.Context, o Order) (Order, error)
	Lock(ctx context.Context, id int64) (Order, error)
	Update(ctx context.Context, o Order) error
}

// InventoryPort exposes the ledger operations of a post.
type InventoryPort interface {
	CreateMovement(ctx context.Context, input inventory.MovementInput) (inventory.Movement, error)
	GetOnHandForLocation(ctx context.Context, locationID, itemID int64, uomID *int64) (decimal.Decimal, error)
}

// NumberPort issues document numbers.
type NumberPort interface {
	Generate(ctx context.Context, prefix string) (string, error)
}

// HistoryPort appends status histories.
type HistoryPort interface {
	Append(ctx context.Context, entry shared.StatusHistory) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Deps groups the collaborators of Service.
type Deps struct {
	Repo      RepositoryPort
	Inventory InventoryPort
	Lookup    masterdata.Lookup
	Numbers   NumberPort
	History   HistoryPort
	Audit     AuditPort
	Clock     shared.Clock
	Logger    *slog.Logger
}

// Service drafts and posts picking orders.
type Service struct {
	repo      RepositoryPort
	inventory InventoryPort
	lookup    masterdata.Lookup
	numbers   NumberPort
	history   HistoryPort
	audit     AuditPort
	clock     shared.Clock
	logger    *slog.Logger
}

// NewService constructs the picking service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      d.Repo,
		inventory: d.Inventory,
		lookup:    d.Lookup,
		numbers:   d.Numbers,
		history:   d.History,
		audit:     d.Audit,
		clock:     shared.ClockOrSystem(d.Clock),
		logger:    logger,
	}
}

// CreateDraft drafts a picking order. Availability is checked on post.
func (s *Service) CreateDraft(ctx context.Context, actor shared.Actor, input CreateInput) (Order, error) {
	if err := shared.RequireAnyRole(actor, "create picking order", shared.RoleWarehouse); err != nil {
		return Order{}, err
	}
	if err := shared.ValidateStruct(input); err != nil {
		return Order{}, err
	}
	var created Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wh, err := s.lookup.GetWarehouse(ctx, input.WarehouseID)
		if err != nil {
			return err
		}
		if !wh.Active {
			return shared.Validation("warehouse_id", "warehouse is inactive")
		}
		lines, err := s.buildLines(ctx, wh.ID, input.Lines)
		if err != nil {
			return err
		}
		if s.numbers == nil {
			return fmt.Errorf("picking: number generator not configured")
		}
		number, err := s.numbers.Generate(ctx, numbering.PrefixPickingOrder)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		o, err := tx.Insert(ctx, Order{
			Number:      number,
			Status:      StatusDraft,
			WarehouseID: wh.ID,
			Reference:   input.Reference,
			Note:        input.Note,
			CreatedBy:   actor.ID(),
			CreatedAt:   now,
			UpdatedAt:   now,
			Lines:       lines,
		})
		if err != nil {
			return err
		}
		created = o
		return s.appendHistory(ctx, o.Ref(), "", string(StatusDraft), shared.ActionCreate, actor.ID(), nil)
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, actor.ID(), "PICKING_CREATE", created)
	return created, nil
}

func (s *Service) buildLines(ctx context.Context, warehouseID int64, inputs []LineInput) ([]Line, error) {
	fields := shared.FieldErrors{}
	lines := make([]Line, 0, len(inputs))
	for i, in := range inputs {
		item, err := s.lookup.GetItem(ctx, in.ItemID)
		if errors.Is(err, shared.ErrNotFound) {
			fields.Add(shared.LineField(i, "item_id"), "item not found")
			continue
		}
		if err != nil {
			return nil, err
		}
		uom, err := s.lookup.GetUOM(ctx, in.UOMID)
		if errors.Is(err, shared.ErrNotFound) {
			fields.Add(shared.LineField(i, "uom_id"), "uom not found")
			continue
		}
		if err != nil {
			return nil, err
		}
		loc, ok, err := s.sourceLocation(ctx, fields, i, in.SourceLocationID, warehouseID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		lines = append(lines, Line{
			ItemID:           item.ID,
			UOMID:            uom.ID,
			SourceLocationID: loc.ID,
			Qty:              in.Qty,
			ItemSnapshot:     masterdata.Snapshot(item),
			UOMSnapshot:      masterdata.Snapshot(uom),
			LocationSnapshot: masterdata.Snapshot(loc),
		})
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Service) sourceLocation(ctx context.Context, fields shared.FieldErrors, i int, id, warehouseID int64) (masterdata.Location, bool, error) {
	field := shared.LineField(i, "source_location_id")
	loc, err := s.lookup.GetLocation(ctx, id)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		fields.Add(field, "location not found")
	case err != nil:
		return loc, false, err
	case loc.Type != masterdata.LocationStorage:
		fields.Addf(field, "location %s is %s, required %s", loc.Code, loc.Type, masterdata.LocationStorage)
	case !loc.Active:
		fields.Addf(field, "location %s is inactive", loc.Code)
	case loc.WarehouseID != warehouseID:
		fields.Addf(field, "location %s belongs to another warehouse", loc.Code)
	default:
		return loc, true, nil
	}
	return loc, false, nil
}

type stockKey struct {
	location, item, uom int64
}

// Post issues every line out of the warehouse. Either all lines have stock
// and one outbound movement per line is written, or nothing is.
func (s *Service) Post(ctx context.Context, actor shared.Actor, id int64) (Order, error) {
	if err := shared.RequireAnyRole(actor, "post picking order", shared.RoleWarehouse); err != nil {
		return Order{}, err
	}
	var out Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		if o.Status != StatusDraft {
			return shared.InvalidTransition(string(o.Status), string(StatusDraft))
		}
		if err := s.checkAvailability(ctx, o); err != nil {
			return err
		}
		for _, l := range o.Lines {
			src, lineID, uomID := l.SourceLocationID, l.ID, l.UOMID
			if _, err := s.inventory.CreateMovement(ctx, inventory.MovementInput{
				ItemID:           l.ItemID,
				UOMID:            &uomID,
				SourceLocationID: &src,
				Qty:              l.Qty,
				ReferenceType:    shared.DocPickingOrder,
				ReferenceID:      o.ID,
				ReferenceLineID:  &lineID,
				ActorID:          actor.ID(),
				MovementAt:       s.clock.Now(),
				Meta:             map[string]any{"number": o.Number, "reference": o.Reference},
			}); err != nil {
				return err
			}
		}
		now := s.clock.Now()
		by := actor.ID()
		o.Status = StatusPosted
		o.PostedAt, o.PostedBy = &now, &by
		o.UpdatedAt = now
		if err := tx.Update(ctx, o); err != nil {
			return err
		}
		out = o
		return s.appendHistory(ctx, o.Ref(), string(StatusDraft), string(StatusPosted), shared.ActionPost, actor.ID(), nil)
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, actor.ID(), "PICKING_POST", out)
	return out, nil
}

// checkAvailability re-validates source locations and compares the summed
// request per (location, item, uom) with the live ledger.
func (s *Service) checkAvailability(ctx context.Context, o Order) error {
	fields := shared.FieldErrors{}
	need := map[stockKey]decimal.Decimal{}
	lineIdx := map[stockKey][]int{}
	var keys []stockKey
	for i, l := range o.Lines {
		if _, _, err := s.sourceLocation(ctx, fields, i, l.SourceLocationID, o.WarehouseID); err != nil {
			return err
		}
		k := stockKey{l.SourceLocationID, l.ItemID, l.UOMID}
		if _, seen := need[k]; !seen {
			keys = append(keys, k)
		}
		need[k] = need[k].Add(l.Qty)
		lineIdx[k] = append(lineIdx[k], i)
	}
	for _, k := range keys {
		uomID := k.uom
		onHand, err := s.inventory.GetOnHandForLocation(ctx, k.location, k.item, &uomID)
		if err != nil {
			return err
		}
		if onHand.Add(epsilon).LessThan(need[k]) {
			for _, i := range lineIdx[k] {
				fields.Addf(shared.LineField(i, "qty"), "insufficient stock: on hand %s, required %s", onHand.String(), need[k].String())
			}
		}
	}
	return fields.Err()
}

// Cancel cancels a DRAFT picking order.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64, reason string) (Order, error) {
	if err := shared.RequireAnyRole(actor, "cancel picking order", shared.RoleWarehouse); err != nil {
		return Order{}, err
	}
	var out Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		o, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		if o.Status != StatusDraft {
			return shared.InvalidTransition(string(o.Status), string(StatusDraft))
		}
		now := s.clock.Now()
		by := actor.ID()
		o.Status = StatusCancelled
		o.CancelledAt, o.CancelledBy = &now, &by
		o.UpdatedAt = now
		if err := tx.Update(ctx, o); err != nil {
			return err
		}
		out = o
		var meta map[string]any
		if reason != "" {
			meta = map[string]any{"reason": reason}
		}
		return s.appendHistory(ctx, o.Ref(), string(StatusDraft), string(StatusCancelled), shared.ActionCancel, actor.ID(), meta)
	})
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, actor.ID(), "PICKING_CANCEL", out)
	return out, nil
}

// Get loads a picking order with lines.
func (s *Service) Get(ctx context.Context, id int64) (Order, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) appendHistory(ctx context.Context, ref shared.DocumentRef, from, to, action string, actorID int64, meta map[string]any) error {
	if s.history == nil {
		return nil
	}
	return s.history.Append(ctx, shared.StatusHistory{
		Document:   ref,
		FromStatus: from,
		ToStatus:   to,
		Action:     action,
		ActorID:    actorID,
		Meta:       meta,
		At:         s.clock.Now(),
	})
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, o Order) {
	shared.RecordAfterCommit(ctx, s.audit, s.logger,
		shared.TransitionAudit(actorID, action, shared.DocumentRef{Kind: shared.DocPickingOrder, ID: o.ID}, o.Number, string(o.Status), s.clock.Now()))
}
