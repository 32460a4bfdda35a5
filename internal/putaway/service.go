package putaway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/inventory"
	"github.com/odyssey-erp/odyssey-scm/internal/masterdata"
	"github.com/odyssey-erp/odyssey-scm/internal/numbering"
	"github.com/odyssey-erp/odyssey-scm/internal/procurement"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// epsilon absorbs rounding residue when comparing quantities.
var epsilon = decimal.New(1, -9)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (PutAway, error)
	ListByGoodsReceipt(ctx context.Context, goodsReceiptID int64) ([]PutAway, error)
}

// TxRepository exposes the writes of a put-away transition.
type TxRepository interface {
	Insert(ctx context.Context, pa PutAway) (PutAway, error)
	Lock(ctx context.Context, id int64) (PutAway, error)
	Update(ctx context.Context, pa PutAway) error
	// PostedQtyByReceiptLine sums posted put-away qty per goods receipt line.
	PostedQtyByReceiptLine(ctx context.Context, goodsReceiptID int64) (map[int64]decimal.Decimal, error)
}

// ReceiptPort is the goods receipt side of a put-away.
type ReceiptPort interface {
	GetGoodsReceipt(ctx context.Context, id int64) (procurement.GoodsReceipt, error)
	LockGoodsReceipt(ctx context.Context, id int64) (procurement.GoodsReceipt, error)
	SyncPutAwayStatus(ctx context.Context, actorID, id int64, remaining map[int64]decimal.Decimal) (procurement.GoodsReceipt, bool, error)
}

// InventoryPort exposes the ledger operations of a put-away post.
type InventoryPort interface {
	CreateMovement(ctx context.Context, input inventory.MovementInput) (inventory.Movement, error)
	GetOnHandForLocation(ctx context.Context, locationID, itemID int64, uomID *int64) (decimal.Decimal, error)
	RelocateSerials(ctx context.Context, goodsReceiptLineID, fromLocationID, toLocationID int64, limit int) (int, error)
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
	Receipts  ReceiptPort
	Inventory InventoryPort
	Lookup    masterdata.Lookup
	Numbers   NumberPort
	History   HistoryPort
	Audit     AuditPort
	Clock     shared.Clock
	Logger    *slog.Logger
}

// Service drafts and posts put-aways.
type Service struct {
	repo      RepositoryPort
	receipts  ReceiptPort
	inventory InventoryPort
	lookup    masterdata.Lookup
	numbers   NumberPort
	history   HistoryPort
	audit     AuditPort
	clock     shared.Clock
	logger    *slog.Logger
}

// NewService constructs the put-away service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      d.Repo,
		receipts:  d.Receipts,
		inventory: d.Inventory,
		lookup:    d.Lookup,
		numbers:   d.Numbers,
		history:   d.History,
		audit:     d.Audit,
		clock:     shared.ClockOrSystem(d.Clock),
		logger:    logger,
	}
}

// CreateDraft drafts a put-away. Every line is capped at the receipt line's
// received quantity minus what posted put-aways already moved.
func (s *Service) CreateDraft(ctx context.Context, actor shared.Actor, input CreateInput) (PutAway, error) {
	if err := shared.RequireAnyRole(actor, "create put-away", shared.RoleWarehouse); err != nil {
		return PutAway{}, err
	}
	if err := shared.ValidateStruct(input); err != nil {
		return PutAway{}, err
	}
	var created PutAway
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		gr, err := s.receipts.GetGoodsReceipt(ctx, input.GoodsReceiptID)
		if err != nil {
			return err
		}
		if !gr.Status.IsPosted() {
			return shared.InvalidTransition(string(gr.Status), string(procurement.GRStatusPosted), string(procurement.GRStatusPutAwayPartial))
		}
		remaining, err := s.remaining(ctx, tx, gr)
		if err != nil {
			return err
		}
		lines, err := s.buildLines(ctx, gr, input.Lines, remaining)
		if err != nil {
			return err
		}
		if s.numbers == nil {
			return fmt.Errorf("putaway: number generator not configured")
		}
		number, err := s.numbers.Generate(ctx, numbering.PrefixPutAway)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		pa, err := tx.Insert(ctx, PutAway{
			Number:           number,
			Status:           StatusDraft,
			GoodsReceiptID:   gr.ID,
			WarehouseID:      gr.WarehouseID,
			SourceLocationID: gr.ReceivingLocationID,
			Note:             input.Note,
			CreatedBy:        actor.ID(),
			CreatedAt:        now,
			UpdatedAt:        now,
			Lines:            lines,
		})
		if err != nil {
			return err
		}
		created = pa
		return s.appendHistory(ctx, pa.Ref(), "", string(StatusDraft), shared.ActionCreate, actor.ID(),
			map[string]any{"goods_receipt_id": gr.ID})
	})
	if err != nil {
		return PutAway{}, err
	}
	s.recordAudit(ctx, actor.ID(), "PUTAWAY_CREATE", created)
	return created, nil
}

func (s *Service) buildLines(ctx context.Context, gr procurement.GoodsReceipt, inputs []LineInput, remaining map[int64]decimal.Decimal) ([]Line, error) {
	grLines := make(map[int64]procurement.GRLine, len(gr.Lines))
	for _, l := range gr.Lines {
		grLines[l.ID] = l
	}
	fields := shared.FieldErrors{}
	pending := map[int64]decimal.Decimal{}
	lines := make([]Line, 0, len(inputs))
	for i, in := range inputs {
		gl, ok := grLines[in.GoodsReceiptLineID]
		if !ok {
			fields.Addf(shared.LineField(i, "goods_receipt_line_id"), "line %d does not belong to %s", in.GoodsReceiptLineID, gr.Number)
			continue
		}
		left := remaining[gl.ID].Sub(pending[gl.ID])
		if left.LessThanOrEqual(epsilon) {
			fields.Add(shared.LineField(i, "qty"), "nothing remaining to put away")
			continue
		}
		if in.Qty.GreaterThan(left) {
			fields.Addf(shared.LineField(i, "qty"), "exceeds remaining quantity %s", left.String())
			continue
		}
		pending[gl.ID] = pending[gl.ID].Add(in.Qty)
		loc, ok, err := s.storageLocation(ctx, fields, i, in.DestinationLocationID, gr.WarehouseID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		lines = append(lines, Line{
			GoodsReceiptLineID:    gl.ID,
			ItemID:                gl.ItemID,
			UOMID:                 gl.UOMID,
			DestinationLocationID: loc.ID,
			Qty:                   in.Qty,
			ItemSnapshot:          gl.ItemSnapshot,
			UOMSnapshot:           gl.UOMSnapshot,
			LocationSnapshot:      masterdata.Snapshot(loc),
		})
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// storageLocation checks that id is an active STORAGE location of warehouseID.
func (s *Service) storageLocation(ctx context.Context, fields shared.FieldErrors, i int, id, warehouseID int64) (masterdata.Location, bool, error) {
	field := shared.LineField(i, "destination_location_id")
	loc, err := s.lookup.GetLocation(ctx, id)
	switch {
	case errors.Is(err, shared.ErrNotFound):
		fields.Add(field, "location not found")
		return loc, false, nil
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

func (s *Service) remaining(ctx context.Context, tx TxRepository, gr procurement.GoodsReceipt) (map[int64]decimal.Decimal, error) {
	posted, err := tx.PostedQtyByReceiptLine(ctx, gr.ID)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]decimal.Decimal, len(gr.Lines))
	for _, l := range gr.Lines {
		out[l.ID] = l.ReceivedQty.Sub(posted[l.ID])
	}
	return out, nil
}

type stockKey struct {
	location, item, uom int64
}

// Post moves a DRAFT put-away into storage. The put-away row is locked first,
// then its goods receipt, so concurrent put-aways of one receipt run one at a
// time and the cap check sees every earlier post.
func (s *Service) Post(ctx context.Context, actor shared.Actor, id int64) (PutAway, error) {
	if err := shared.RequireAnyRole(actor, "post put-away", shared.RoleWarehouse); err != nil {
		return PutAway{}, err
	}
	var out PutAway
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pa, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		if pa.Status != StatusDraft {
			return shared.InvalidTransition(string(pa.Status), string(StatusDraft))
		}
		gr, err := s.receipts.LockGoodsReceipt(ctx, pa.GoodsReceiptID)
		if err != nil {
			return err
		}
		if !gr.Status.IsPosted() {
			return shared.InvalidTransition(string(gr.Status), string(procurement.GRStatusPosted), string(procurement.GRStatusPutAwayPartial))
		}
		if err := s.checkPost(ctx, tx, pa, gr); err != nil {
			return err
		}

		for _, l := range pa.Lines {
			src, dest, lineID, uomID := pa.SourceLocationID, l.DestinationLocationID, l.ID, l.UOMID
			if _, err := s.inventory.CreateMovement(ctx, inventory.MovementInput{
				ItemID:                l.ItemID,
				UOMID:                 &uomID,
				SourceLocationID:      &src,
				DestinationLocationID: &dest,
				Qty:                   l.Qty,
				ReferenceType:         shared.DocPutAway,
				ReferenceID:           pa.ID,
				ReferenceLineID:       &lineID,
				ActorID:               actor.ID(),
				MovementAt:            s.clock.Now(),
				Meta:                  map[string]any{"number": pa.Number, "goods_receipt_id": gr.ID},
			}); err != nil {
				return err
			}
			item, err := s.lookup.GetItem(ctx, l.ItemID)
			if err != nil {
				return err
			}
			if item.IsSerialized {
				if _, err := s.inventory.RelocateSerials(ctx, l.GoodsReceiptLineID, src, dest, int(l.Qty.IntPart())); err != nil {
					return err
				}
			}
		}

		now := s.clock.Now()
		pa.Status = StatusPosted
		pa.PostedAt, pa.PostedBy = &now, ptr(actor.ID())
		pa.UpdatedAt = now
		if err := tx.Update(ctx, pa); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, pa.Ref(), string(StatusDraft), string(StatusPosted), shared.ActionPost, actor.ID(), nil); err != nil {
			return err
		}
		remaining, err := s.remaining(ctx, tx, gr)
		if err != nil {
			return err
		}
		if _, _, err := s.receipts.SyncPutAwayStatus(ctx, actor.ID(), gr.ID, remaining); err != nil {
			return err
		}
		out = pa
		return nil
	})
	if err != nil {
		return PutAway{}, err
	}
	s.recordAudit(ctx, actor.ID(), "PUTAWAY_POST", out)
	return out, nil
}

// checkPost re-runs the quantity cap against posted put-aways, the
// destination checks, and the RECEIVING on-hand check aggregated per
// (location, item, uom).
func (s *Service) checkPost(ctx context.Context, tx TxRepository, pa PutAway, gr procurement.GoodsReceipt) error {
	remaining, err := s.remaining(ctx, tx, gr)
	if err != nil {
		return err
	}
	fields := shared.FieldErrors{}
	need := map[stockKey]decimal.Decimal{}
	lineIdx := map[stockKey][]int{}
	for i, l := range pa.Lines {
		left, ok := remaining[l.GoodsReceiptLineID]
		if !ok {
			fields.Addf(shared.LineField(i, "goods_receipt_line_id"), "line %d does not belong to %s", l.GoodsReceiptLineID, gr.Number)
			continue
		}
		if l.Qty.GreaterThan(left.Add(epsilon)) {
			fields.Addf(shared.LineField(i, "qty"), "exceeds remaining quantity %s", left.String())
		}
		remaining[l.GoodsReceiptLineID] = left.Sub(l.Qty)
		if _, _, err := s.storageLocation(ctx, fields, i, l.DestinationLocationID, pa.WarehouseID); err != nil {
			return err
		}
		k := stockKey{pa.SourceLocationID, l.ItemID, l.UOMID}
		need[k] = need[k].Add(l.Qty)
		lineIdx[k] = append(lineIdx[k], i)
	}
	for k, qty := range need {
		uomID := k.uom
		onHand, err := s.inventory.GetOnHandForLocation(ctx, k.location, k.item, &uomID)
		if err != nil {
			return err
		}
		if onHand.Add(epsilon).LessThan(qty) {
			for _, i := range lineIdx[k] {
				fields.Addf(shared.LineField(i, "qty"), "insufficient stock at receiving location: on hand %s, required %s", onHand.String(), qty.String())
			}
		}
	}
	return fields.Err()
}

// Cancel cancels a DRAFT put-away.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64, reason string) (PutAway, error) {
	if err := shared.RequireAnyRole(actor, "cancel put-away", shared.RoleWarehouse); err != nil {
		return PutAway{}, err
	}
	var out PutAway
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pa, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		if pa.Status != StatusDraft {
			return shared.InvalidTransition(string(pa.Status), string(StatusDraft))
		}
		now := s.clock.Now()
		pa.Status = StatusCancelled
		pa.CancelledAt, pa.CancelledBy = &now, ptr(actor.ID())
		pa.UpdatedAt = now
		if err := tx.Update(ctx, pa); err != nil {
			return err
		}
		out = pa
		var meta map[string]any
		if reason != "" {
			meta = map[string]any{"reason": reason}
		}
		return s.appendHistory(ctx, pa.Ref(), string(StatusDraft), string(StatusCancelled), shared.ActionCancel, actor.ID(), meta)
	})
	if err != nil {
		return PutAway{}, err
	}
	s.recordAudit(ctx, actor.ID(), "PUTAWAY_CANCEL", out)
	return out, nil
}

// Get loads a put-away with lines.
func (s *Service) Get(ctx context.Context, id int64) (PutAway, error) {
	return s.repo.Get(ctx, id)
}

// ListByGoodsReceipt lists the put-aways drafted for a receipt.
func (s *Service) ListByGoodsReceipt(ctx context.Context, goodsReceiptID int64) ([]PutAway, error) {
	return s.repo.ListByGoodsReceipt(ctx, goodsReceiptID)
}

// Remaining reports, per receipt line, the quantity still waiting in
// RECEIVING.
func (s *Service) Remaining(ctx context.Context, goodsReceiptID int64) (map[int64]decimal.Decimal, error) {
	var out map[int64]decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		gr, err := s.receipts.GetGoodsReceipt(ctx, goodsReceiptID)
		if err != nil {
			return err
		}
		out, err = s.remaining(ctx, tx, gr)
		return err
	})
	return out, err
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

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, pa PutAway) {
	shared.RecordAfterCommit(ctx, s.audit, s.logger,
		shared.TransitionAudit(actorID, action, shared.DocumentRef{Kind: shared.DocPutAway, ID: pa.ID}, pa.Number, string(pa.Status), s.clock.Now()))
}

func ptr[T any](v T) *T { return &v }
