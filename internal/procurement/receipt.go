package procurement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/inventory"
	"github.com/odyssey-erp/odyssey-scm/internal/masterdata"
	"github.com/odyssey-erp/odyssey-scm/internal/numbering"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// putAwayEpsilon treats residual quantities below it as fully put away.
var putAwayEpsilon = decimal.New(1, -9)

// CreateGoodsReceipt drafts a receipt against an APPROVED order into the
// warehouse's default RECEIVING location.
func (s *Service) CreateGoodsReceipt(ctx context.Context, actor shared.Actor, input CreateGRInput) (GoodsReceipt, error) {
	if err := shared.RequireAnyRole(actor, "create goods receipt", shared.RoleWarehouse); err != nil {
		return GoodsReceipt{}, err
	}
	if err := shared.ValidateStruct(input); err != nil {
		return GoodsReceipt{}, err
	}
	var created GoodsReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, input.PurchaseOrderID)
		if err != nil {
			return err
		}
		if po.Status != POStatusApproved {
			return shared.InvalidTransition(string(po.Status), string(POStatusApproved))
		}
		receiving, err := s.lookup.DefaultLocation(ctx, po.WarehouseID, masterdata.LocationReceiving)
		if err != nil {
			return err
		}
		received, err := tx.ReceivedByPOLine(ctx, po.ID)
		if err != nil {
			return err
		}
		lines, err := s.buildGRLines(ctx, po, input.Lines, received)
		if err != nil {
			return err
		}
		number, err := s.nextNumber(ctx, numbering.PrefixGoodsReceipt)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		receivedAt := input.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = now
		}
		gr, err := tx.InsertGR(ctx, GoodsReceipt{
			Number:              number,
			Status:              GRStatusDraft,
			PurchaseOrderID:     po.ID,
			WarehouseID:         po.WarehouseID,
			ReceivingLocationID: receiving.ID,
			ReceivedAt:          receivedAt,
			Note:                input.Note,
			CreatedBy:           actor.ID(),
			CreatedAt:           now,
			UpdatedAt:           now,
			Lines:               lines,
		})
		if err != nil {
			return err
		}
		created = gr
		return s.appendHistory(ctx, gr.Ref(), "", string(GRStatusDraft), shared.ActionCreate, actor.ID(),
			map[string]any{"purchase_order_id": po.ID})
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.recordAudit(ctx, actor.ID(), "GR_CREATE", created.Ref(), map[string]any{"number": created.Number})
	return created, nil
}

// buildGRLines caps each line at ordered minus already received, summing
// lines of this input that target the same PO line.
func (s *Service) buildGRLines(ctx context.Context, po PurchaseOrder, inputs []GRLineInput, received map[int64]decimal.Decimal) ([]GRLine, error) {
	poLines := make(map[int64]POLine, len(po.Lines))
	for _, l := range po.Lines {
		poLines[l.ID] = l
	}
	fields := shared.FieldErrors{}
	pending := map[int64]decimal.Decimal{}
	lines := make([]GRLine, 0, len(inputs))
	for i, in := range inputs {
		pl, ok := poLines[in.PurchaseOrderLineID]
		if !ok {
			fields.Addf(shared.LineField(i, "purchase_order_line_id"), "line %d does not belong to %s", in.PurchaseOrderLineID, po.Number)
			continue
		}
		remaining := pl.Qty.Sub(received[pl.ID]).Sub(pending[pl.ID])
		if in.Qty.GreaterThan(remaining) {
			fields.Addf(shared.LineField(i, "qty"), "exceeds remaining ordered quantity %s", remaining.String())
			continue
		}
		pending[pl.ID] = pending[pl.ID].Add(in.Qty)
		item, err := s.lookup.GetItem(ctx, pl.ItemID)
		if err != nil {
			return nil, err
		}
		if item.IsSerialized {
			if !in.Qty.IsInteger() || int64(len(in.Serials)) != in.Qty.IntPart() {
				fields.Addf(shared.LineField(i, "serials"), "serialized item needs %s serial numbers", in.Qty.String())
				continue
			}
		} else if len(in.Serials) > 0 {
			fields.Add(shared.LineField(i, "serials"), "item is not serialized")
			continue
		}
		lines = append(lines, GRLine{
			PurchaseOrderLineID: pl.ID,
			ItemID:              pl.ItemID,
			UOMID:               pl.UOMID,
			ReceivedQty:         in.Qty,
			Serials:             in.Serials,
			ItemSnapshot:        pl.ItemSnapshot,
			UOMSnapshot:         pl.UOMSnapshot,
		})
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// PostGoodsReceipt posts a DRAFT receipt: one inbound movement per line into
// the RECEIVING location, plus serial registration for serialized items.
func (s *Service) PostGoodsReceipt(ctx context.Context, actor shared.Actor, id int64) (GoodsReceipt, error) {
	if err := shared.RequireAnyRole(actor, "post goods receipt", shared.RoleWarehouse); err != nil {
		return GoodsReceipt{}, err
	}
	if s.inventory == nil {
		return GoodsReceipt{}, fmt.Errorf("procurement: inventory integration not configured")
	}
	return s.transitionGR(ctx, actor, id, shared.ActionPost, []GRStatus{GRStatusDraft},
		func(ctx context.Context, tx TxRepository, gr *GoodsReceipt, now time.Time) (map[string]any, error) {
			if s.idempotency != nil {
				if err := s.idempotency.CheckAndInsert(ctx, "GR:"+gr.Number, "procurement.gr"); err != nil {
					return nil, err
				}
			}
			po, err := tx.LockPO(ctx, gr.PurchaseOrderID)
			if err != nil {
				return nil, err
			}
			received, err := tx.ReceivedByPOLine(ctx, po.ID)
			if err != nil {
				return nil, err
			}
			ordered := make(map[int64]decimal.Decimal, len(po.Lines))
			for _, l := range po.Lines {
				ordered[l.ID] = l.Qty
			}
			fields := shared.FieldErrors{}
			for i, l := range gr.Lines {
				received[l.PurchaseOrderLineID] = received[l.PurchaseOrderLineID].Add(l.ReceivedQty)
				if received[l.PurchaseOrderLineID].GreaterThan(ordered[l.PurchaseOrderLineID]) {
					fields.Add(shared.LineField(i, "qty"), "exceeds remaining ordered quantity")
				}
			}
			if err := fields.Err(); err != nil {
				return nil, err
			}

			dest := gr.ReceivingLocationID
			for _, l := range gr.Lines {
				lineID, uomID := l.ID, l.UOMID
				if _, err := s.inventory.CreateMovement(ctx, inventory.MovementInput{
					ItemID:                l.ItemID,
					UOMID:                 &uomID,
					DestinationLocationID: &dest,
					Qty:                   l.ReceivedQty,
					ReferenceType:         shared.DocGoodsReceipt,
					ReferenceID:           gr.ID,
					ReferenceLineID:       &lineID,
					ActorID:               actor.ID(),
					MovementAt:            gr.ReceivedAt,
					Meta:                  map[string]any{"number": gr.Number},
				}); err != nil {
					return nil, err
				}
				if len(l.Serials) > 0 {
					if err := s.inventory.RegisterSerials(ctx, inventory.SerialRegistration{
						ItemID:             l.ItemID,
						GoodsReceiptLineID: l.ID,
						LocationID:         dest,
						Serials:            l.Serials,
					}); err != nil {
						return nil, err
					}
				}
			}
			gr.Status = GRStatusPosted
			gr.Posted = stampOf(actor.ID(), now)
			return nil, nil
		})
}

// CancelGoodsReceipt cancels a DRAFT receipt.
func (s *Service) CancelGoodsReceipt(ctx context.Context, actor shared.Actor, id int64, reason string) (GoodsReceipt, error) {
	if err := shared.RequireAnyRole(actor, "cancel goods receipt", shared.RoleWarehouse, shared.RolePurchasing); err != nil {
		return GoodsReceipt{}, err
	}
	return s.transitionGR(ctx, actor, id, shared.ActionCancel, []GRStatus{GRStatusDraft},
		func(_ context.Context, _ TxRepository, gr *GoodsReceipt, now time.Time) (map[string]any, error) {
			gr.Status = GRStatusCancelled
			gr.Cancelled = stampOf(actor.ID(), now)
			if reason == "" {
				return nil, nil
			}
			return map[string]any{"reason": reason}, nil
		})
}

// LockGoodsReceipt locks the receipt row inside the caller's transaction.
// Put-aways of one receipt serialize on this lock.
func (s *Service) LockGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	var gr GoodsReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		gr, err = tx.LockGR(ctx, id)
		return err
	})
	return gr, err
}

// PutAwayStatusFor derives the receipt status from per-line remaining
// quantities.
func PutAwayStatusFor(remaining map[int64]decimal.Decimal) GRStatus {
	for _, r := range remaining {
		if r.GreaterThan(putAwayEpsilon) {
			return GRStatusPutAwayPartial
		}
	}
	return GRStatusPutAwayCompleted
}

// SyncPutAwayStatus recomputes the receipt status from remaining quantities
// per line. Nothing is written when the status is unchanged.
func (s *Service) SyncPutAwayStatus(ctx context.Context, actorID, id int64, remaining map[int64]decimal.Decimal) (GoodsReceipt, bool, error) {
	var (
		out     GoodsReceipt
		changed bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		gr, err := tx.LockGR(ctx, id)
		if err != nil {
			return err
		}
		out = gr
		if !gr.Status.IsPosted() {
			return shared.InvalidTransition(string(gr.Status), string(GRStatusPosted), string(GRStatusPutAwayPartial))
		}
		next := PutAwayStatusFor(remaining)
		if next == gr.Status {
			return nil
		}
		prev := gr.Status
		gr.Status = next
		gr.UpdatedAt = s.clock.Now()
		if err := tx.UpdateGR(ctx, gr); err != nil {
			return err
		}
		out, changed = gr, true
		return s.appendHistory(ctx, gr.Ref(), string(prev), string(next), shared.ActionSync, actorID, nil)
	})
	if err != nil {
		return GoodsReceipt{}, false, err
	}
	return out, changed, nil
}

// GetGoodsReceipt loads a receipt with lines.
func (s *Service) GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	return s.repo.GetGR(ctx, id)
}

// GetGoodsReceiptLine loads one receipt line.
func (s *Service) GetGoodsReceiptLine(ctx context.Context, id int64) (GRLine, error) {
	return s.repo.GetGRLine(ctx, id)
}

type grChange func(ctx context.Context, tx TxRepository, gr *GoodsReceipt, now time.Time) (map[string]any, error)

func (s *Service) transitionGR(ctx context.Context, actor shared.Actor, id int64, action string, from []GRStatus, change grChange) (GoodsReceipt, error) {
	var out GoodsReceipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		gr, err := tx.LockGR(ctx, id)
		if err != nil {
			return err
		}
		if !containsStatus(from, gr.Status) {
			return shared.InvalidTransition(string(gr.Status), statusNames(from)...)
		}
		prev := gr.Status
		now := s.clock.Now()
		meta, err := change(ctx, tx, &gr, now)
		if err != nil {
			return err
		}
		gr.UpdatedAt = now
		if err := tx.UpdateGR(ctx, gr); err != nil {
			return err
		}
		out = gr
		return s.appendHistory(ctx, gr.Ref(), string(prev), string(gr.Status), action, actor.ID(), meta)
	})
	if err != nil {
		return GoodsReceipt{}, err
	}
	s.recordAudit(ctx, actor.ID(), "GR_"+upper(action), out.Ref(), map[string]any{"number": out.Number, "status": string(out.Status)})
	return out, nil
}
