package procurement

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/masterdata"
	"github.com/odyssey-erp/odyssey-scm/internal/notify"
	"github.com/odyssey-erp/odyssey-scm/internal/numbering"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

const defaultCurrency = "IDR"

var hundred = decimal.NewFromInt(100)

// CreatePurchaseOrderFromRequests converts APPROVED purchase requests into one
// DRAFT order. Without explicit lines the request lines are merged by item and
// unit.
func (s *Service) CreatePurchaseOrderFromRequests(ctx context.Context, actor shared.Actor, input CreatePOInput) (PurchaseOrder, error) {
	if err := shared.RequireAnyRole(actor, "create purchase order", shared.RolePurchasing); err != nil {
		return PurchaseOrder{}, err
	}
	if err := shared.ValidateStruct(input); err != nil {
		return PurchaseOrder{}, err
	}

	var created PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		supplier, err := s.lookup.GetSupplier(ctx, input.SupplierID)
		if err != nil {
			return err
		}
		if !supplier.Active {
			return shared.Validation("supplier_id", "supplier is inactive")
		}
		wh, err := s.lookup.GetWarehouse(ctx, input.WarehouseID)
		if err != nil {
			return err
		}
		if !wh.Active {
			return shared.Validation("warehouse_id", "warehouse is inactive")
		}

		requests, err := s.lockApprovedRequests(ctx, tx, input.RequestIDs)
		if err != nil {
			return err
		}

		var lines []POLine
		if len(input.Lines) > 0 {
			if lines, err = s.buildPOLines(ctx, input.Lines); err != nil {
				return err
			}
		} else {
			lines = MergeRequestLines(requests, input.UnitPrices)
		}
		subtotal, tax, total := ComputeTotals(lines, supplier)

		number, err := s.nextNumber(ctx, numbering.PrefixPurchaseOrder)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		requestIDs := make([]int64, len(requests))
		for i, pr := range requests {
			requestIDs[i] = pr.ID
		}
		po, err := tx.InsertPO(ctx, PurchaseOrder{
			Number:           number,
			Status:           POStatusDraft,
			SupplierID:       supplier.ID,
			WarehouseID:      wh.ID,
			Currency:         orDefault(input.Currency, defaultCurrency),
			ExpectedDate:     input.ExpectedDate,
			SupplierSnapshot: masterdata.Snapshot(supplier),
			TaxSnapshot:      masterdata.Snapshot(map[string]any{"tax_rate": supplier.TaxRate.String(), "tax_inclusive": supplier.TaxInclusive}),
			Subtotal:         subtotal,
			TaxAmount:        tax,
			TotalAmount:      total,
			Note:             input.Note,
			CreatedBy:        actor.ID(),
			CreatedAt:        now,
			UpdatedAt:        now,
			Lines:            lines,
			RequestIDs:       requestIDs,
		})
		if err != nil {
			return err
		}
		created = po

		for _, pr := range requests {
			pr.Status = PRStatusConvertedPO
			pr.ConvertedAt = &now
			pr.PurchaseOrderID = &po.ID
			pr.UpdatedAt = now
			if err := tx.UpdatePR(ctx, pr); err != nil {
				return err
			}
			meta := map[string]any{"purchase_order_id": po.ID, "purchase_order_number": po.Number}
			if err := s.appendHistory(ctx, pr.Ref(), string(PRStatusApproved), string(PRStatusConvertedPO), shared.ActionConvert, actor.ID(), meta); err != nil {
				return err
			}
		}
		return s.appendHistory(ctx, po.Ref(), "", string(POStatusDraft), shared.ActionCreate, actor.ID(),
			map[string]any{"purchase_request_ids": requestIDs})
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actor.ID(), "PO_CREATE", created.Ref(), map[string]any{"number": created.Number, "from_pr": created.RequestIDs})
	return created, nil
}

// lockApprovedRequests locks the requests in id order and requires each to
// be APPROVED. Field keys follow the caller's index.
func (s *Service) lockApprovedRequests(ctx context.Context, tx TxRepository, ids []int64) ([]PurchaseRequest, error) {
	index := map[int64]int{}
	for i, id := range ids {
		if _, seen := index[id]; !seen {
			index[id] = i
		}
	}
	ordered := make([]int64, 0, len(index))
	for id := range index {
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	fields := shared.FieldErrors{}
	out := make([]PurchaseRequest, 0, len(ordered))
	for _, id := range ordered {
		pr, err := tx.LockPR(ctx, id)
		if err != nil {
			return nil, err
		}
		if pr.Status != PRStatusApproved {
			fields.Addf(fmt.Sprintf("purchase_request_ids.%d", index[id]), "purchase request %s is %s, required %s", pr.Number, pr.Status, PRStatusApproved)
			continue
		}
		out = append(out, pr)
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) buildPOLines(ctx context.Context, inputs []POLineInput) ([]POLine, error) {
	fields := shared.FieldErrors{}
	lines := make([]POLine, 0, len(inputs))
	for i, in := range inputs {
		item, uom, ok, err := s.lineMasterData(ctx, fields, i, in.ItemID, in.UOMID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		lines = append(lines, POLine{
			LineNo:       i + 1,
			ItemID:       in.ItemID,
			UOMID:        in.UOMID,
			Qty:          in.Qty,
			UnitPrice:    in.UnitPrice,
			ItemSnapshot: masterdata.Snapshot(item),
			UOMSnapshot:  masterdata.Snapshot(uom),
		})
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// MergeRequestLines groups request lines by item and unit, summing quantities
// in first-seen order. Snapshots come from the first line of each group.
func MergeRequestLines(requests []PurchaseRequest, prices map[int64]decimal.Decimal) []POLine {
	type key struct{ item, uom int64 }
	idx := map[key]int{}
	var out []POLine
	for _, pr := range requests {
		for _, l := range pr.Lines {
			k := key{l.ItemID, l.UOMID}
			if i, ok := idx[k]; ok {
				out[i].Qty = out[i].Qty.Add(l.Qty)
				continue
			}
			idx[k] = len(out)
			out = append(out, POLine{
				LineNo:       len(out) + 1,
				ItemID:       l.ItemID,
				UOMID:        l.UOMID,
				Qty:          l.Qty,
				UnitPrice:    prices[l.ItemID],
				ItemSnapshot: l.ItemSnapshot,
				UOMSnapshot:  l.UOMSnapshot,
			})
		}
	}
	return out
}

// ComputeTotals fills line totals and returns subtotal, tax and total using the
// supplier's tax configuration. Money is rounded to cents.
func ComputeTotals(lines []POLine, supplier masterdata.Supplier) (subtotal, tax, total decimal.Decimal) {
	for i := range lines {
		lines[i].LineTotal = lines[i].Qty.Mul(lines[i].UnitPrice).Round(2)
		subtotal = subtotal.Add(lines[i].LineTotal)
	}
	rate := supplier.TaxRate.Div(hundred)
	if supplier.TaxInclusive {
		base := subtotal.Div(decimal.NewFromInt(1).Add(rate))
		tax = subtotal.Sub(base).Round(2)
		return subtotal, tax, subtotal
	}
	tax = subtotal.Mul(rate).Round(2)
	return subtotal, tax, subtotal.Add(tax)
}

// SubmitPurchaseOrder moves a DRAFT to SUBMITTED and starts approval.
func (s *Service) SubmitPurchaseOrder(ctx context.Context, actor shared.Actor, id int64) (PurchaseOrder, error) {
	if err := shared.RequireAnyRole(actor, "submit purchase order", shared.RolePurchasing); err != nil {
		return PurchaseOrder{}, err
	}
	po, err := s.transitionPO(ctx, actor, id, shared.ActionSubmit, []POStatus{POStatusDraft},
		func(ctx context.Context, _ TxRepository, po *PurchaseOrder, now time.Time) (map[string]any, error) {
			po.Status = POStatusSubmitted
			po.Submitted = stampOf(actor.ID(), now)
			if !s.usesWorkflow() {
				return nil, nil
			}
			created, err := s.approvals.Initiate(ctx, *po, s.workflow)
			if err != nil {
				return nil, err
			}
			if len(created) == 0 {
				po.Status = POStatusApproved
				po.Approved = stampOf(actor.ID(), now)
			}
			return map[string]any{"workflow": s.workflow, "approvals": len(created)}, nil
		})
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !s.usesWorkflow() {
		notify.AfterCommit(ctx, s.notifier, s.logger,
			notify.NewEvent(notify.ApprovalRequired, po.Ref(), po.Number, notify.ToRole(string(StepFinance)), s.clock.Now()).
				With("step", string(StepFinance)))
	}
	return po, nil
}

// ApprovePurchaseOrder performs the next approval step. With the fixed steps
// finance moves SUBMITTED to IN_APPROVAL, gm only appends history and director
// finalises to APPROVED.
func (s *Service) ApprovePurchaseOrder(ctx context.Context, actor shared.Actor, id int64, note string) (PurchaseOrder, error) {
	if s.usesWorkflow() {
		return s.approveWithWorkflow(ctx, actor, id, note)
	}
	var (
		step     ApprovalStep
		nextStep ApprovalStep
		hasNext  bool
	)
	po, err := s.transitionPO(ctx, actor, id, shared.ActionApprove, []POStatus{POStatusSubmitted, POStatusInApproval},
		func(ctx context.Context, _ TxRepository, po *PurchaseOrder, now time.Time) (map[string]any, error) {
			var err error
			if step, err = s.pendingStep(ctx, *po); err != nil {
				return nil, err
			}
			if err := shared.RequireAnyRole(actor, "approve purchase order ("+string(step)+")", string(step)); err != nil {
				return nil, err
			}
			po.Status = statusAfterStep(step, po.Status)
			if po.Status == POStatusApproved {
				po.Approved = stampOf(actor.ID(), now)
			}
			nextStep, hasNext = stepAfter(step)
			meta := map[string]any{stepMetaKey: string(step)}
			if note != "" {
				meta["note"] = note
			}
			return meta, nil
		})
	if err != nil {
		return PurchaseOrder{}, err
	}
	if hasNext {
		notify.AfterCommit(ctx, s.notifier, s.logger,
			notify.NewEvent(notify.ApprovalRequired, po.Ref(), po.Number, notify.ToRole(string(nextStep)), s.clock.Now()).
				With("step", string(nextStep)))
	} else {
		notify.AfterCommit(ctx, s.notifier, s.logger,
			notify.NewEvent(notify.DocumentApproved, po.Ref(), po.Number, notify.ToUser(po.CreatedBy), s.clock.Now()))
	}
	return po, nil
}

// pendingStep replays history to find the step awaiting approval and checks
// the stored status agrees with it.
func (s *Service) pendingStep(ctx context.Context, po PurchaseOrder) (ApprovalStep, error) {
	var history []shared.StatusHistory
	if s.history != nil {
		var err error
		if history, err = s.history.List(ctx, po.Ref()); err != nil {
			return "", err
		}
	}
	step, ok := NextApprovalStep(CompletedApprovalSteps(history))
	if !ok {
		return "", shared.InvalidTransition(string(po.Status), string(POStatusApproved))
	}
	want := POStatusInApproval
	if step == StepFinance {
		want = POStatusSubmitted
	}
	if po.Status != want {
		return "", shared.InvalidTransition(string(po.Status), string(want))
	}
	return step, nil
}

func (s *Service) approveWithWorkflow(ctx context.Context, actor shared.Actor, id int64, note string) (PurchaseOrder, error) {
	return s.transitionPO(ctx, actor, id, shared.ActionApprove, []POStatus{POStatusSubmitted, POStatusInApproval},
		func(ctx context.Context, _ TxRepository, po *PurchaseOrder, now time.Time) (map[string]any, error) {
			pending, ok, err := s.approvals.GetNextPendingApproval(ctx, po.Ref())
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, shared.InvalidTransition(string(po.Status), string(POStatusApproved))
			}
			if _, err := s.approvals.Approve(ctx, actor, pending.ID, note); err != nil {
				return nil, err
			}
			_, more, err := s.approvals.GetNextPendingApproval(ctx, po.Ref())
			if err != nil {
				return nil, err
			}
			po.Status = POStatusInApproval
			if !more {
				po.Status = POStatusApproved
				po.Approved = stampOf(actor.ID(), now)
			}
			meta := map[string]any{stepMetaKey: pending.StepName, "approval_id": pending.ID}
			if note != "" {
				meta["note"] = note
			}
			return meta, nil
		})
}

// RejectPurchaseOrder rejects an order under approval. The actor must own the
// pending step.
func (s *Service) RejectPurchaseOrder(ctx context.Context, actor shared.Actor, id int64, reason string) (PurchaseOrder, error) {
	if err := requireReason(reason); err != nil {
		return PurchaseOrder{}, err
	}
	po, err := s.transitionPO(ctx, actor, id, shared.ActionReject, []POStatus{POStatusSubmitted, POStatusInApproval},
		func(ctx context.Context, _ TxRepository, po *PurchaseOrder, now time.Time) (map[string]any, error) {
			meta := map[string]any{"reason": reason}
			if s.usesWorkflow() {
				pending, ok, err := s.approvals.GetNextPendingApproval(ctx, po.Ref())
				if err != nil {
					return nil, err
				}
				if !ok {
					return nil, shared.InvalidTransition(string(po.Status), string(POStatusSubmitted), string(POStatusInApproval))
				}
				if _, err := s.approvals.Reject(ctx, actor, pending.ID, reason); err != nil {
					return nil, err
				}
				meta[stepMetaKey] = pending.StepName
			} else {
				step, err := s.pendingStep(ctx, *po)
				if err != nil {
					return nil, err
				}
				if err := shared.RequireAnyRole(actor, "reject purchase order ("+string(step)+")", string(step)); err != nil {
					return nil, err
				}
				meta[stepMetaKey] = string(step)
			}
			po.Status = POStatusRejected
			po.Rejected = stampOf(actor.ID(), now)
			po.RejectionReason = reason
			return meta, nil
		})
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !s.usesWorkflow() {
		notify.AfterCommit(ctx, s.notifier, s.logger,
			notify.NewEvent(notify.DocumentRejected, po.Ref(), po.Number, notify.ToUser(po.CreatedBy), s.clock.Now()).With("reason", reason))
	}
	return po, nil
}

// CancelPurchaseOrder cancels an order that is not yet approved.
func (s *Service) CancelPurchaseOrder(ctx context.Context, actor shared.Actor, id int64, reason string) (PurchaseOrder, error) {
	if err := shared.RequireAnyRole(actor, "cancel purchase order", shared.RolePurchasing); err != nil {
		return PurchaseOrder{}, err
	}
	if err := requireReason(reason); err != nil {
		return PurchaseOrder{}, err
	}
	return s.transitionPO(ctx, actor, id, shared.ActionCancel, []POStatus{POStatusDraft, POStatusSubmitted, POStatusInApproval},
		func(ctx context.Context, _ TxRepository, po *PurchaseOrder, now time.Time) (map[string]any, error) {
			meta := map[string]any{"reason": reason}
			if s.usesWorkflow() {
				n, err := s.approvals.CancelPending(ctx, po.Ref(), actor.ID(), reason)
				if err != nil {
					return nil, err
				}
				meta["cancelled_approvals"] = n
			}
			po.Status = POStatusCancelled
			po.Cancelled = stampOf(actor.ID(), now)
			po.CancellationReason = reason
			return meta, nil
		})
}

// ReopenPurchaseOrder returns a CANCELLED order to DRAFT. The cancellation
// fields are kept for audit.
func (s *Service) ReopenPurchaseOrder(ctx context.Context, actor shared.Actor, id int64) (PurchaseOrder, error) {
	if err := shared.RequireAnyRole(actor, "reopen purchase order", shared.RolePurchasing); err != nil {
		return PurchaseOrder{}, err
	}
	return s.transitionPO(ctx, actor, id, shared.ActionReopen, []POStatus{POStatusCancelled},
		func(_ context.Context, _ TxRepository, po *PurchaseOrder, now time.Time) (map[string]any, error) {
			po.Status = POStatusDraft
			po.Reopened = stampOf(actor.ID(), now)
			return nil, nil
		})
}

// ClosePurchaseOrder closes an APPROVED order.
func (s *Service) ClosePurchaseOrder(ctx context.Context, actor shared.Actor, id int64) (PurchaseOrder, error) {
	if err := shared.RequireAnyRole(actor, "close purchase order", shared.RolePurchasing); err != nil {
		return PurchaseOrder{}, err
	}
	return s.transitionPO(ctx, actor, id, shared.ActionClose, []POStatus{POStatusApproved},
		func(_ context.Context, _ TxRepository, po *PurchaseOrder, now time.Time) (map[string]any, error) {
			po.Status = POStatusClosed
			po.Closed = stampOf(actor.ID(), now)
			return nil, nil
		})
}

// GetPurchaseOrder loads an order with lines.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.repo.GetPO(ctx, id)
}

// GetPurchaseOrderLine loads one order line.
func (s *Service) GetPurchaseOrderLine(ctx context.Context, id int64) (POLine, error) {
	return s.repo.GetPOLine(ctx, id)
}

// PurchaseOrderHistory returns the status history of an order.
func (s *Service) PurchaseOrderHistory(ctx context.Context, id int64) ([]shared.StatusHistory, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.List(ctx, shared.DocumentRef{Kind: shared.DocPurchaseOrder, ID: id})
}

type poChange func(ctx context.Context, tx TxRepository, po *PurchaseOrder, now time.Time) (map[string]any, error)

// transitionPO locks the order, checks its status, applies change (which sets
// the new status) and appends history in one transaction.
func (s *Service) transitionPO(ctx context.Context, actor shared.Actor, id int64, action string, from []POStatus, change poChange) (PurchaseOrder, error) {
	if actor == nil {
		return PurchaseOrder{}, shared.Forbidden(action + " purchase order: missing actor")
	}
	var out PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, id)
		if err != nil {
			return err
		}
		if !containsStatus(from, po.Status) {
			return shared.InvalidTransition(string(po.Status), statusNames(from)...)
		}
		prev := po.Status
		now := s.clock.Now()
		meta, err := change(ctx, tx, &po, now)
		if err != nil {
			return err
		}
		po.UpdatedAt = now
		if err := tx.UpdatePO(ctx, po); err != nil {
			return err
		}
		out = po
		return s.appendHistory(ctx, po.Ref(), string(prev), string(po.Status), action, actor.ID(), meta)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actor.ID(), "PO_"+upper(action), out.Ref(), map[string]any{"number": out.Number, "status": string(out.Status)})
	return out, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
