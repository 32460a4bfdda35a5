package ap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/masterdata"
	"github.com/odyssey-erp/odyssey-scm/internal/notify"
	"github.com/odyssey-erp/odyssey-scm/internal/numbering"
	"github.com/odyssey-erp/odyssey-scm/internal/platform/storage"
	"github.com/odyssey-erp/odyssey-scm/internal/procurement"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// CreateInvoice registers a DRAFT supplier invoice against an approved
// purchase order. The attachment, when given, is stored first and removed
// again if the transaction fails.
func (s *Service) CreateInvoice(ctx context.Context, actor shared.Actor, input CreateInvoiceInput, attachment *File) (Invoice, error) {
	if err := shared.RequireAnyRole(actor, "create supplier invoice", shared.RoleFinance); err != nil {
		return Invoice{}, err
	}
	if err := shared.ValidateStruct(input); err != nil {
		return Invoice{}, err
	}
	var name string
	if attachment != nil {
		name = attachment.Name
	}
	path, cleanup, err := s.storeFile(ctx, storage.ObjectKey("invoices/"+strconv.FormatInt(input.SupplierID, 10), name), attachment)
	if err != nil {
		return Invoice{}, err
	}

	var created Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := s.procurement.GetPurchaseOrder(ctx, input.PurchaseOrderID)
		if err != nil {
			return err
		}
		if po.Status != procurement.POStatusApproved && po.Status != procurement.POStatusClosed {
			return shared.InvalidTransition(string(po.Status), string(procurement.POStatusApproved), string(procurement.POStatusClosed))
		}
		if po.SupplierID != input.SupplierID {
			return shared.Validation("supplier_id", fmt.Sprintf("purchase order %s belongs to another supplier", po.Number))
		}
		taken, err := tx.SupplierInvoiceNumberTaken(ctx, input.SupplierID, input.SupplierInvoiceNumber)
		if err != nil {
			return err
		}
		if taken {
			return shared.Validation("supplier_invoice_number", "supplier invoice number already registered")
		}
		lines, err := s.buildLines(ctx, po, input.Lines)
		if err != nil {
			return err
		}
		if s.numbers == nil {
			return fmt.Errorf("ap: number generator not configured")
		}
		number, err := s.numbers.Generate(ctx, numbering.PrefixSupplierInvoice)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		invoiceDate := input.InvoiceDate
		if invoiceDate.IsZero() {
			invoiceDate = now
		}
		subtotal := sumLines(lines)
		total := subtotal.Add(input.TaxAmount).Sub(input.DiscountAmount)
		if total.IsNegative() {
			return shared.Validation("discount_amount", "discount exceeds invoice amount")
		}
		inv, err := tx.InsertInvoice(ctx, Invoice{
			Number:                number,
			SupplierInvoiceNumber: input.SupplierInvoiceNumber,
			SupplierID:            input.SupplierID,
			PurchaseOrderID:       po.ID,
			InvoiceDate:           invoiceDate,
			DueDate:               input.DueDate,
			Status:                StatusDraft,
			MatchingStatus:        MatchPending,
			PaymentStatus:         PaymentUnpaid,
			Subtotal:              subtotal,
			TaxAmount:             input.TaxAmount,
			DiscountAmount:        input.DiscountAmount,
			TotalAmount:           total,
			PaidAmount:            decimal.Zero,
			RemainingAmount:       total,
			AttachmentPath:        path,
			Note:                  input.Note,
			CreatedBy:             actor.ID(),
			CreatedAt:             now,
			UpdatedAt:             now,
			Lines:                 lines,
		})
		if err != nil {
			return err
		}
		created = inv
		return s.appendHistory(ctx, inv, "", shared.ActionCreate, actor.ID(), map[string]any{"purchase_order_id": po.ID})
	})
	if err != nil {
		cleanup()
		return Invoice{}, err
	}
	s.recordAudit(ctx, actor.ID(), "AP_INVOICE_CREATE", string(shared.DocSupplierInvoice), created.ID,
		map[string]any{"number": created.Number, "total_amount": created.TotalAmount.String()})
	return created, nil
}

// buildLines validates optional PO and GR line links. A linked GR line must
// belong to a posted receipt of the same order; when both links are given
// they must agree.
func (s *Service) buildLines(ctx context.Context, po procurement.PurchaseOrder, inputs []LineInput) ([]InvoiceLine, error) {
	poLines := make(map[int64]procurement.POLine, len(po.Lines))
	for _, l := range po.Lines {
		poLines[l.ID] = l
	}
	fields := shared.FieldErrors{}
	lines := make([]InvoiceLine, 0, len(inputs))
	for i, in := range inputs {
		poLineID := in.PurchaseOrderLineID
		if in.GoodsReceiptLineID != nil {
			gl, err := s.procurement.GetGoodsReceiptLine(ctx, *in.GoodsReceiptLineID)
			if errors.Is(err, shared.ErrNotFound) {
				fields.Add(shared.LineField(i, "goods_receipt_line_id"), "goods receipt line not found")
				continue
			}
			if err != nil {
				return nil, err
			}
			gr, err := s.procurement.GetGoodsReceipt(ctx, gl.GoodsReceiptID)
			if err != nil {
				return nil, err
			}
			if gr.PurchaseOrderID != po.ID || !gr.Status.IsPosted() {
				fields.Addf(shared.LineField(i, "goods_receipt_line_id"), "line %d is not on a posted receipt of %s", gl.ID, po.Number)
				continue
			}
			if poLineID != nil && *poLineID != gl.PurchaseOrderLineID {
				fields.Add(shared.LineField(i, "goods_receipt_line_id"), "goods receipt line does not receive the purchase order line")
				continue
			}
			poLineID = ptr(gl.PurchaseOrderLineID)
		}
		if poLineID != nil {
			pl, ok := poLines[*poLineID]
			if !ok {
				fields.Addf(shared.LineField(i, "purchase_order_line_id"), "line %d does not belong to %s", *poLineID, po.Number)
				continue
			}
			if pl.ItemID != in.ItemID {
				fields.Add(shared.LineField(i, "item_id"), "item differs from the purchase order line")
				continue
			}
		}
		item, err := s.lookup.GetItem(ctx, in.ItemID)
		if errors.Is(err, shared.ErrNotFound) {
			fields.Add(shared.LineField(i, "item_id"), "item not found")
			continue
		}
		if err != nil {
			return nil, err
		}
		lines = append(lines, InvoiceLine{
			PurchaseOrderLineID: poLineID,
			GoodsReceiptLineID:  in.GoodsReceiptLineID,
			ItemID:              item.ID,
			ItemSnapshot:        masterdata.Snapshot(item),
			InvoicedQty:         in.Qty,
			InvoicedUnitPrice:   in.UnitPrice,
			InvoicedLineTotal:   in.Qty.Mul(in.UnitPrice).Round(2),
			MatchingStatus:      MatchPending,
		})
	}
	if err := fields.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// SubmitInvoice moves a DRAFT invoice to SUBMITTED, ready for matching.
func (s *Service) SubmitInvoice(ctx context.Context, actor shared.Actor, id int64) (Invoice, error) {
	if err := shared.RequireAnyRole(actor, "submit supplier invoice", shared.RoleFinance); err != nil {
		return Invoice{}, err
	}
	var out Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != StatusDraft {
			return shared.InvalidTransition(string(inv.Status), string(StatusDraft))
		}
		now := s.clock.Now()
		inv.Status = StatusSubmitted
		inv.SubmittedAt, inv.SubmittedBy = &now, ptr(actor.ID())
		inv.UpdatedAt = now
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		out = inv
		return s.appendHistory(ctx, inv, StatusDraft, shared.ActionSubmit, actor.ID(), nil)
	})
	if err != nil {
		return Invoice{}, err
	}
	return out, nil
}

type lineDetail struct {
	LineID          int64       `json:"line_id"`
	Status          MatchStatus `json:"status"`
	WithinTolerance bool        `json:"within_tolerance"`
	QtyVariance     string      `json:"qty_variance"`
	PriceVariance   string      `json:"price_variance"`
	AmountVariance  string      `json:"amount_variance"`
}

// PerformThreeWayMatch compares every line with its goods receipt and
// purchase order line under the supplier's tolerance config. Exact matches
// approve the invoice; breaches park it in VARIANCE for dual-role approval.
// Over-invoicing aborts the whole match.
func (s *Service) PerformThreeWayMatch(ctx context.Context, actor shared.Actor, id int64) (Invoice, MatchingResult, error) {
	if err := shared.RequireAnyRole(actor, "match supplier invoice", shared.RoleFinance); err != nil {
		return Invoice{}, MatchingResult{}, err
	}
	var (
		out    Invoice
		result MatchingResult
		exact  bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if inv.Status != StatusSubmitted && inv.Status != StatusVariance {
			return shared.InvalidTransition(string(inv.Status), string(StatusSubmitted), string(StatusVariance))
		}
		cfg, err := s.resolveConfig(ctx, tx, inv.SupplierID)
		if err != nil {
			return err
		}

		fields := shared.FieldErrors{}
		matches := make([]LineMatch, 0, len(inv.Lines))
		for i, l := range inv.Lines {
			if l.PurchaseOrderLineID == nil {
				fields.Add(shared.LineField(i, "purchase_order_line_id"), "purchase order line link required for matching")
			}
			if l.GoodsReceiptLineID == nil {
				fields.Add(shared.LineField(i, "goods_receipt_line_id"), "goods receipt line link required for matching")
			}
			if l.PurchaseOrderLineID == nil || l.GoodsReceiptLineID == nil {
				continue
			}
			pl, err := s.procurement.GetPurchaseOrderLine(ctx, *l.PurchaseOrderLineID)
			if err != nil {
				return err
			}
			gl, err := s.procurement.GetGoodsReceiptLine(ctx, *l.GoodsReceiptLineID)
			if err != nil {
				return err
			}
			m := MatchLine(l.InvoicedQty, l.InvoicedUnitPrice, l.InvoicedLineTotal,
				LineFacts{ReceivedQty: gl.ReceivedQty, POUnitPrice: pl.UnitPrice}, cfg)
			if m.Status == MatchOverInvoiced {
				fields.Addf(shared.LineField(i, "qty"), "invoiced qty %s exceeds received qty %s", l.InvoicedQty.String(), gl.ReceivedQty.String())
			}
			matches = append(matches, m)
		}
		if err := fields.Err(); err != nil {
			return err
		}

		status, isExact := Outcome(matches)
		exact = isExact
		details := make([]lineDetail, 0, len(matches))
		totalQty, totalPrice, totalAmount := decimal.Zero, decimal.Zero, decimal.Zero
		for i, m := range matches {
			l := &inv.Lines[i]
			l.ExpectedQty, l.ExpectedUnitPrice, l.ExpectedLineTotal = m.ExpectedQty, m.ExpectedUnitPrice, m.ExpectedLineTotal
			l.QtyVariance, l.QtyVariancePct = m.QtyVariance, m.QtyVariancePct
			l.PriceVariance, l.PriceVariancePct = m.PriceVariance, m.PriceVariancePct
			l.AmountVariance, l.AmountVariancePct = m.AmountVariance, m.AmountVariancePct
			l.MatchingStatus, l.WithinTolerance = m.Status, m.WithinTolerance
			totalQty = totalQty.Add(m.QtyVariance)
			totalPrice = totalPrice.Add(m.PriceVariance)
			totalAmount = totalAmount.Add(m.AmountVariance)
			details = append(details, lineDetail{
				LineID:          l.ID,
				Status:          m.Status,
				WithinTolerance: m.WithinTolerance,
				QtyVariance:     m.QtyVariance.String(),
				PriceVariance:   m.PriceVariance.String(),
				AmountVariance:  m.AmountVariance.String(),
			})
		}
		if err := tx.UpdateInvoiceLines(ctx, inv.Lines); err != nil {
			return err
		}
		raw, err := json.Marshal(details)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		result, err = tx.InsertMatchingResult(ctx, MatchingResult{
			InvoiceID:           inv.ID,
			ConfigID:            cfg.ID,
			ConfigScope:         cfg.Scope,
			QtyTolerancePct:     cfg.QtyTolerancePct,
			PriceTolerancePct:   cfg.PriceTolerancePct,
			AmountTolerancePct:  cfg.AmountTolerancePct,
			TotalQtyVariance:    totalQty,
			TotalPriceVariance:  totalPrice,
			TotalAmountVariance: totalAmount,
			OverallStatus:       status,
			Details:             raw,
			MatchedBy:           actor.ID(),
			MatchedAt:           now,
		})
		if err != nil {
			return err
		}

		from := inv.Status
		inv.MatchingStatus = status
		inv.MatchedAt, inv.MatchedBy = &now, ptr(actor.ID())
		inv.UpdatedAt = now
		switch {
		case status == MatchVariance:
			inv.Status = StatusVariance
			inv.RequiresApproval = true
		case exact:
			inv.Status = StatusApproved
			inv.RequiresApproval = false
			inv.ApprovedAt, inv.ApprovedBy = &now, ptr(actor.ID())
		default:
			inv.Status = StatusMatched
			inv.RequiresApproval = false
		}
		approved := inv
		settled := exact && settleNothingDue(&inv)
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		meta := map[string]any{"matching_status": string(status), "config_id": cfg.ID}
		out = inv
		if !exact {
			return s.appendHistory(ctx, inv, from, shared.ActionMatch, actor.ID(), meta)
		}
		matched := inv
		matched.Status = StatusMatched
		if err := s.appendHistory(ctx, matched, from, shared.ActionMatch, actor.ID(), meta); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, approved, StatusMatched, shared.ActionApprove, actor.ID(), map[string]any{"auto": true}); err != nil {
			return err
		}
		if settled {
			return s.appendSettledHistory(ctx, inv, actor.ID())
		}
		return nil
	})
	if err != nil {
		return Invoice{}, MatchingResult{}, err
	}

	now := s.clock.Now()
	switch out.Status {
	case StatusVariance:
		notify.AfterCommit(ctx, s.notifier, s.logger,
			notify.NewEvent(notify.ApprovalRequired, out.Ref(), out.Number, notify.ToRole(shared.RoleDeptHead), now).
				With("matching_status", string(out.MatchingStatus)))
	case StatusMatched:
		notify.AfterCommit(ctx, s.notifier, s.logger,
			notify.NewEvent(notify.ApprovalRequired, out.Ref(), out.Number, notify.ToRole(shared.RoleFinance), now))
	case StatusApproved, StatusPaid:
		notify.AfterCommit(ctx, s.notifier, s.logger,
			notify.NewEvent(notify.DocumentApproved, out.Ref(), out.Number, notify.ToUser(out.CreatedBy), now))
	}
	return out, result, nil
}

// settleNothingDue moves an approved invoice with a zero total straight to
// PAID.
func settleNothingDue(inv *Invoice) bool {
	if inv.Status != StatusApproved || !inv.TotalAmount.IsZero() {
		return false
	}
	inv.PaidAmount, inv.RemainingAmount, inv.PaymentStatus = Settle(inv.TotalAmount, inv.PaidAmount, decimal.Zero)
	inv.Status = StatusPaid
	return true
}

func (s *Service) appendSettledHistory(ctx context.Context, inv Invoice, actorID int64) error {
	return s.appendHistory(ctx, inv, StatusApproved, shared.ActionPay, actorID, map[string]any{
		"auto":           true,
		"amount":         "0",
		"payment_status": string(inv.PaymentStatus),
	})
}

// checkDecision gates approve and reject. MATCHED invoices need finance,
// VARIANCE invoices need an actor holding both finance and dept_head.
func checkDecision(actor shared.Actor, inv Invoice, action string) error {
	switch inv.Status {
	case StatusMatched:
		return shared.RequireAnyRole(actor, action, shared.RoleFinance)
	case StatusVariance:
		if actor == nil || !actor.HasRole(shared.RoleFinance) || !actor.HasRole(shared.RoleDeptHead) {
			return shared.Forbidden(action + ": variance invoices require both finance and dept_head roles")
		}
		return nil
	default:
		return shared.InvalidTransition(string(inv.Status), string(StatusMatched), string(StatusVariance))
	}
}

// ApproveInvoice approves a MATCHED or VARIANCE invoice for payment.
func (s *Service) ApproveInvoice(ctx context.Context, actor shared.Actor, id int64, note string) (Invoice, error) {
	var out Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if err := checkDecision(actor, inv, "approve supplier invoice"); err != nil {
			return err
		}
		from := inv.Status
		now := s.clock.Now()
		inv.Status = StatusApproved
		inv.ApprovedAt, inv.ApprovedBy = &now, ptr(actor.ID())
		inv.UpdatedAt = now
		approved := inv
		settled := settleNothingDue(&inv)
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		out = inv
		var meta map[string]any
		if note != "" {
			meta = map[string]any{"note": note}
		}
		if err := s.appendHistory(ctx, approved, from, shared.ActionApprove, actor.ID(), meta); err != nil {
			return err
		}
		if settled {
			return s.appendSettledHistory(ctx, inv, actor.ID())
		}
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	notify.AfterCommit(ctx, s.notifier, s.logger,
		notify.NewEvent(notify.DocumentApproved, out.Ref(), out.Number, notify.ToUser(out.CreatedBy), s.clock.Now()))
	return out, nil
}

// RejectInvoice rejects a MATCHED or VARIANCE invoice. A reason is required.
func (s *Service) RejectInvoice(ctx context.Context, actor shared.Actor, id int64, reason string) (Invoice, error) {
	if reason == "" {
		return Invoice{}, shared.Validation("reason", "rejection reason required")
	}
	var out Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		if err := checkDecision(actor, inv, "reject supplier invoice"); err != nil {
			return err
		}
		from := inv.Status
		now := s.clock.Now()
		inv.Status = StatusRejected
		inv.RejectedAt, inv.RejectedBy = &now, ptr(actor.ID())
		inv.RejectionReason = reason
		inv.UpdatedAt = now
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		out = inv
		return s.appendHistory(ctx, inv, from, shared.ActionReject, actor.ID(), map[string]any{"reason": reason})
	})
	if err != nil {
		return Invoice{}, err
	}
	notify.AfterCommit(ctx, s.notifier, s.logger,
		notify.NewEvent(notify.DocumentRejected, out.Ref(), out.Number, notify.ToUser(out.CreatedBy), s.clock.Now()).With("reason", reason))
	return out, nil
}

// CancelInvoice cancels an invoice that has not been approved yet.
func (s *Service) CancelInvoice(ctx context.Context, actor shared.Actor, id int64, reason string) (Invoice, error) {
	if err := shared.RequireAnyRole(actor, "cancel supplier invoice", shared.RoleFinance); err != nil {
		return Invoice{}, err
	}
	var out Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.LockInvoice(ctx, id)
		if err != nil {
			return err
		}
		switch inv.Status {
		case StatusDraft, StatusSubmitted, StatusMatched, StatusVariance:
		default:
			return shared.InvalidTransition(string(inv.Status),
				string(StatusDraft), string(StatusSubmitted), string(StatusMatched), string(StatusVariance))
		}
		from := inv.Status
		now := s.clock.Now()
		inv.Status = StatusCancelled
		inv.CancelledAt, inv.CancelledBy = &now, ptr(actor.ID())
		inv.UpdatedAt = now
		if err := tx.UpdateInvoice(ctx, inv); err != nil {
			return err
		}
		out = inv
		var meta map[string]any
		if reason != "" {
			meta = map[string]any{"reason": reason}
		}
		return s.appendHistory(ctx, inv, from, shared.ActionCancel, actor.ID(), meta)
	})
	if err != nil {
		return Invoice{}, err
	}
	return out, nil
}
