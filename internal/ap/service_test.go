package ap_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-scm/internal/ap"
	"github.com/odyssey-erp/odyssey-scm/internal/notify"
	"github.com/odyssey-erp/odyssey-scm/internal/procurement"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
	"github.com/odyssey-erp/odyssey-scm/internal/testing/fixture"
)

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, fixture.Qty(want).Equal(got), "want %s, got %s", want, got.String())
}

func received(t *testing.T, w *fixture.World, price, qty string) (procurement.PurchaseOrder, procurement.GoodsReceipt) {
	t.Helper()
	po := w.ApprovedOrder(t, price, fixture.Line{Item: fixture.ItemBolt, UOM: fixture.UOMPcs, Qty: qty})
	return po, w.PostedReceipt(t, po, qty)
}

func invoiceInput(po procurement.PurchaseOrder, gr procurement.GoodsReceipt, qty, price string) ap.CreateInvoiceInput {
	poLine, grLine := po.Lines[0].ID, gr.Lines[0].ID
	return ap.CreateInvoiceInput{
		SupplierInvoiceNumber: "ACME-INV-001",
		SupplierID:            fixture.SupplierAcme,
		PurchaseOrderID:       po.ID,
		Lines: []ap.LineInput{{
			PurchaseOrderLineID: &poLine,
			GoodsReceiptLineID:  &grLine,
			ItemID:              fixture.ItemBolt,
			Qty:                 fixture.Qty(qty),
			UnitPrice:           fixture.Qty(price),
		}},
	}
}

func submitted(t *testing.T, w *fixture.World, in ap.CreateInvoiceInput) ap.Invoice {
	t.Helper()
	ctx := context.Background()
	inv, err := w.AP.CreateInvoice(ctx, fixture.Finance, in, nil)
	require.NoError(t, err)
	inv, err = w.AP.SubmitInvoice(ctx, fixture.Finance, inv.ID)
	require.NoError(t, err)
	return inv
}

func invoiceEvents(w *fixture.World, typ notify.EventType) []notify.Event {
	var out []notify.Event
	for _, e := range w.Notifier.OfType(typ) {
		if e.Document.Kind == shared.DocSupplierInvoice {
			out = append(out, e)
		}
	}
	return out
}

func TestExactMatchAutoApproves(t *testing.T) {
	w := fixture.NewWorld(t)
	po, gr := received(t, w, "1000", "10")
	inv := submitted(t, w, invoiceInput(po, gr, "10", "1000"))
	require.Equal(t, "SI-202501-0001", inv.Number)
	requireAmount(t, "10000", inv.TotalAmount)
	requireAmount(t, "10000", inv.RemainingAmount)

	inv, res, err := w.AP.PerformThreeWayMatch(context.Background(), fixture.Finance, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ap.StatusApproved, inv.Status)
	require.Equal(t, ap.MatchMatched, inv.MatchingStatus)
	require.False(t, inv.RequiresApproval)
	require.NotNil(t, inv.ApprovedBy)
	require.Equal(t, ap.MatchMatched, res.OverallStatus)
	require.Equal(t, ap.ScopeGlobal, res.ConfigScope)

	stored, err := w.AP.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	line := stored.Lines[0]
	require.Equal(t, ap.MatchMatched, line.MatchingStatus)
	require.True(t, line.WithinTolerance)
	requireAmount(t, "10", line.ExpectedQty)
	requireAmount(t, "10000", line.ExpectedLineTotal)

	hist, err := w.History.List(context.Background(), inv.Ref())
	require.NoError(t, err)
	status, ok := shared.ReplayStatus(hist)
	require.True(t, ok)
	require.Equal(t, string(ap.StatusApproved), status)
	require.Len(t, invoiceEvents(w, notify.DocumentApproved), 1)
}

func TestZeroTotalInvoiceIsPaidOnAutoApproval(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	po, gr := received(t, w, "1000", "10")
	in := invoiceInput(po, gr, "10", "1000")
	in.DiscountAmount = fixture.Qty("10000")
	inv := submitted(t, w, in)
	requireAmount(t, "0", inv.TotalAmount)

	inv, _, err := w.AP.PerformThreeWayMatch(ctx, fixture.Finance, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ap.StatusPaid, inv.Status)
	require.Equal(t, ap.PaymentPaid, inv.PaymentStatus)
	requireAmount(t, "0", inv.RemainingAmount)
	require.NotNil(t, inv.ApprovedBy)

	stored, err := w.AP.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ap.StatusPaid, stored.Status)
	require.Equal(t, ap.PaymentPaid, stored.PaymentStatus)

	hist, err := w.History.List(ctx, inv.Ref())
	require.NoError(t, err)
	status, ok := shared.ReplayStatus(hist)
	require.True(t, ok)
	require.Equal(t, string(ap.StatusPaid), status)
	require.Equal(t, string(ap.StatusApproved), hist[len(hist)-2].ToStatus)
	require.Len(t, invoiceEvents(w, notify.DocumentApproved), 1)
}

func TestZeroTotalInvoiceIsPaidOnManualApproval(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	po, gr := received(t, w, "1000", "10")
	in := invoiceInput(po, gr, "10", "1050")
	in.DiscountAmount = fixture.Qty("10500")
	inv := submitted(t, w, in)

	inv, _, err := w.AP.PerformThreeWayMatch(ctx, fixture.Finance, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ap.StatusVariance, inv.Status)
	require.Equal(t, ap.PaymentUnpaid, inv.PaymentStatus)

	inv, err = w.AP.ApproveInvoice(ctx, fixture.FinanceHead, inv.ID, "credit note applied")
	require.NoError(t, err)
	require.Equal(t, ap.StatusPaid, inv.Status)
	require.Equal(t, ap.PaymentPaid, inv.PaymentStatus)
	requireAmount(t, "0", inv.PaidAmount)
	requireAmount(t, "0", inv.RemainingAmount)
}

func TestOverInvoicingAbortsMatch(t *testing.T) {
	w := fixture.NewWorld(t)
	po, gr := received(t, w, "1000", "10")
	inv := submitted(t, w, invoiceInput(po, gr, "12", "1000"))

	_, _, err := w.AP.PerformThreeWayMatch(context.Background(), fixture.Finance, inv.ID)
	var derr *shared.Error
	require.ErrorAs(t, err, &derr)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, derr.Field("lines.0.qty")[0], "exceeds received qty")

	stored, err := w.AP.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, ap.StatusSubmitted, stored.Status)
	require.Equal(t, ap.MatchPending, stored.MatchingStatus)
	require.Equal(t, ap.MatchPending, stored.Lines[0].MatchingStatus)
	_, err = w.AP.LatestMatchingResult(context.Background(), inv.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestOverInvoicingIgnoresAllowOverInvoicing(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	_, err := w.AP.UpsertConfig(ctx, fixture.Finance, ap.ConfigInput{
		QtyTolerancePct:    fixture.Qty("50"),
		PriceTolerancePct:  fixture.Qty("50"),
		AmountTolerancePct: fixture.Qty("50"),
		AllowOverInvoicing: true,
	})
	require.NoError(t, err)
	po, gr := received(t, w, "1000", "10")
	inv := submitted(t, w, invoiceInput(po, gr, "11", "1000"))

	_, _, err = w.AP.PerformThreeWayMatch(ctx, fixture.Finance, inv.ID)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPriceVarianceRequiresDualRoleApproval(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	po, gr := received(t, w, "1000", "10")
	inv := submitted(t, w, invoiceInput(po, gr, "10", "1050"))

	inv, res, err := w.AP.PerformThreeWayMatch(ctx, fixture.Finance, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ap.StatusVariance, inv.Status)
	require.Equal(t, ap.MatchVariance, inv.MatchingStatus)
	require.True(t, inv.RequiresApproval)
	require.Equal(t, ap.MatchVariance, res.OverallStatus)
	requireAmount(t, "50", res.TotalPriceVariance)

	stored, err := w.AP.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ap.MatchPriceVariance, stored.Lines[0].MatchingStatus)
	require.False(t, stored.Lines[0].WithinTolerance)
	requireAmount(t, "5", stored.Lines[0].PriceVariancePct)

	events := invoiceEvents(w, notify.ApprovalRequired)
	require.Len(t, events, 1)
	require.Equal(t, shared.RoleDeptHead, events[0].Recipient.Role)

	_, err = w.AP.ApproveInvoice(ctx, fixture.Finance, inv.ID, "")
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = w.AP.ApproveInvoice(ctx, fixture.DeptHead, inv.ID, "")
	require.ErrorIs(t, err, shared.ErrForbidden)

	approved, err := w.AP.ApproveInvoice(ctx, fixture.FinanceHead, inv.ID, "price agreed by phone")
	require.NoError(t, err)
	require.Equal(t, ap.StatusApproved, approved.Status)
	require.Equal(t, fixture.FinanceHead.UserID, *approved.ApprovedBy)
}

func TestVarianceWithinToleranceAwaitsFinanceApproval(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	supplier := fixture.SupplierAcme
	_, err := w.AP.UpsertConfig(ctx, fixture.Finance, ap.ConfigInput{
		SupplierID:         &supplier,
		PriceTolerancePct:  fixture.Qty("10"),
		AmountTolerancePct: fixture.Qty("10"),
	})
	require.NoError(t, err)
	po, gr := received(t, w, "1000", "10")
	inv := submitted(t, w, invoiceInput(po, gr, "10", "1050"))

	inv, res, err := w.AP.PerformThreeWayMatch(ctx, fixture.Finance, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ap.StatusMatched, inv.Status)
	require.False(t, inv.RequiresApproval)
	require.Equal(t, ap.ScopeSupplier, res.ConfigScope)

	_, err = w.AP.ApproveInvoice(ctx, fixture.Purchasing, inv.ID, "")
	require.ErrorIs(t, err, shared.ErrForbidden)
	inv, err = w.AP.ApproveInvoice(ctx, fixture.Finance, inv.ID, "")
	require.NoError(t, err)
	require.Equal(t, ap.StatusApproved, inv.Status)
}

func TestUnderInvoicingAllowedByConfig(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	_, err := w.AP.UpsertConfig(ctx, fixture.Finance, ap.ConfigInput{AllowUnderInvoicing: true})
	require.NoError(t, err)
	po, gr := received(t, w, "1000", "10")
	inv := submitted(t, w, invoiceInput(po, gr, "8", "1000"))

	inv, _, err = w.AP.PerformThreeWayMatch(ctx, fixture.Finance, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ap.StatusMatched, inv.Status)
	stored, err := w.AP.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.True(t, stored.Lines[0].WithinTolerance)
	requireAmount(t, "-2", stored.Lines[0].QtyVariance)
}

func TestRejectVarianceInvoice(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	po, gr := received(t, w, "1000", "10")
	inv := submitted(t, w, invoiceInput(po, gr, "9", "1000"))
	inv, _, err := w.AP.PerformThreeWayMatch(ctx, fixture.Finance, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ap.StatusVariance, inv.Status)

	_, err = w.AP.RejectInvoice(ctx, fixture.FinanceHead, inv.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = w.AP.RejectInvoice(ctx, fixture.Finance, inv.ID, "short delivery")
	require.ErrorIs(t, err, shared.ErrForbidden)

	inv, err = w.AP.RejectInvoice(ctx, fixture.FinanceHead, inv.ID, "short delivery")
	require.NoError(t, err)
	require.Equal(t, ap.StatusRejected, inv.Status)
	require.Equal(t, "short delivery", inv.RejectionReason)
	require.Len(t, invoiceEvents(w, notify.DocumentRejected), 1)

	_, err = w.AP.ApproveInvoice(ctx, fixture.FinanceHead, inv.ID, "")
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestMatchRequiresLinks(t *testing.T) {
	w := fixture.NewWorld(t)
	po, gr := received(t, w, "1000", "10")
	in := invoiceInput(po, gr, "10", "1000")
	in.Lines[0].PurchaseOrderLineID = nil
	in.Lines[0].GoodsReceiptLineID = nil
	inv := submitted(t, w, in)

	_, _, err := w.AP.PerformThreeWayMatch(context.Background(), fixture.Finance, inv.ID)
	var derr *shared.Error
	require.ErrorAs(t, err, &derr)
	require.NotEmpty(t, derr.Field("lines.0.purchase_order_line_id"))
	require.NotEmpty(t, derr.Field("lines.0.goods_receipt_line_id"))
}

func TestCreateInvoiceValidatesLinks(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	po, gr := received(t, w, "1000", "10")
	otherPO, otherGR := received(t, w, "1000", "5")

	in := invoiceInput(po, gr, "10", "1000")
	foreign := otherPO.Lines[0].ID
	in.Lines[0].GoodsReceiptLineID = nil
	in.Lines[0].PurchaseOrderLineID = &foreign
	_, err := w.AP.CreateInvoice(ctx, fixture.Finance, in, nil)
	var derr *shared.Error
	require.ErrorAs(t, err, &derr)
	require.NotEmpty(t, derr.Field("lines.0.purchase_order_line_id"))

	in = invoiceInput(po, gr, "10", "1000")
	foreignGR := otherGR.Lines[0].ID
	in.Lines[0].GoodsReceiptLineID = &foreignGR
	_, err = w.AP.CreateInvoice(ctx, fixture.Finance, in, nil)
	require.ErrorAs(t, err, &derr)
	require.NotEmpty(t, derr.Field("lines.0.goods_receipt_line_id"))

	in = invoiceInput(po, gr, "10", "1000")
	in.Lines[0].ItemID = fixture.ItemWidget
	_, err = w.AP.CreateInvoice(ctx, fixture.Finance, in, nil)
	require.ErrorAs(t, err, &derr)
	require.NotEmpty(t, derr.Field("lines.0.item_id"))

	in = invoiceInput(po, gr, "10", "1000")
	in.SupplierID = fixture.SupplierInactive
	_, err = w.AP.CreateInvoice(ctx, fixture.Finance, in, nil)
	require.ErrorAs(t, err, &derr)
	require.NotEmpty(t, derr.Field("supplier_id"))

	_, err = w.AP.CreateInvoice(ctx, fixture.Purchasing, invoiceInput(po, gr, "10", "1000"), nil)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestCreateInvoiceDerivesPOLineFromReceiptLine(t *testing.T) {
	w := fixture.NewWorld(t)
	po, gr := received(t, w, "1000", "10")
	in := invoiceInput(po, gr, "10", "1000")
	in.Lines[0].PurchaseOrderLineID = nil
	in.TaxAmount = fixture.Qty("1100")
	in.DiscountAmount = fixture.Qty("100")

	inv, err := w.AP.CreateInvoice(context.Background(), fixture.Finance, in, nil)
	require.NoError(t, err)
	require.NotNil(t, inv.Lines[0].PurchaseOrderLineID)
	require.Equal(t, po.Lines[0].ID, *inv.Lines[0].PurchaseOrderLineID)
	requireAmount(t, "10000", inv.Subtotal)
	requireAmount(t, "11000", inv.TotalAmount)
	require.Equal(t, ap.PaymentUnpaid, inv.PaymentStatus)
}

func TestDuplicateSupplierInvoiceNumber(t *testing.T) {
	w := fixture.NewWorld(t)
	po, gr := received(t, w, "1000", "10")
	_, err := w.AP.CreateInvoice(context.Background(), fixture.Finance, invoiceInput(po, gr, "5", "1000"), nil)
	require.NoError(t, err)

	_, err = w.AP.CreateInvoice(context.Background(), fixture.Finance, invoiceInput(po, gr, "5", "1000"), nil)
	var derr *shared.Error
	require.ErrorAs(t, err, &derr)
	require.NotEmpty(t, derr.Field("supplier_invoice_number"))
}

func TestAttachmentRemovedWhenCreateFails(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	po, gr := received(t, w, "1000", "10")

	inv, err := w.AP.CreateInvoice(ctx, fixture.Finance, invoiceInput(po, gr, "10", "1000"),
		&ap.File{Name: "invoice.pdf", ContentType: "application/pdf", Body: strings.NewReader("%PDF")})
	require.NoError(t, err)
	require.NotNil(t, inv.AttachmentPath)
	require.True(t, strings.HasPrefix(*inv.AttachmentPath, "invoices/50/"))
	body, ok := w.Files.Get(*inv.AttachmentPath)
	require.True(t, ok)
	require.Equal(t, "%PDF", string(body))

	_, err = w.AP.CreateInvoice(ctx, fixture.Finance, invoiceInput(po, gr, "10", "1000"),
		&ap.File{Name: "again.pdf", Body: strings.NewReader("%PDF")})
	require.Error(t, err)
	require.Len(t, w.Files.Keys(), 1)
	require.Len(t, w.Files.Deleted(), 1)
}

func TestCancelInvoice(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	po, gr := received(t, w, "1000", "10")
	inv := submitted(t, w, invoiceInput(po, gr, "10", "1000"))

	inv, err := w.AP.CancelInvoice(ctx, fixture.Finance, inv.ID, "duplicate")
	require.NoError(t, err)
	require.Equal(t, ap.StatusCancelled, inv.Status)
	_, err = w.AP.SubmitInvoice(ctx, fixture.Finance, inv.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = w.AP.CancelInvoice(ctx, fixture.Finance, inv.ID, "")
	require.ErrorIs(t, err, shared.ErrConflict)
}

func approvedInvoice(t *testing.T, w *fixture.World, price, qty string) ap.Invoice {
	t.Helper()
	po, gr := received(t, w, price, qty)
	inv := submitted(t, w, invoiceInput(po, gr, qty, price))
	inv, _, err := w.AP.PerformThreeWayMatch(context.Background(), fixture.Finance, inv.ID)
	require.NoError(t, err)
	require.Equal(t, ap.StatusApproved, inv.Status)
	return inv
}

func TestFullPaymentSettlesInvoice(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	inv := approvedInvoice(t, w, "100000", "10")
	requireAmount(t, "1000000", inv.TotalAmount)

	p, inv, err := w.AP.RecordPayment(ctx, fixture.Finance, ap.PaymentInput{
		InvoiceID: inv.ID,
		Amount:    fixture.Qty("1000000"),
		Method:    "TRANSFER",
		Reference: "BCA-7781",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "PAY-202501-0001", p.Number)
	require.Equal(t, w.Clock.Now(), p.PaidAt)
	require.Equal(t, ap.StatusPaid, inv.Status)
	require.Equal(t, ap.PaymentPaid, inv.PaymentStatus)
	requireAmount(t, "1000000", inv.PaidAmount)
	requireAmount(t, "0", inv.RemainingAmount)

	payments, err := w.AP.ListPayments(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)

	_, _, err = w.AP.RecordPayment(ctx, fixture.Finance, ap.PaymentInput{InvoiceID: inv.ID, Amount: fixture.Qty("1"), Method: "CASH"}, nil)
	var derr *shared.Error
	require.ErrorAs(t, err, &derr)
	require.NotEmpty(t, derr.Field("amount"))
}

func TestPartialPaymentsAndRoundingSnap(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	inv := approvedInvoice(t, w, "1000", "10")

	_, inv, err := w.AP.RecordPayment(ctx, fixture.Finance, ap.PaymentInput{InvoiceID: inv.ID, Amount: fixture.Qty("3333.33"), Method: "GIRO"}, nil)
	require.NoError(t, err)
	require.Equal(t, ap.StatusApproved, inv.Status)
	require.Equal(t, ap.PaymentPartialPaid, inv.PaymentStatus)
	requireAmount(t, "6666.67", inv.RemainingAmount)

	_, inv, err = w.AP.RecordPayment(ctx, fixture.Finance, ap.PaymentInput{InvoiceID: inv.ID, Amount: fixture.Qty("6666.66"), Method: "GIRO"}, nil)
	require.NoError(t, err)
	require.Equal(t, ap.StatusPaid, inv.Status)
	requireAmount(t, "10000", inv.PaidAmount)
	requireAmount(t, "0", inv.RemainingAmount)
}

func TestPaymentIdempotencyKey(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	inv := approvedInvoice(t, w, "1000", "10")
	in := ap.PaymentInput{InvoiceID: inv.ID, Amount: fixture.Qty("4000"), Method: "TRANSFER", IdempotencyKey: "req-1"}

	_, _, err := w.AP.RecordPayment(ctx, fixture.Finance, in, nil)
	require.NoError(t, err)
	_, _, err = w.AP.RecordPayment(ctx, fixture.Finance, in, nil)
	require.True(t, errors.Is(err, ap.ErrDuplicatePayment))

	stored, err := w.AP.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	requireAmount(t, "4000", stored.PaidAmount)
	payments, err := w.AP.ListPayments(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
}

func TestPaymentProofRemovedOnFailure(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()
	po, gr := received(t, w, "1000", "10")
	draft, err := w.AP.CreateInvoice(ctx, fixture.Finance, invoiceInput(po, gr, "10", "1000"), nil)
	require.NoError(t, err)

	_, _, err = w.AP.RecordPayment(ctx, fixture.Finance, ap.PaymentInput{InvoiceID: draft.ID, Amount: fixture.Qty("100"), Method: "CASH"},
		&ap.File{Name: "transfer.png", ContentType: "image/png", Body: strings.NewReader("png")})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Empty(t, w.Files.Keys())
	require.Len(t, w.Files.Deleted(), 1)
	require.True(t, strings.HasPrefix(w.Files.Deleted()[0], "payments/"))
}

func TestPaymentProofStored(t *testing.T) {
	w := fixture.NewWorld(t)
	inv := approvedInvoice(t, w, "1000", "10")
	p, _, err := w.AP.RecordPayment(context.Background(), fixture.Finance,
		ap.PaymentInput{InvoiceID: inv.ID, Amount: fixture.Qty("100"), Method: "CASH"},
		&ap.File{Name: "receipt.jpg", Body: strings.NewReader("jpg")})
	require.NoError(t, err)
	require.NotNil(t, p.ProofPath)
	_, ok := w.Files.Get(*p.ProofPath)
	require.True(t, ok)
}

func TestPaymentRejectsUnknownMethod(t *testing.T) {
	w := fixture.NewWorld(t)
	inv := approvedInvoice(t, w, "1000", "10")
	_, _, err := w.AP.RecordPayment(context.Background(), fixture.Finance,
		ap.PaymentInput{InvoiceID: inv.ID, Amount: fixture.Qty("100"), Method: "BARTER"}, nil)
	var derr *shared.Error
	require.ErrorAs(t, err, &derr)
	require.NotEmpty(t, derr.Field("method"))
}

func TestResolveConfigCreatesGlobalDefault(t *testing.T) {
	w := fixture.NewWorld(t)
	ctx := context.Background()

	cfg, err := w.AP.ResolveConfig(ctx, fixture.SupplierAcme)
	require.NoError(t, err)
	require.Equal(t, ap.ScopeGlobal, cfg.Scope)
	require.True(t, cfg.QtyTolerancePct.IsZero())
	require.False(t, cfg.AllowOverInvoicing)

	again, err := w.AP.ResolveConfig(ctx, fixture.SupplierAcme)
	require.NoError(t, err)
	require.Equal(t, cfg.ID, again.ID)

	supplier := fixture.SupplierAcme
	first, err := w.AP.UpsertConfig(ctx, fixture.Finance, ap.ConfigInput{SupplierID: &supplier, QtyTolerancePct: fixture.Qty("2")})
	require.NoError(t, err)
	second, err := w.AP.UpsertConfig(ctx, shared.StaticActor{UserID: 7, Roles: []string{shared.RoleAdmin}},
		ap.ConfigInput{SupplierID: &supplier, QtyTolerancePct: fixture.Qty("3")})
	require.NoError(t, err)

	resolved, err := w.AP.ResolveConfig(ctx, fixture.SupplierAcme)
	require.NoError(t, err)
	require.Equal(t, second.ID, resolved.ID)
	requireAmount(t, "3", resolved.QtyTolerancePct)

	for _, c := range w.APRepo.Configs() {
		if c.ID == first.ID {
			require.False(t, c.Active)
		}
	}

	_, err = w.AP.UpsertConfig(ctx, fixture.Warehouse, ap.ConfigInput{})
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = w.AP.UpsertConfig(ctx, fixture.Finance, ap.ConfigInput{QtyTolerancePct: fixture.Qty("101")})
	require.ErrorIs(t, err, shared.ErrValidation)
}
