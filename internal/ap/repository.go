package ap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-scm/internal/platform/db"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

type txRepo struct {
	q db.Querier
}

// WithTx runs fn in the ambient transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		return fn(ctx, txRepo{q: db.Conn(ctx, r.pool)})
	})
}

const invoiceColumns = `id, number, supplier_invoice_number, supplier_id, purchase_order_id, invoice_date, due_date,
       status, matching_status, payment_status, subtotal, tax_amount, discount_amount, total_amount,
       paid_amount, remaining_amount, requires_approval, attachment_path, note, created_by,
       submitted_at, submitted_by, matched_at, matched_by, approved_at, approved_by,
       rejected_at, rejected_by, COALESCE(rejection_reason, ''), cancelled_at, cancelled_by, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	var status, matching, payment string
	err := row.Scan(&inv.ID, &inv.Number, &inv.SupplierInvoiceNumber, &inv.SupplierID, &inv.PurchaseOrderID, &inv.InvoiceDate, &inv.DueDate,
		&status, &matching, &payment, &inv.Subtotal, &inv.TaxAmount, &inv.DiscountAmount, &inv.TotalAmount,
		&inv.PaidAmount, &inv.RemainingAmount, &inv.RequiresApproval, &inv.AttachmentPath, &inv.Note, &inv.CreatedBy,
		&inv.SubmittedAt, &inv.SubmittedBy, &inv.MatchedAt, &inv.MatchedBy, &inv.ApprovedAt, &inv.ApprovedBy,
		&inv.RejectedAt, &inv.RejectedBy, &inv.RejectionReason, &inv.CancelledAt, &inv.CancelledBy, &inv.CreatedAt, &inv.UpdatedAt)
	inv.Status = InvoiceStatus(status)
	inv.MatchingStatus = MatchStatus(matching)
	inv.PaymentStatus = PaymentStatus(payment)
	return inv, err
}

const lineColumns = `id, supplier_invoice_id, purchase_order_line_id, goods_receipt_line_id, item_id, item_snapshot,
       invoiced_qty, invoiced_unit_price, invoiced_line_total, expected_qty, expected_unit_price, expected_line_total,
       qty_variance, qty_variance_pct, price_variance, price_variance_pct, amount_variance, amount_variance_pct,
       matching_status, within_tolerance`

func loadLines(ctx context.Context, q db.Querier, inv *Invoice) error {
	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM supplier_invoice_lines WHERE supplier_invoice_id=$1 ORDER BY id`, inv.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var l InvoiceLine
		var status string
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.PurchaseOrderLineID, &l.GoodsReceiptLineID, &l.ItemID, &l.ItemSnapshot,
			&l.InvoicedQty, &l.InvoicedUnitPrice, &l.InvoicedLineTotal, &l.ExpectedQty, &l.ExpectedUnitPrice, &l.ExpectedLineTotal,
			&l.QtyVariance, &l.QtyVariancePct, &l.PriceVariance, &l.PriceVariancePct, &l.AmountVariance, &l.AmountVariancePct,
			&status, &l.WithinTolerance); err != nil {
			return err
		}
		l.MatchingStatus = MatchStatus(status)
		inv.Lines = append(inv.Lines, l)
	}
	return rows.Err()
}

func getInvoice(ctx context.Context, q db.Querier, id int64, lock bool) (Invoice, error) {
	sql := `SELECT ` + invoiceColumns + ` FROM supplier_invoices WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	inv, err := scanInvoice(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, shared.NotFound("supplier invoice", id)
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("ap: get invoice: %w", err)
	}
	if err := loadLines(ctx, q, &inv); err != nil {
		return Invoice{}, fmt.Errorf("ap: load lines: %w", err)
	}
	return inv, nil
}

// GetInvoice loads an invoice with lines.
func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return getInvoice(ctx, db.Conn(ctx, r.pool), id, false)
}

// ListPayments returns the payments of an invoice ordered by id.
func (r *Repository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, number, supplier_invoice_id, amount, paid_at, method, reference, note,
       proof_path, created_by, created_at
FROM invoice_payments WHERE supplier_invoice_id=$1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.Number, &p.InvoiceID, &p.Amount, &p.PaidAt, &p.Method, &p.Reference, &p.Note,
			&p.ProofPath, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LatestMatchingResult returns the newest matching run of an invoice.
func (r *Repository) LatestMatchingResult(ctx context.Context, invoiceID int64) (MatchingResult, error) {
	var res MatchingResult
	var scope, status string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT id, supplier_invoice_id, config_id, config_scope, qty_tolerance_pct,
       price_tolerance_pct, amount_tolerance_pct, total_qty_variance, total_price_variance, total_amount_variance,
       overall_status, details, matched_by, matched_at
FROM invoice_matching_results WHERE supplier_invoice_id=$1 ORDER BY id DESC LIMIT 1`, invoiceID).
		Scan(&res.ID, &res.InvoiceID, &res.ConfigID, &scope, &res.QtyTolerancePct,
			&res.PriceTolerancePct, &res.AmountTolerancePct, &res.TotalQtyVariance, &res.TotalPriceVariance, &res.TotalAmountVariance,
			&status, &res.Details, &res.MatchedBy, &res.MatchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return MatchingResult{}, shared.NotFound("matching result for invoice", invoiceID)
	}
	res.ConfigScope = ConfigScope(scope)
	res.OverallStatus = MatchStatus(status)
	return res, err
}

func (t txRepo) InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO supplier_invoices (number, supplier_invoice_number, supplier_id, purchase_order_id,
    invoice_date, due_date, status, matching_status, payment_status, subtotal, tax_amount, discount_amount, total_amount,
    paid_amount, remaining_amount, requires_approval, attachment_path, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21) RETURNING id`,
		inv.Number, inv.SupplierInvoiceNumber, inv.SupplierID, inv.PurchaseOrderID,
		inv.InvoiceDate, inv.DueDate, string(inv.Status), string(inv.MatchingStatus), string(inv.PaymentStatus),
		inv.Subtotal, inv.TaxAmount, inv.DiscountAmount, inv.TotalAmount,
		inv.PaidAmount, inv.RemainingAmount, inv.RequiresApproval, inv.AttachmentPath, inv.Note, inv.CreatedBy,
		inv.CreatedAt, inv.UpdatedAt).Scan(&inv.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Invoice{}, shared.Validation("supplier_invoice_number", "supplier invoice number already registered")
		}
		return Invoice{}, fmt.Errorf("ap: insert invoice: %w", err)
	}
	for i := range inv.Lines {
		l := &inv.Lines[i]
		l.InvoiceID = inv.ID
		if err := t.q.QueryRow(ctx, `INSERT INTO supplier_invoice_lines (supplier_invoice_id, purchase_order_line_id,
    goods_receipt_line_id, item_id, item_snapshot, invoiced_qty, invoiced_unit_price, invoiced_line_total, matching_status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
			inv.ID, l.PurchaseOrderLineID, l.GoodsReceiptLineID, l.ItemID, l.ItemSnapshot,
			l.InvoicedQty, l.InvoicedUnitPrice, l.InvoicedLineTotal, string(l.MatchingStatus)).Scan(&l.ID); err != nil {
			return Invoice{}, fmt.Errorf("ap: insert line: %w", err)
		}
	}
	return inv, nil
}

func (t txRepo) LockInvoice(ctx context.Context, id int64) (Invoice, error) {
	return getInvoice(ctx, t.q, id, true)
}

func (t txRepo) UpdateInvoice(ctx context.Context, inv Invoice) error {
	var reason *string
	if inv.RejectionReason != "" {
		reason = &inv.RejectionReason
	}
	_, err := t.q.Exec(ctx, `UPDATE supplier_invoices SET status=$2, matching_status=$3, payment_status=$4,
    paid_amount=$5, remaining_amount=$6, requires_approval=$7, submitted_at=$8, submitted_by=$9, matched_at=$10, matched_by=$11,
    approved_at=$12, approved_by=$13, rejected_at=$14, rejected_by=$15, rejection_reason=$16, cancelled_at=$17, cancelled_by=$18,
    updated_at=$19
WHERE id=$1`, inv.ID, string(inv.Status), string(inv.MatchingStatus), string(inv.PaymentStatus),
		inv.PaidAmount, inv.RemainingAmount, inv.RequiresApproval, inv.SubmittedAt, inv.SubmittedBy, inv.MatchedAt, inv.MatchedBy,
		inv.ApprovedAt, inv.ApprovedBy, inv.RejectedAt, inv.RejectedBy, reason, inv.CancelledAt, inv.CancelledBy,
		inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ap: update invoice: %w", err)
	}
	return nil
}

func (t txRepo) UpdateInvoiceLines(ctx context.Context, lines []InvoiceLine) error {
	for _, l := range lines {
		if _, err := t.q.Exec(ctx, `UPDATE supplier_invoice_lines SET expected_qty=$2, expected_unit_price=$3, expected_line_total=$4,
    qty_variance=$5, qty_variance_pct=$6, price_variance=$7, price_variance_pct=$8, amount_variance=$9, amount_variance_pct=$10,
    matching_status=$11, within_tolerance=$12
WHERE id=$1`, l.ID, l.ExpectedQty, l.ExpectedUnitPrice, l.ExpectedLineTotal,
			l.QtyVariance, l.QtyVariancePct, l.PriceVariance, l.PriceVariancePct, l.AmountVariance, l.AmountVariancePct,
			string(l.MatchingStatus), l.WithinTolerance); err != nil {
			return fmt.Errorf("ap: update line %d: %w", l.ID, err)
		}
	}
	return nil
}

func (t txRepo) SupplierInvoiceNumberTaken(ctx context.Context, supplierID int64, number string) (bool, error) {
	var taken bool
	err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM supplier_invoices
WHERE supplier_id=$1 AND supplier_invoice_number=$2)`, supplierID, number).Scan(&taken)
	return taken, err
}

func (t txRepo) InsertMatchingResult(ctx context.Context, res MatchingResult) (MatchingResult, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO invoice_matching_results (supplier_invoice_id, config_id, config_scope,
    qty_tolerance_pct, price_tolerance_pct, amount_tolerance_pct, total_qty_variance, total_price_variance,
    total_amount_variance, overall_status, details, matched_by, matched_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13) RETURNING id`,
		res.InvoiceID, res.ConfigID, string(res.ConfigScope), res.QtyTolerancePct, res.PriceTolerancePct, res.AmountTolerancePct,
		res.TotalQtyVariance, res.TotalPriceVariance, res.TotalAmountVariance, string(res.OverallStatus), res.Details,
		res.MatchedBy, res.MatchedAt).Scan(&res.ID)
	if err != nil {
		return MatchingResult{}, fmt.Errorf("ap: insert matching result: %w", err)
	}
	return res, nil
}

func (t txRepo) InsertPayment(ctx context.Context, p Payment) (Payment, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO invoice_payments (number, supplier_invoice_id, amount, paid_at, method, reference, note,
    proof_path, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`, p.Number, p.InvoiceID, p.Amount, p.PaidAt, p.Method, p.Reference, p.Note,
		p.ProofPath, p.CreatedBy, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		return Payment{}, fmt.Errorf("ap: insert payment: %w", err)
	}
	return p, nil
}

const configColumns = `id, scope, supplier_id, qty_tolerance_pct, price_tolerance_pct, amount_tolerance_pct,
       allow_under_invoicing, allow_over_invoicing, require_approval_if_variance, active, created_at, updated_at`

func (t txRepo) ActiveConfig(ctx context.Context, scope ConfigScope, supplierID *int64) (MatchingConfig, error) {
	sql := `SELECT ` + configColumns + ` FROM invoice_matching_configs WHERE active AND scope=$1`
	args := []any{string(scope)}
	if scope == ScopeSupplier {
		sql += ` AND supplier_id=$2`
		args = append(args, supplierID)
	}
	var cfg MatchingConfig
	var sc string
	err := t.q.QueryRow(ctx, sql+` FOR UPDATE`, args...).Scan(&cfg.ID, &sc, &cfg.SupplierID, &cfg.QtyTolerancePct,
		&cfg.PriceTolerancePct, &cfg.AmountTolerancePct, &cfg.AllowUnderInvoicing, &cfg.AllowOverInvoicing,
		&cfg.RequireApprovalIfVariance, &cfg.Active, &cfg.CreatedAt, &cfg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		var id int64
		if supplierID != nil {
			id = *supplierID
		}
		return MatchingConfig{}, shared.NotFound("matching config "+string(scope), id)
	}
	if err != nil {
		return MatchingConfig{}, fmt.Errorf("ap: active config: %w", err)
	}
	cfg.Scope = ConfigScope(sc)
	return cfg, nil
}

func (t txRepo) InsertConfig(ctx context.Context, cfg MatchingConfig) (MatchingConfig, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO invoice_matching_configs (scope, supplier_id, qty_tolerance_pct, price_tolerance_pct,
    amount_tolerance_pct, allow_under_invoicing, allow_over_invoicing, require_approval_if_variance, active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		string(cfg.Scope), cfg.SupplierID, cfg.QtyTolerancePct, cfg.PriceTolerancePct, cfg.AmountTolerancePct,
		cfg.AllowUnderInvoicing, cfg.AllowOverInvoicing, cfg.RequireApprovalIfVariance, cfg.Active,
		cfg.CreatedAt, cfg.UpdatedAt).Scan(&cfg.ID)
	if err != nil {
		return MatchingConfig{}, fmt.Errorf("ap: insert config: %w", err)
	}
	return cfg, nil
}

func (t txRepo) DeactivateConfig(ctx context.Context, id int64) error {
	_, err := t.q.Exec(ctx, `UPDATE invoice_matching_configs SET active=FALSE, updated_at=NOW() WHERE id=$1`, id)
	return err
}
