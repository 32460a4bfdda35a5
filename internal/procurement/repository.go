package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

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

// WithTx runs fn in the ambient transaction, opening a ReadCommitted one when
// ctx has none.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		return fn(ctx, txRepo{q: db.Conn(ctx, r.pool)})
	})
}

func notFound(entity string, id int64, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NotFound(entity, id)
	}
	return fmt.Errorf("procurement: get %s: %w", entity, err)
}

// Purchase requests

const prColumns = `id, number, status, department_id, requested_by, supplier_id, needed_by, note,
       submitted_at, submitted_by, approved_at, approved_by, rejected_at, rejected_by, COALESCE(rejection_reason, ''),
       cancelled_at, cancelled_by, COALESCE(cancellation_reason, ''), converted_at, purchase_order_id, created_at, updated_at`

func scanPR(row pgx.Row) (PurchaseRequest, error) {
	var pr PurchaseRequest
	var status string
	err := row.Scan(&pr.ID, &pr.Number, &status, &pr.DepartmentID, &pr.RequestedBy, &pr.SupplierID, &pr.NeededBy, &pr.Note,
		&pr.Submitted.At, &pr.Submitted.By, &pr.Approved.At, &pr.Approved.By, &pr.Rejected.At, &pr.Rejected.By, &pr.RejectionReason,
		&pr.Cancelled.At, &pr.Cancelled.By, &pr.CancellationReason, &pr.ConvertedAt, &pr.PurchaseOrderID, &pr.CreatedAt, &pr.UpdatedAt)
	pr.Status = PRStatus(status)
	return pr, err
}

func loadPRLines(ctx context.Context, q db.Querier, pr *PurchaseRequest) error {
	rows, err := q.Query(ctx, `SELECT id, purchase_request_id, line_no, item_id, uom_id, qty, note, item_snapshot, uom_snapshot
FROM purchase_request_lines WHERE purchase_request_id=$1 ORDER BY line_no`, pr.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	pr.Lines = nil
	for rows.Next() {
		var l PRLine
		if err := rows.Scan(&l.ID, &l.PurchaseRequestID, &l.LineNo, &l.ItemID, &l.UOMID, &l.Qty, &l.Note, &l.ItemSnapshot, &l.UOMSnapshot); err != nil {
			return err
		}
		pr.Lines = append(pr.Lines, l)
	}
	return rows.Err()
}

func getPR(ctx context.Context, q db.Querier, id int64, lock bool) (PurchaseRequest, error) {
	sql := `SELECT ` + prColumns + ` FROM purchase_requests WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	pr, err := scanPR(q.QueryRow(ctx, sql, id))
	if err != nil {
		return PurchaseRequest{}, notFound("purchase request", id, err)
	}
	if err := loadPRLines(ctx, q, &pr); err != nil {
		return PurchaseRequest{}, err
	}
	return pr, nil
}

// GetPR returns a purchase request and its lines.
func (r *Repository) GetPR(ctx context.Context, id int64) (PurchaseRequest, error) {
	return getPR(ctx, db.Conn(ctx, r.pool), id, false)
}

func (t txRepo) LockPR(ctx context.Context, id int64) (PurchaseRequest, error) {
	return getPR(ctx, t.q, id, true)
}

func (t txRepo) InsertPR(ctx context.Context, pr PurchaseRequest) (PurchaseRequest, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO purchase_requests
(number, status, department_id, requested_by, supplier_id, needed_by, note, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		pr.Number, string(pr.Status), pr.DepartmentID, pr.RequestedBy, pr.SupplierID, pr.NeededBy, pr.Note, pr.CreatedAt, pr.UpdatedAt).Scan(&pr.ID)
	if err != nil {
		return PurchaseRequest{}, fmt.Errorf("procurement: insert purchase request: %w", err)
	}
	for i := range pr.Lines {
		l := &pr.Lines[i]
		l.PurchaseRequestID = pr.ID
		if err := t.q.QueryRow(ctx, `INSERT INTO purchase_request_lines
(purchase_request_id, line_no, item_id, uom_id, qty, note, item_snapshot, uom_snapshot)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			pr.ID, l.LineNo, l.ItemID, l.UOMID, l.Qty, l.Note, l.ItemSnapshot, l.UOMSnapshot).Scan(&l.ID); err != nil {
			return PurchaseRequest{}, fmt.Errorf("procurement: insert purchase request line: %w", err)
		}
	}
	return pr, nil
}

func (t txRepo) UpdatePR(ctx context.Context, pr PurchaseRequest) error {
	_, err := t.q.Exec(ctx, `UPDATE purchase_requests SET status=$2,
    submitted_at=$3, submitted_by=$4, approved_at=$5, approved_by=$6, rejected_at=$7, rejected_by=$8, rejection_reason=NULLIF($9, ''),
    cancelled_at=$10, cancelled_by=$11, cancellation_reason=NULLIF($12, ''), converted_at=$13, purchase_order_id=$14, updated_at=$15
WHERE id=$1`, pr.ID, string(pr.Status),
		pr.Submitted.At, pr.Submitted.By, pr.Approved.At, pr.Approved.By, pr.Rejected.At, pr.Rejected.By, pr.RejectionReason,
		pr.Cancelled.At, pr.Cancelled.By, pr.CancellationReason, pr.ConvertedAt, pr.PurchaseOrderID, pr.UpdatedAt)
	return err
}

// Purchase orders

const poColumns = `id, number, status, supplier_id, warehouse_id, currency, expected_date, supplier_snapshot, tax_snapshot,
       subtotal, tax_amount, total_amount, note, created_by,
       submitted_at, submitted_by, approved_at, approved_by, rejected_at, rejected_by, COALESCE(rejection_reason, ''),
       cancelled_at, cancelled_by, COALESCE(cancellation_reason, ''), reopened_at, reopened_by, closed_at, closed_by,
       created_at, updated_at`

func scanPO(row pgx.Row) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status string
	err := row.Scan(&po.ID, &po.Number, &status, &po.SupplierID, &po.WarehouseID, &po.Currency, &po.ExpectedDate, &po.SupplierSnapshot, &po.TaxSnapshot,
		&po.Subtotal, &po.TaxAmount, &po.TotalAmount, &po.Note, &po.CreatedBy,
		&po.Submitted.At, &po.Submitted.By, &po.Approved.At, &po.Approved.By, &po.Rejected.At, &po.Rejected.By, &po.RejectionReason,
		&po.Cancelled.At, &po.Cancelled.By, &po.CancellationReason, &po.Reopened.At, &po.Reopened.By, &po.Closed.At, &po.Closed.By,
		&po.CreatedAt, &po.UpdatedAt)
	po.Status = POStatus(status)
	return po, err
}

const poLineColumns = `id, purchase_order_id, line_no, item_id, uom_id, qty, unit_price, line_total, item_snapshot, uom_snapshot`

func scanPOLine(row pgx.Row) (POLine, error) {
	var l POLine
	err := row.Scan(&l.ID, &l.PurchaseOrderID, &l.LineNo, &l.ItemID, &l.UOMID, &l.Qty, &l.UnitPrice, &l.LineTotal, &l.ItemSnapshot, &l.UOMSnapshot)
	return l, err
}

func getPO(ctx context.Context, q db.Querier, id int64, lock bool) (PurchaseOrder, error) {
	sql := `SELECT ` + poColumns + ` FROM purchase_orders WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	po, err := scanPO(q.QueryRow(ctx, sql, id))
	if err != nil {
		return PurchaseOrder{}, notFound("purchase order", id, err)
	}
	rows, err := q.Query(ctx, `SELECT `+poLineColumns+` FROM purchase_order_lines WHERE purchase_order_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		l, err := scanPOLine(rows)
		if err != nil {
			return PurchaseOrder{}, err
		}
		po.Lines = append(po.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return PurchaseOrder{}, err
	}
	rows.Close()

	reqRows, err := q.Query(ctx, `SELECT purchase_request_id FROM purchase_order_requests WHERE purchase_order_id=$1 ORDER BY purchase_request_id`, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer reqRows.Close()
	for reqRows.Next() {
		var prID int64
		if err := reqRows.Scan(&prID); err != nil {
			return PurchaseOrder{}, err
		}
		po.RequestIDs = append(po.RequestIDs, prID)
	}
	return po, reqRows.Err()
}

// GetPO returns a purchase order with lines and source requests.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return getPO(ctx, db.Conn(ctx, r.pool), id, false)
}

// GetPOLine returns one purchase order line.
func (r *Repository) GetPOLine(ctx context.Context, id int64) (POLine, error) {
	l, err := scanPOLine(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+poLineColumns+` FROM purchase_order_lines WHERE id=$1`, id))
	if err != nil {
		return POLine{}, notFound("purchase order line", id, err)
	}
	return l, nil
}

func (t txRepo) LockPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return getPO(ctx, t.q, id, true)
}

func (t txRepo) InsertPO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO purchase_orders
(number, status, supplier_id, warehouse_id, currency, expected_date, supplier_snapshot, tax_snapshot,
 subtotal, tax_amount, total_amount, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15) RETURNING id`,
		po.Number, string(po.Status), po.SupplierID, po.WarehouseID, po.Currency, po.ExpectedDate, po.SupplierSnapshot, po.TaxSnapshot,
		po.Subtotal, po.TaxAmount, po.TotalAmount, po.Note, po.CreatedBy, po.CreatedAt, po.UpdatedAt).Scan(&po.ID)
	if err != nil {
		return PurchaseOrder{}, fmt.Errorf("procurement: insert purchase order: %w", err)
	}
	for i := range po.Lines {
		l := &po.Lines[i]
		l.PurchaseOrderID = po.ID
		if err := t.q.QueryRow(ctx, `INSERT INTO purchase_order_lines
(purchase_order_id, line_no, item_id, uom_id, qty, unit_price, line_total, item_snapshot, uom_snapshot)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
			po.ID, l.LineNo, l.ItemID, l.UOMID, l.Qty, l.UnitPrice, l.LineTotal, l.ItemSnapshot, l.UOMSnapshot).Scan(&l.ID); err != nil {
			return PurchaseOrder{}, fmt.Errorf("procurement: insert purchase order line: %w", err)
		}
	}
	for _, prID := range po.RequestIDs {
		if _, err := t.q.Exec(ctx, `INSERT INTO purchase_order_requests (purchase_order_id, purchase_request_id) VALUES ($1,$2)`, po.ID, prID); err != nil {
			return PurchaseOrder{}, fmt.Errorf("procurement: link purchase request: %w", err)
		}
	}
	return po, nil
}

func (t txRepo) UpdatePO(ctx context.Context, po PurchaseOrder) error {
	_, err := t.q.Exec(ctx, `UPDATE purchase_orders SET status=$2,
    submitted_at=$3, submitted_by=$4, approved_at=$5, approved_by=$6, rejected_at=$7, rejected_by=$8, rejection_reason=NULLIF($9, ''),
    cancelled_at=$10, cancelled_by=$11, cancellation_reason=NULLIF($12, ''), reopened_at=$13, reopened_by=$14,
    closed_at=$15, closed_by=$16, updated_at=$17
WHERE id=$1`, po.ID, string(po.Status),
		po.Submitted.At, po.Submitted.By, po.Approved.At, po.Approved.By, po.Rejected.At, po.Rejected.By, po.RejectionReason,
		po.Cancelled.At, po.Cancelled.By, po.CancellationReason, po.Reopened.At, po.Reopened.By,
		po.Closed.At, po.Closed.By, po.UpdatedAt)
	return err
}

// Goods receipts

const grColumns = `id, number, status, purchase_order_id, warehouse_id, receiving_location_id, received_at, note, created_by,
       posted_at, posted_by, cancelled_at, cancelled_by, created_at, updated_at`

func scanGR(row pgx.Row) (GoodsReceipt, error) {
	var gr GoodsReceipt
	var status string
	err := row.Scan(&gr.ID, &gr.Number, &status, &gr.PurchaseOrderID, &gr.WarehouseID, &gr.ReceivingLocationID, &gr.ReceivedAt, &gr.Note, &gr.CreatedBy,
		&gr.Posted.At, &gr.Posted.By, &gr.Cancelled.At, &gr.Cancelled.By, &gr.CreatedAt, &gr.UpdatedAt)
	gr.Status = GRStatus(status)
	return gr, err
}

const grLineColumns = `id, goods_receipt_id, purchase_order_line_id, item_id, uom_id, received_qty, serials, item_snapshot, uom_snapshot`

func scanGRLine(row pgx.Row) (GRLine, error) {
	var l GRLine
	err := row.Scan(&l.ID, &l.GoodsReceiptID, &l.PurchaseOrderLineID, &l.ItemID, &l.UOMID, &l.ReceivedQty, &l.Serials, &l.ItemSnapshot, &l.UOMSnapshot)
	return l, err
}

func getGR(ctx context.Context, q db.Querier, id int64, lock bool) (GoodsReceipt, error) {
	sql := `SELECT ` + grColumns + ` FROM goods_receipts WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	gr, err := scanGR(q.QueryRow(ctx, sql, id))
	if err != nil {
		return GoodsReceipt{}, notFound("goods receipt", id, err)
	}
	rows, err := q.Query(ctx, `SELECT `+grLineColumns+` FROM goods_receipt_lines WHERE goods_receipt_id=$1 ORDER BY id`, id)
	if err != nil {
		return GoodsReceipt{}, err
	}
	defer rows.Close()
	for rows.Next() {
		l, err := scanGRLine(rows)
		if err != nil {
			return GoodsReceipt{}, err
		}
		gr.Lines = append(gr.Lines, l)
	}
	return gr, rows.Err()
}

// GetGR returns a goods receipt with lines.
func (r *Repository) GetGR(ctx context.Context, id int64) (GoodsReceipt, error) {
	return getGR(ctx, db.Conn(ctx, r.pool), id, false)
}

// GetGRLine returns one goods receipt line.
func (r *Repository) GetGRLine(ctx context.Context, id int64) (GRLine, error) {
	l, err := scanGRLine(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+grLineColumns+` FROM goods_receipt_lines WHERE id=$1`, id))
	if err != nil {
		return GRLine{}, notFound("goods receipt line", id, err)
	}
	return l, nil
}

func (t txRepo) LockGR(ctx context.Context, id int64) (GoodsReceipt, error) {
	return getGR(ctx, t.q, id, true)
}

func (t txRepo) InsertGR(ctx context.Context, gr GoodsReceipt) (GoodsReceipt, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO goods_receipts
(number, status, purchase_order_id, warehouse_id, receiving_location_id, received_at, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		gr.Number, string(gr.Status), gr.PurchaseOrderID, gr.WarehouseID, gr.ReceivingLocationID, gr.ReceivedAt, gr.Note, gr.CreatedBy,
		gr.CreatedAt, gr.UpdatedAt).Scan(&gr.ID)
	if err != nil {
		return GoodsReceipt{}, fmt.Errorf("procurement: insert goods receipt: %w", err)
	}
	for i := range gr.Lines {
		l := &gr.Lines[i]
		l.GoodsReceiptID = gr.ID
		serials := l.Serials
		if serials == nil {
			serials = []string{}
		}
		if err := t.q.QueryRow(ctx, `INSERT INTO goods_receipt_lines
(goods_receipt_id, purchase_order_line_id, item_id, uom_id, received_qty, serials, item_snapshot, uom_snapshot)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			gr.ID, l.PurchaseOrderLineID, l.ItemID, l.UOMID, l.ReceivedQty, serials, l.ItemSnapshot, l.UOMSnapshot).Scan(&l.ID); err != nil {
			return GoodsReceipt{}, fmt.Errorf("procurement: insert goods receipt line: %w", err)
		}
	}
	return gr, nil
}

func (t txRepo) UpdateGR(ctx context.Context, gr GoodsReceipt) error {
	_, err := t.q.Exec(ctx, `UPDATE goods_receipts SET status=$2, posted_at=$3, posted_by=$4, cancelled_at=$5, cancelled_by=$6, updated_at=$7
WHERE id=$1`, gr.ID, string(gr.Status), gr.Posted.At, gr.Posted.By, gr.Cancelled.At, gr.Cancelled.By, gr.UpdatedAt)
	return err
}

func (t txRepo) ReceivedByPOLine(ctx context.Context, purchaseOrderID int64) (map[int64]decimal.Decimal, error) {
	rows, err := t.q.Query(ctx, `SELECT l.purchase_order_line_id, SUM(l.received_qty)
FROM goods_receipt_lines l JOIN goods_receipts g ON g.id = l.goods_receipt_id
WHERE g.purchase_order_id=$1 AND g.status IN ('POSTED', 'PUT_AWAY_PARTIAL', 'PUT_AWAY_COMPLETED')
GROUP BY l.purchase_order_line_id`, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int64]decimal.Decimal{}
	for rows.Next() {
		var lineID int64
		var qty decimal.Decimal
		if err := rows.Scan(&lineID, &qty); err != nil {
			return nil, err
		}
		out[lineID] = qty
	}
	return out, rows.Err()
}
