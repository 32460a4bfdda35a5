package putaway

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

// WithTx runs fn in the ambient transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		return fn(ctx, txRepo{q: db.Conn(ctx, r.pool)})
	})
}

const columns = `id, number, status, goods_receipt_id, warehouse_id, source_location_id, note, created_by,
       posted_at, posted_by, cancelled_at, cancelled_by, created_at, updated_at`

func scanPutAway(row pgx.Row) (PutAway, error) {
	var pa PutAway
	var status string
	err := row.Scan(&pa.ID, &pa.Number, &status, &pa.GoodsReceiptID, &pa.WarehouseID, &pa.SourceLocationID, &pa.Note, &pa.CreatedBy,
		&pa.PostedAt, &pa.PostedBy, &pa.CancelledAt, &pa.CancelledBy, &pa.CreatedAt, &pa.UpdatedAt)
	pa.Status = Status(status)
	return pa, err
}

func loadLines(ctx context.Context, q db.Querier, pa *PutAway) error {
	rows, err := q.Query(ctx, `SELECT id, put_away_id, goods_receipt_line_id, item_id, uom_id, destination_location_id, qty,
       item_snapshot, uom_snapshot, location_snapshot
FROM put_away_lines WHERE put_away_id=$1 ORDER BY id`, pa.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.PutAwayID, &l.GoodsReceiptLineID, &l.ItemID, &l.UOMID, &l.DestinationLocationID, &l.Qty,
			&l.ItemSnapshot, &l.UOMSnapshot, &l.LocationSnapshot); err != nil {
			return err
		}
		pa.Lines = append(pa.Lines, l)
	}
	return rows.Err()
}

func get(ctx context.Context, q db.Querier, id int64, lock bool) (PutAway, error) {
	sql := `SELECT ` + columns + ` FROM put_aways WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	pa, err := scanPutAway(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PutAway{}, shared.NotFound("put-away", id)
	}
	if err != nil {
		return PutAway{}, fmt.Errorf("putaway: get: %w", err)
	}
	return pa, loadLines(ctx, q, &pa)
}

// Get returns a put-away with lines.
func (r *Repository) Get(ctx context.Context, id int64) (PutAway, error) {
	return get(ctx, db.Conn(ctx, r.pool), id, false)
}

// ListByGoodsReceipt returns the put-aways of a receipt ordered by id.
func (r *Repository) ListByGoodsReceipt(ctx context.Context, goodsReceiptID int64) ([]PutAway, error) {
	q := db.Conn(ctx, r.pool)
	rows, err := q.Query(ctx, `SELECT `+columns+` FROM put_aways WHERE goods_receipt_id=$1 ORDER BY id`, goodsReceiptID)
	if err != nil {
		return nil, err
	}
	var out []PutAway
	for rows.Next() {
		pa, err := scanPutAway(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, pa)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := loadLines(ctx, q, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (t txRepo) Lock(ctx context.Context, id int64) (PutAway, error) {
	return get(ctx, t.q, id, true)
}

func (t txRepo) Insert(ctx context.Context, pa PutAway) (PutAway, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO put_aways
(number, status, goods_receipt_id, warehouse_id, source_location_id, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		pa.Number, string(pa.Status), pa.GoodsReceiptID, pa.WarehouseID, pa.SourceLocationID, pa.Note, pa.CreatedBy,
		pa.CreatedAt, pa.UpdatedAt).Scan(&pa.ID)
	if err != nil {
		return PutAway{}, fmt.Errorf("putaway: insert: %w", err)
	}
	for i := range pa.Lines {
		l := &pa.Lines[i]
		l.PutAwayID = pa.ID
		if err := t.q.QueryRow(ctx, `INSERT INTO put_away_lines
(put_away_id, goods_receipt_line_id, item_id, uom_id, destination_location_id, qty, item_snapshot, uom_snapshot, location_snapshot)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
			pa.ID, l.GoodsReceiptLineID, l.ItemID, l.UOMID, l.DestinationLocationID, l.Qty,
			l.ItemSnapshot, l.UOMSnapshot, l.LocationSnapshot).Scan(&l.ID); err != nil {
			return PutAway{}, fmt.Errorf("putaway: insert line: %w", err)
		}
	}
	return pa, nil
}

func (t txRepo) Update(ctx context.Context, pa PutAway) error {
	_, err := t.q.Exec(ctx, `UPDATE put_aways SET status=$2, posted_at=$3, posted_by=$4, cancelled_at=$5, cancelled_by=$6, updated_at=$7
WHERE id=$1`, pa.ID, string(pa.Status), pa.PostedAt, pa.PostedBy, pa.CancelledAt, pa.CancelledBy, pa.UpdatedAt)
	return err
}

func (t txRepo) PostedQtyByReceiptLine(ctx context.Context, goodsReceiptID int64) (map[int64]decimal.Decimal, error) {
	rows, err := t.q.Query(ctx, `SELECT l.goods_receipt_line_id, SUM(l.qty)
FROM put_away_lines l JOIN put_aways p ON p.id = l.put_away_id
WHERE p.goods_receipt_id=$1 AND p.status='POSTED'
GROUP BY l.goods_receipt_line_id`, goodsReceiptID)
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
