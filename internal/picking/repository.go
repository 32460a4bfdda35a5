package picking

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

func get(ctx context.Context, q db.Querier, id int64, lock bool) (Order, error) {
	sql := `SELECT id, number, status, warehouse_id, reference, note, created_by,
       posted_at, posted_by, cancelled_at, cancelled_by, created_at, updated_at
FROM picking_orders WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var o Order
	var status string
	err := q.QueryRow(ctx, sql, id).Scan(&o.ID, &o.Number, &status, &o.WarehouseID, &o.Reference, &o.Note, &o.CreatedBy,
		&o.PostedAt, &o.PostedBy, &o.CancelledAt, &o.CancelledBy, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, shared.NotFound("picking order", id)
	}
	if err != nil {
		return Order{}, fmt.Errorf("picking: get: %w", err)
	}
	o.Status = Status(status)

	rows, err := q.Query(ctx, `SELECT id, picking_order_id, item_id, uom_id, source_location_id, qty, item_snapshot, uom_snapshot, location_snapshot
FROM picking_order_lines WHERE picking_order_id=$1 ORDER BY id`, id)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.PickingOrderID, &l.ItemID, &l.UOMID, &l.SourceLocationID, &l.Qty,
			&l.ItemSnapshot, &l.UOMSnapshot, &l.LocationSnapshot); err != nil {
			return Order{}, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

// Get returns a picking order with lines.
func (r *Repository) Get(ctx context.Context, id int64) (Order, error) {
	return get(ctx, db.Conn(ctx, r.pool), id, false)
}

func (t txRepo) Lock(ctx context.Context, id int64) (Order, error) {
	return get(ctx, t.q, id, true)
}

func (t txRepo) Insert(ctx context.Context, o Order) (Order, error) {
	err := t.q.QueryRow(ctx, `INSERT INTO picking_orders (number, status, warehouse_id, reference, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		o.Number, string(o.Status), o.WarehouseID, o.Reference, o.Note, o.CreatedBy, o.CreatedAt, o.UpdatedAt).Scan(&o.ID)
	if err != nil {
		return Order{}, fmt.Errorf("picking: insert: %w", err)
	}
	for i := range o.Lines {
		l := &o.Lines[i]
		l.PickingOrderID = o.ID
		if err := t.q.QueryRow(ctx, `INSERT INTO picking_order_lines
(picking_order_id, item_id, uom_id, source_location_id, qty, item_snapshot, uom_snapshot, location_snapshot)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
			o.ID, l.ItemID, l.UOMID, l.SourceLocationID, l.Qty, l.ItemSnapshot, l.UOMSnapshot, l.LocationSnapshot).Scan(&l.ID); err != nil {
			return Order{}, fmt.Errorf("picking: insert line: %w", err)
		}
	}
	return o, nil
}

func (t txRepo) Update(ctx context.Context, o Order) error {
	_, err := t.q.Exec(ctx, `UPDATE picking_orders SET status=$2, posted_at=$3, posted_by=$4, cancelled_at=$5, cancelled_by=$6, updated_at=$7
WHERE id=$1`, o.ID, string(o.Status), o.PostedAt, o.PostedBy, o.CancelledAt, o.CancelledBy, o.UpdatedAt)
	return err
}
