package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/platform/db"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

type txRepo struct {
	pool *pgxpool.Pool
}

// WithTx executes the callback inside the ambient transaction, opening one
// when ctx carries none.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		return fn(ctx, &txRepo{pool: r.pool})
	})
}

func nullableUOM(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func (t *txRepo) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	meta, err := json.Marshal(m.Meta)
	if err != nil {
		return 0, err
	}
	var id int64
	err = db.Conn(ctx, t.pool).QueryRow(ctx, `INSERT INTO stock_movements
(item_id, uom_id, source_location_id, destination_location_id, qty, reference_type, reference_id, reference_line_id, created_by, movement_at, meta)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id`,
		m.ItemID, m.UOMID, m.SourceLocationID, m.DestinationLocationID, m.Qty, string(m.ReferenceType), m.ReferenceID,
		m.ReferenceLineID, m.CreatedBy, m.MovementAt, meta).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inventory: insert movement: %w", err)
	}
	return id, nil
}

func (t *txRepo) AdjustBalance(ctx context.Context, key BalanceKey, delta decimal.Decimal) error {
	conn := db.Conn(ctx, t.pool)
	var qty decimal.Decimal
	err := conn.QueryRow(ctx, `INSERT INTO stock_balances (location_id, item_id, uom_id, qty, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (location_id, item_id, (COALESCE(uom_id, 0)))
DO UPDATE SET qty = stock_balances.qty + EXCLUDED.qty, updated_at = NOW()
RETURNING qty`, key.LocationID, key.ItemID, nullableUOM(key.UOMID), delta).Scan(&qty)
	if err != nil {
		return fmt.Errorf("inventory: adjust balance: %w", err)
	}
	if !qty.IsZero() {
		return nil
	}
	_, err = conn.Exec(ctx, `DELETE FROM stock_balances WHERE location_id=$1 AND item_id=$2 AND COALESCE(uom_id, 0)=$3 AND qty = 0`,
		key.LocationID, key.ItemID, key.UOMID)
	if err != nil {
		return fmt.Errorf("inventory: delete zero balance: %w", err)
	}
	return nil
}

func (t *txRepo) ReplaceBalances(ctx context.Context, balances []Balance) error {
	conn := db.Conn(ctx, t.pool)
	if _, err := conn.Exec(ctx, `DELETE FROM stock_balances`); err != nil {
		return fmt.Errorf("inventory: clear balances: %w", err)
	}
	for _, b := range balances {
		if b.Qty.IsZero() {
			continue
		}
		if _, err := conn.Exec(ctx, `INSERT INTO stock_balances (location_id, item_id, uom_id, qty, updated_at) VALUES ($1, $2, $3, $4, NOW())`,
			b.LocationID, b.ItemID, nullableUOM(b.UOMID), b.Qty); err != nil {
			return fmt.Errorf("inventory: insert balance: %w", err)
		}
	}
	return nil
}

func (t *txRepo) InsertSerials(ctx context.Context, units []SerialUnit) error {
	conn := db.Conn(ctx, t.pool)
	for _, u := range units {
		_, err := conn.Exec(ctx, `INSERT INTO serial_units (item_id, serial, goods_receipt_line_id, location_id) VALUES ($1, $2, $3, $4)`,
			u.ItemID, u.Serial, u.GoodsReceiptLineID, u.LocationID)
		if err != nil {
			if db.IsUniqueViolation(err) {
				return shared.Validation("serials", fmt.Sprintf("serial %s already registered", u.Serial))
			}
			return fmt.Errorf("inventory: insert serial: %w", err)
		}
	}
	return nil
}

func (t *txRepo) RelocateSerials(ctx context.Context, goodsReceiptLineID, fromLocationID, toLocationID int64, limit int) (int, error) {
	tag, err := db.Conn(ctx, t.pool).Exec(ctx, `UPDATE serial_units SET location_id=$3, updated_at=NOW()
WHERE id IN (
    SELECT id FROM serial_units WHERE goods_receipt_line_id=$1 AND location_id=$2 ORDER BY id LIMIT $4 FOR UPDATE
)`, goodsReceiptLineID, fromLocationID, toLocationID, limit)
	if err != nil {
		return 0, fmt.Errorf("inventory: relocate serials: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetMovement loads one ledger entry.
func (r *Repository) GetMovement(ctx context.Context, id int64) (Movement, error) {
	var (
		m       Movement
		refType string
		meta    []byte
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT id, item_id, uom_id, source_location_id, destination_location_id, qty,
reference_type, reference_id, reference_line_id, created_by, movement_at, meta FROM stock_movements WHERE id=$1`, id).
		Scan(&m.ID, &m.ItemID, &m.UOMID, &m.SourceLocationID, &m.DestinationLocationID, &m.Qty,
			&refType, &m.ReferenceID, &m.ReferenceLineID, &m.CreatedBy, &m.MovementAt, &meta)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, shared.NotFound("stock movement", id)
		}
		return Movement{}, err
	}
	m.ReferenceType = shared.DocumentKind(refType)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m.Meta); err != nil {
			return Movement{}, err
		}
	}
	return m, nil
}

// LedgerBalances sums inbound minus outbound per location, item and unit.
func (r *Repository) LedgerBalances(ctx context.Context, f OnHandFilter) ([]Balance, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT location_id, item_id, COALESCE(uom_id, 0), SUM(qty)
FROM (
    SELECT destination_location_id AS location_id, item_id, uom_id, qty FROM stock_movements WHERE destination_location_id IS NOT NULL
    UNION ALL
    SELECT source_location_id AS location_id, item_id, uom_id, -qty FROM stock_movements WHERE source_location_id IS NOT NULL
) ledger
WHERE ($1::bigint IS NULL OR location_id = $1)
  AND ($2::bigint IS NULL OR item_id = $2)
  AND ($3::bigint IS NULL OR uom_id = $3)
GROUP BY location_id, item_id, COALESCE(uom_id, 0)
HAVING SUM(qty) <> 0
ORDER BY location_id, item_id, COALESCE(uom_id, 0)`, f.LocationID, f.ItemID, f.UOMID)
	if err != nil {
		return nil, fmt.Errorf("inventory: ledger balances: %w", err)
	}
	return scanBalances(rows)
}

// CachedBalances reads stock_balances.
func (r *Repository) CachedBalances(ctx context.Context, f OnHandFilter) ([]Balance, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT location_id, item_id, COALESCE(uom_id, 0), qty FROM stock_balances
WHERE ($1::bigint IS NULL OR location_id = $1)
  AND ($2::bigint IS NULL OR item_id = $2)
  AND ($3::bigint IS NULL OR uom_id = $3)
ORDER BY location_id, item_id, COALESCE(uom_id, 0)`, f.LocationID, f.ItemID, f.UOMID)
	if err != nil {
		return nil, fmt.Errorf("inventory: cached balances: %w", err)
	}
	return scanBalances(rows)
}

func scanBalances(rows pgx.Rows) ([]Balance, error) {
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.LocationID, &b.ItemID, &b.UOMID, &b.Qty); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListSerials returns serial units of a goods receipt line ordered by id.
func (r *Repository) ListSerials(ctx context.Context, goodsReceiptLineID int64) ([]SerialUnit, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, item_id, serial, goods_receipt_line_id, location_id
FROM serial_units WHERE goods_receipt_line_id=$1 ORDER BY id`, goodsReceiptLineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SerialUnit
	for rows.Next() {
		var u SerialUnit
		if err := rows.Scan(&u.ID, &u.ItemID, &u.Serial, &u.GoodsReceiptLineID, &u.LocationID); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
