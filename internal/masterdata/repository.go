package masterdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-scm/internal/platform/db"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// Repository reads master data from Postgres. Reads join the ambient
// transaction so lookups inside a document transition see the same snapshot.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a master data repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Lookup = (*Repository)(nil)

func notFound(entity string, id int64, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NotFound(entity, id)
	}
	return fmt.Errorf("masterdata: get %s: %w", entity, err)
}

func (r *Repository) GetItem(ctx context.Context, id int64) (Item, error) {
	var it Item
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT id, code, name, base_uom_id, is_serialized, reorder_level, active
FROM items WHERE id=$1`, id).Scan(&it.ID, &it.Code, &it.Name, &it.BaseUOMID, &it.IsSerialized, &it.ReorderLevel, &it.Active)
	if err != nil {
		return Item{}, notFound("item", id, err)
	}
	return it, nil
}

func (r *Repository) GetUOM(ctx context.Context, id int64) (UOM, error) {
	var u UOM
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT id, code, name FROM uoms WHERE id=$1`, id).Scan(&u.ID, &u.Code, &u.Name)
	if err != nil {
		return UOM{}, notFound("uom", id, err)
	}
	return u, nil
}

func (r *Repository) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	var s Supplier
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT id, code, name, tax_rate, tax_inclusive, active FROM suppliers WHERE id=$1`, id).
		Scan(&s.ID, &s.Code, &s.Name, &s.TaxRate, &s.TaxInclusive, &s.Active)
	if err != nil {
		return Supplier{}, notFound("supplier", id, err)
	}
	return s, nil
}

func (r *Repository) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	var w Warehouse
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT id, code, name, active FROM warehouses WHERE id=$1`, id).
		Scan(&w.ID, &w.Code, &w.Name, &w.Active)
	if err != nil {
		return Warehouse{}, notFound("warehouse", id, err)
	}
	return w, nil
}

const locationColumns = `id, warehouse_id, code, name, type, is_default, active`

func scanLocation(row pgx.Row) (Location, error) {
	var l Location
	var typ string
	if err := row.Scan(&l.ID, &l.WarehouseID, &l.Code, &l.Name, &typ, &l.IsDefault, &l.Active); err != nil {
		return Location{}, err
	}
	l.Type = LocationType(typ)
	return l, nil
}

func (r *Repository) GetLocation(ctx context.Context, id int64) (Location, error) {
	l, err := scanLocation(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+locationColumns+` FROM warehouse_locations WHERE id=$1`, id))
	if err != nil {
		return Location{}, notFound("location", id, err)
	}
	return l, nil
}

// DefaultLocation returns the active default location of typ, falling back to
// the lowest id active location of that type.
func (r *Repository) DefaultLocation(ctx context.Context, warehouseID int64, typ LocationType) (Location, error) {
	l, err := scanLocation(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+locationColumns+` FROM warehouse_locations
WHERE warehouse_id=$1 AND type=$2 AND active ORDER BY is_default DESC, id ASC LIMIT 1`, warehouseID, string(typ)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, shared.Validation("warehouse_id", fmt.Sprintf("warehouse %d has no active %s location", warehouseID, typ))
		}
		return Location{}, fmt.Errorf("masterdata: default location: %w", err)
	}
	return l, nil
}

func (r *Repository) GetDepartment(ctx context.Context, id int64) (Department, error) {
	var d Department
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT id, code, name, head_user_id FROM departments WHERE id=$1`, id).
		Scan(&d.ID, &d.Code, &d.Name, &d.HeadUserID)
	if err != nil {
		return Department{}, notFound("department", id, err)
	}
	return d, nil
}
