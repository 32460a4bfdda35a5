package masterdata

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// LocationType classifies warehouse locations.
type LocationType string

const (
	LocationReceiving  LocationType = "RECEIVING"
	LocationStorage    LocationType = "STORAGE"
	LocationStaging    LocationType = "STAGING"
	LocationQuarantine LocationType = "QUARANTINE"
)

// Item is a stockable product.
type Item struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	BaseUOMID    *int64          `json:"base_uom_id,omitempty"`
	IsSerialized bool            `json:"is_serialized"`
	ReorderLevel decimal.Decimal `json:"reorder_level"`
	Active       bool            `json:"active"`
}

// UOM is a unit of measure.
type UOM struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Supplier carries the commercial terms snapshotted onto purchase orders.
type Supplier struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	TaxInclusive bool            `json:"tax_inclusive"`
	Active       bool            `json:"active"`
}

// Warehouse groups locations.
type Warehouse struct {
	ID     int64  `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Location is a bin or area inside a warehouse.
type Location struct {
	ID          int64        `json:"id"`
	WarehouseID int64        `json:"warehouse_id"`
	Code        string       `json:"code"`
	Name        string       `json:"name"`
	Type        LocationType `json:"type"`
	IsDefault   bool         `json:"is_default"`
	Active      bool         `json:"active"`
}

// Department owns purchase requests and names the approving head.
type Department struct {
	ID         int64  `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	HeadUserID *int64 `json:"head_user_id,omitempty"`
}

// Lookup is the read-only master data surface used by the document services.
// Every getter returns a shared not-found error for unknown ids.
type Lookup interface {
	GetItem(ctx context.Context, id int64) (Item, error)
	GetUOM(ctx context.Context, id int64) (UOM, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	GetWarehouse(ctx context.Context, id int64) (Warehouse, error)
	GetLocation(ctx context.Context, id int64) (Location, error)
	GetDepartment(ctx context.Context, id int64) (Department, error)
	DefaultLocation(ctx context.Context, warehouseID int64, typ LocationType) (Location, error)
}

// Snapshot encodes v as the JSON blob stored on document lines.
func Snapshot(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
