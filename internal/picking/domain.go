package picking

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// Status of a picking order.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPosted    Status = "POSTED"
	StatusCancelled Status = "CANCELLED"
)

// Order picks stock out of storage locations of one warehouse.
type Order struct {
	ID          int64
	Number      string
	Status      Status
	WarehouseID int64
	Reference   string
	Note        string
	CreatedBy   int64
	PostedAt    *time.Time
	PostedBy    *int64
	CancelledAt *time.Time
	CancelledBy *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Lines       []Line
}

// Ref returns the document reference.
func (o Order) Ref() shared.DocumentRef {
	return shared.DocumentRef{Kind: shared.DocPickingOrder, ID: o.ID}
}

// Line picks qty of an item from a source location.
type Line struct {
	ID               int64
	PickingOrderID   int64
	ItemID           int64
	UOMID            int64
	SourceLocationID int64
	Qty              decimal.Decimal
	ItemSnapshot     json.RawMessage
	UOMSnapshot      json.RawMessage
	LocationSnapshot json.RawMessage
}

// CreateInput drafts a picking order.
type CreateInput struct {
	WarehouseID int64       `json:"warehouse_id" validate:"required"`
	Reference   string      `json:"reference" validate:"max=120"`
	Note        string      `json:"note"`
	Lines       []LineInput `json:"lines" validate:"min=1,dive"`
}

// LineInput describes one picking line.
type LineInput struct {
	ItemID           int64           `json:"item_id" validate:"required"`
	UOMID            int64           `json:"uom_id" validate:"required"`
	SourceLocationID int64           `json:"source_location_id" validate:"required"`
	Qty              decimal.Decimal `json:"qty" validate:"gt=0"`
}
