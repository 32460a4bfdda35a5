package putaway

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// Status of a put-away document.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPosted    Status = "POSTED"
	StatusCancelled Status = "CANCELLED"
)

// PutAway moves received goods from a receipt's RECEIVING location into
// storage.
type PutAway struct {
	ID               int64
	Number           string
	Status           Status
	GoodsReceiptID   int64
	WarehouseID      int64
	SourceLocationID int64
	Note             string
	CreatedBy        int64
	PostedAt         *time.Time
	PostedBy         *int64
	CancelledAt      *time.Time
	CancelledBy      *int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Lines            []Line
}

// Ref returns the document reference.
func (p PutAway) Ref() shared.DocumentRef {
	return shared.DocumentRef{Kind: shared.DocPutAway, ID: p.ID}
}

// Line moves part of one receipt line to a storage location.
type Line struct {
	ID                    int64
	PutAwayID             int64
	GoodsReceiptLineID    int64
	ItemID                int64
	UOMID                 int64
	DestinationLocationID int64
	Qty                   decimal.Decimal
	ItemSnapshot          json.RawMessage
	UOMSnapshot           json.RawMessage
	LocationSnapshot      json.RawMessage
}

// CreateInput drafts a put-away for a posted goods receipt.
type CreateInput struct {
	GoodsReceiptID int64       `json:"goods_receipt_id" validate:"required"`
	Note           string      `json:"note"`
	Lines          []LineInput `json:"lines" validate:"min=1,dive"`
}

// LineInput describes one put-away line.
type LineInput struct {
	GoodsReceiptLineID    int64           `json:"goods_receipt_line_id" validate:"required"`
	DestinationLocationID int64           `json:"destination_location_id" validate:"required"`
	Qty                   decimal.Decimal `json:"qty" validate:"gt=0"`
}
