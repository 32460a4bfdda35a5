package procurement

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// Purchase request lifecycle statuses.
type PRStatus string

const (
	PRStatusDraft       PRStatus = "DRAFT"
	PRStatusSubmitted   PRStatus = "SUBMITTED"
	PRStatusApproved    PRStatus = "APPROVED"
	PRStatusRejected    PRStatus = "REJECTED"
	PRStatusCancelled   PRStatus = "CANCELLED"
	PRStatusConvertedPO PRStatus = "CONVERTED_TO_PO"
)

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusDraft      POStatus = "DRAFT"
	POStatusSubmitted  POStatus = "SUBMITTED"
	POStatusInApproval POStatus = "IN_APPROVAL"
	POStatusApproved   POStatus = "APPROVED"
	POStatusRejected   POStatus = "REJECTED"
	POStatusCancelled  POStatus = "CANCELLED"
	POStatusClosed     POStatus = "CLOSED"
)

// Goods receipt statuses.
type GRStatus string

const (
	GRStatusDraft            GRStatus = "DRAFT"
	GRStatusPosted           GRStatus = "POSTED"
	GRStatusPutAwayPartial   GRStatus = "PUT_AWAY_PARTIAL"
	GRStatusPutAwayCompleted GRStatus = "PUT_AWAY_COMPLETED"
	GRStatusCancelled        GRStatus = "CANCELLED"
)

// IsPosted reports whether stock for the receipt entered the ledger.
func (s GRStatus) IsPosted() bool {
	return s == GRStatusPosted || s == GRStatusPutAwayPartial || s == GRStatusPutAwayCompleted
}

// Stamp records who performed a transition and when.
type Stamp struct {
	At *time.Time `json:"at,omitempty"`
	By *int64     `json:"by,omitempty"`
}

func stampOf(actorID int64, at time.Time) Stamp {
	return Stamp{At: &at, By: &actorID}
}

// PurchaseRequest domain model.
type PurchaseRequest struct {
	ID                 int64
	Number             string
	Status             PRStatus
	DepartmentID       int64
	RequestedBy        int64
	SupplierID         *int64
	NeededBy           *time.Time
	Note               string
	Submitted          Stamp
	Approved           Stamp
	Rejected           Stamp
	RejectionReason    string
	Cancelled          Stamp
	CancellationReason string
	ConvertedAt        *time.Time
	PurchaseOrderID    *int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Lines              []PRLine
}

// Ref returns the document reference.
func (p PurchaseRequest) Ref() shared.DocumentRef {
	return shared.DocumentRef{Kind: shared.DocPurchaseRequest, ID: p.ID}
}

// PRLine represents a requested item.
type PRLine struct {
	ID                int64
	PurchaseRequestID int64
	LineNo            int
	ItemID            int64
	UOMID             int64
	Qty               decimal.Decimal
	Note              string
	ItemSnapshot      json.RawMessage
	UOMSnapshot       json.RawMessage
}

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID                 int64
	Number             string
	Status             POStatus
	SupplierID         int64
	WarehouseID        int64
	Currency           string
	ExpectedDate       *time.Time
	SupplierSnapshot   json.RawMessage
	TaxSnapshot        json.RawMessage
	Subtotal           decimal.Decimal
	TaxAmount          decimal.Decimal
	TotalAmount        decimal.Decimal
	Note               string
	CreatedBy          int64
	Submitted          Stamp
	Approved           Stamp
	Rejected           Stamp
	RejectionReason    string
	Cancelled          Stamp
	CancellationReason string
	Reopened           Stamp
	Closed             Stamp
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Lines              []POLine
	RequestIDs         []int64
}

// Ref returns the document reference.
func (p PurchaseOrder) Ref() shared.DocumentRef {
	return shared.DocumentRef{Kind: shared.DocPurchaseOrder, ID: p.ID}
}

// ApprovalRef implements approval.Approvable.
func (p PurchaseOrder) ApprovalRef() shared.DocumentRef { return p.Ref() }

// ApprovalField exposes header fields to workflow conditions.
func (p PurchaseOrder) ApprovalField(name string) (any, bool) {
	switch name {
	case "total_amount", "total":
		return p.TotalAmount, true
	case "subtotal":
		return p.Subtotal, true
	case "tax_amount":
		return p.TaxAmount, true
	case "supplier_id":
		return p.SupplierID, true
	case "warehouse_id":
		return p.WarehouseID, true
	case "currency":
		return p.Currency, true
	case "line_count":
		return len(p.Lines), true
	}
	return nil, false
}

// ApprovalNumber labels notifications.
func (p PurchaseOrder) ApprovalNumber() string { return p.Number }

// ApprovalRequester addresses outcome notifications.
func (p PurchaseOrder) ApprovalRequester() int64 { return p.CreatedBy }

// POLine represents an ordered item.
type POLine struct {
	ID              int64
	PurchaseOrderID int64
	LineNo          int
	ItemID          int64
	UOMID           int64
	Qty             decimal.Decimal
	UnitPrice       decimal.Decimal
	LineTotal       decimal.Decimal
	ItemSnapshot    json.RawMessage
	UOMSnapshot     json.RawMessage
}

// GoodsReceipt domain model.
type GoodsReceipt struct {
	ID                  int64
	Number              string
	Status              GRStatus
	PurchaseOrderID     int64
	WarehouseID         int64
	ReceivingLocationID int64
	ReceivedAt          time.Time
	Note                string
	CreatedBy           int64
	Posted              Stamp
	Cancelled           Stamp
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Lines               []GRLine
}

// Ref returns the document reference.
func (g GoodsReceipt) Ref() shared.DocumentRef {
	return shared.DocumentRef{Kind: shared.DocGoodsReceipt, ID: g.ID}
}

// GRLine records received goods against a PO line.
type GRLine struct {
	ID                  int64
	GoodsReceiptID      int64
	PurchaseOrderLineID int64
	ItemID              int64
	UOMID               int64
	ReceivedQty         decimal.Decimal
	Serials             []string
	ItemSnapshot        json.RawMessage
	UOMSnapshot         json.RawMessage
}

// CreatePRInput describes a purchase request draft.
type CreatePRInput struct {
	DepartmentID int64         `json:"department_id" validate:"required"`
	SupplierID   *int64        `json:"supplier_id"`
	NeededBy     *time.Time    `json:"needed_by"`
	Note         string        `json:"note"`
	Lines        []PRLineInput `json:"lines" validate:"min=1,dive"`
}

// PRLineInput describes a request line.
type PRLineInput struct {
	ItemID int64           `json:"item_id" validate:"required"`
	UOMID  int64           `json:"uom_id" validate:"required"`
	Qty    decimal.Decimal `json:"qty" validate:"gt=0"`
	Note   string          `json:"note"`
}

// CreatePOInput converts approved purchase requests into an order.
type CreatePOInput struct {
	RequestIDs   []int64       `json:"purchase_request_ids" validate:"min=1,dive,required"`
	SupplierID   int64         `json:"supplier_id" validate:"required"`
	WarehouseID  int64         `json:"warehouse_id" validate:"required"`
	Currency     string        `json:"currency"`
	ExpectedDate *time.Time    `json:"expected_date"`
	Note         string        `json:"note"`
	Lines        []POLineInput `json:"lines" validate:"dive"`
	// UnitPrices prices merged lines by item id when Lines is empty.
	UnitPrices map[int64]decimal.Decimal `json:"unit_prices"`
}

// POLineInput overrides the merged request lines.
type POLineInput struct {
	ItemID    int64           `json:"item_id" validate:"required"`
	UOMID     int64           `json:"uom_id" validate:"required"`
	Qty       decimal.Decimal `json:"qty" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

// CreateGRInput describes a goods receipt draft.
type CreateGRInput struct {
	PurchaseOrderID int64         `json:"purchase_order_id" validate:"required"`
	ReceivedAt      time.Time     `json:"received_at"`
	Note            string        `json:"note"`
	Lines           []GRLineInput `json:"lines" validate:"min=1,dive"`
}

// GRLineInput receives against one PO line.
type GRLineInput struct {
	PurchaseOrderLineID int64           `json:"purchase_order_line_id" validate:"required"`
	Qty                 decimal.Decimal `json:"qty" validate:"gt=0"`
	Serials             []string        `json:"serials" validate:"dive,required"`
}
