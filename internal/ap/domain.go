package ap

import (
	"encoding/json"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// InvoiceStatus enumerates supplier invoice statuses.
type InvoiceStatus string

const (
	StatusDraft     InvoiceStatus = "DRAFT"
	StatusSubmitted InvoiceStatus = "SUBMITTED"
	StatusMatched   InvoiceStatus = "MATCHED"
	StatusVariance  InvoiceStatus = "VARIANCE"
	StatusApproved  InvoiceStatus = "APPROVED"
	StatusRejected  InvoiceStatus = "REJECTED"
	StatusPaid      InvoiceStatus = "PAID"
	StatusCancelled InvoiceStatus = "CANCELLED"
)

// MatchStatus classifies a line, or a whole invoice, after three-way
// matching.
type MatchStatus string

const (
	MatchPending       MatchStatus = "PENDING"
	MatchMatched       MatchStatus = "MATCHED"
	MatchQtyVariance   MatchStatus = "QTY_VARIANCE"
	MatchPriceVariance MatchStatus = "PRICE_VARIANCE"
	MatchBothVariance  MatchStatus = "BOTH_VARIANCE"
	MatchOverInvoiced  MatchStatus = "OVER_INVOICED"
	// MatchVariance is only used as an invoice level outcome.
	MatchVariance MatchStatus = "VARIANCE"
)

// PaymentStatus tracks settlement of an invoice.
type PaymentStatus string

const (
	PaymentUnpaid      PaymentStatus = "UNPAID"
	PaymentPartialPaid PaymentStatus = "PARTIAL_PAID"
	PaymentPaid        PaymentStatus = "PAID"
)

// Invoice is a supplier invoice against one purchase order.
type Invoice struct {
	ID                    int64
	Number                string
	SupplierInvoiceNumber string
	SupplierID            int64
	PurchaseOrderID       int64
	InvoiceDate           time.Time
	DueDate               *time.Time
	Status                InvoiceStatus
	MatchingStatus        MatchStatus
	PaymentStatus         PaymentStatus
	Subtotal              decimal.Decimal
	TaxAmount             decimal.Decimal
	DiscountAmount        decimal.Decimal
	TotalAmount           decimal.Decimal
	PaidAmount            decimal.Decimal
	RemainingAmount       decimal.Decimal
	RequiresApproval      bool
	AttachmentPath        *string
	Note                  string
	CreatedBy             int64
	SubmittedAt           *time.Time
	SubmittedBy           *int64
	MatchedAt             *time.Time
	MatchedBy             *int64
	ApprovedAt            *time.Time
	ApprovedBy            *int64
	RejectedAt            *time.Time
	RejectedBy            *int64
	RejectionReason       string
	CancelledAt           *time.Time
	CancelledBy           *int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
	Lines                 []InvoiceLine
}

// Ref returns the document reference.
func (i Invoice) Ref() shared.DocumentRef {
	return shared.DocumentRef{Kind: shared.DocSupplierInvoice, ID: i.ID}
}

// InvoiceLine carries the invoiced figures and, once matched, the expected
// figures and variances.
type InvoiceLine struct {
	ID                  int64
	InvoiceID           int64
	PurchaseOrderLineID *int64
	GoodsReceiptLineID  *int64
	ItemID              int64
	ItemSnapshot        json.RawMessage
	InvoicedQty         decimal.Decimal
	InvoicedUnitPrice   decimal.Decimal
	InvoicedLineTotal   decimal.Decimal
	ExpectedQty         decimal.Decimal
	ExpectedUnitPrice   decimal.Decimal
	ExpectedLineTotal   decimal.Decimal
	QtyVariance         decimal.Decimal
	QtyVariancePct      decimal.Decimal
	PriceVariance       decimal.Decimal
	PriceVariancePct    decimal.Decimal
	AmountVariance      decimal.Decimal
	AmountVariancePct   decimal.Decimal
	MatchingStatus      MatchStatus
	WithinTolerance     bool
}

// ConfigScope tells whether a tolerance config applies to all suppliers or
// one.
type ConfigScope string

const (
	ScopeGlobal   ConfigScope = "GLOBAL"
	ScopeSupplier ConfigScope = "SUPPLIER"
)

// MatchingConfig holds the tolerances used by three-way matching. Percentages
// are absolute bounds on the variance percentage.
type MatchingConfig struct {
	ID                        int64
	Scope                     ConfigScope
	SupplierID                *int64
	QtyTolerancePct           decimal.Decimal
	PriceTolerancePct         decimal.Decimal
	AmountTolerancePct        decimal.Decimal
	AllowUnderInvoicing       bool
	AllowOverInvoicing        bool
	RequireApprovalIfVariance bool
	Active                    bool
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// MatchingResult records one matching run.
type MatchingResult struct {
	ID                  int64
	InvoiceID           int64
	ConfigID            int64
	ConfigScope         ConfigScope
	QtyTolerancePct     decimal.Decimal
	PriceTolerancePct   decimal.Decimal
	AmountTolerancePct  decimal.Decimal
	TotalQtyVariance    decimal.Decimal
	TotalPriceVariance  decimal.Decimal
	TotalAmountVariance decimal.Decimal
	OverallStatus       MatchStatus
	Details             json.RawMessage
	MatchedBy           int64
	MatchedAt           time.Time
}

// Payment is one settlement of an invoice.
type Payment struct {
	ID        int64
	Number    string
	InvoiceID int64
	Amount    decimal.Decimal
	PaidAt    time.Time
	Method    string
	Reference string
	Note      string
	ProofPath *string
	CreatedBy int64
	CreatedAt time.Time
}

// File is an uploaded attachment.
type File struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// CreateInvoiceInput registers a supplier invoice.
type CreateInvoiceInput struct {
	SupplierInvoiceNumber string          `json:"supplier_invoice_number" validate:"required,max=64"`
	SupplierID            int64           `json:"supplier_id" validate:"required"`
	PurchaseOrderID       int64           `json:"purchase_order_id" validate:"required"`
	InvoiceDate           time.Time       `json:"invoice_date"`
	DueDate               *time.Time      `json:"due_date"`
	TaxAmount             decimal.Decimal `json:"tax_amount" validate:"gte=0"`
	DiscountAmount        decimal.Decimal `json:"discount_amount" validate:"gte=0"`
	Note                  string          `json:"note"`
	Lines                 []LineInput     `json:"lines" validate:"min=1,dive"`
}

// LineInput is one invoiced line.
type LineInput struct {
	PurchaseOrderLineID *int64          `json:"purchase_order_line_id"`
	GoodsReceiptLineID  *int64          `json:"goods_receipt_line_id"`
	ItemID              int64           `json:"item_id" validate:"required"`
	Qty                 decimal.Decimal `json:"qty" validate:"gt=0"`
	UnitPrice           decimal.Decimal `json:"unit_price" validate:"gte=0"`
}

// ConfigInput creates or replaces the active tolerance config of a scope.
// A nil SupplierID targets the GLOBAL config.
type ConfigInput struct {
	SupplierID                *int64          `json:"supplier_id"`
	QtyTolerancePct           decimal.Decimal `json:"qty_tolerance_pct" validate:"gte=0,lte=100"`
	PriceTolerancePct         decimal.Decimal `json:"price_tolerance_pct" validate:"gte=0,lte=100"`
	AmountTolerancePct        decimal.Decimal `json:"amount_tolerance_pct" validate:"gte=0,lte=100"`
	AllowUnderInvoicing       bool            `json:"allow_under_invoicing"`
	AllowOverInvoicing        bool            `json:"allow_over_invoicing"`
	RequireApprovalIfVariance bool            `json:"require_approval_if_variance"`
}

// PaymentInput records a payment against an invoice.
type PaymentInput struct {
	InvoiceID      int64           `json:"invoice_id" validate:"required"`
	Amount         decimal.Decimal `json:"amount" validate:"gt=0"`
	PaidAt         time.Time       `json:"paid_at"`
	Method         string          `json:"method" validate:"required,oneof=TRANSFER CASH CHEQUE GIRO"`
	Reference      string          `json:"reference" validate:"max=120"`
	Note           string          `json:"note"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=120"`
}
