package ap

import (
	"context"
	"io"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/masterdata"
	"github.com/odyssey-erp/odyssey-scm/internal/notify"
	"github.com/odyssey-erp/odyssey-scm/internal/procurement"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)
	LatestMatchingResult(ctx context.Context, invoiceID int64) (MatchingResult, error)
}

// TxRepository exposes the writes of an invoice transition.
type TxRepository interface {
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	LockInvoice(ctx context.Context, id int64) (Invoice, error)
	UpdateInvoice(ctx context.Context, inv Invoice) error
	UpdateInvoiceLines(ctx context.Context, lines []InvoiceLine) error
	SupplierInvoiceNumberTaken(ctx context.Context, supplierID int64, number string) (bool, error)
	InsertMatchingResult(ctx context.Context, res MatchingResult) (MatchingResult, error)
	InsertPayment(ctx context.Context, p Payment) (Payment, error)

	// ActiveConfig returns the active config of a scope, or a not-found error.
	ActiveConfig(ctx context.Context, scope ConfigScope, supplierID *int64) (MatchingConfig, error)
	InsertConfig(ctx context.Context, cfg MatchingConfig) (MatchingConfig, error)
	DeactivateConfig(ctx context.Context, id int64) error
}

// ProcurementPort reads the purchase orders and receipts invoices are
// matched against.
type ProcurementPort interface {
	GetPurchaseOrder(ctx context.Context, id int64) (procurement.PurchaseOrder, error)
	GetPurchaseOrderLine(ctx context.Context, id int64) (procurement.POLine, error)
	GetGoodsReceipt(ctx context.Context, id int64) (procurement.GoodsReceipt, error)
	GetGoodsReceiptLine(ctx context.Context, id int64) (procurement.GRLine, error)
}

// FileStore keeps attachments outside the database.
type FileStore interface {
	Store(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// NumberPort issues document numbers.
type NumberPort interface {
	Generate(ctx context.Context, prefix string) (string, error)
}

// HistoryPort appends status histories.
type HistoryPort interface {
	Append(ctx context.Context, entry shared.StatusHistory) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards payment recording against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
}

// Deps groups the collaborators of Service.
type Deps struct {
	Repo        RepositoryPort
	Procurement ProcurementPort
	Lookup      masterdata.Lookup
	Files       FileStore
	Numbers     NumberPort
	History     HistoryPort
	Audit       AuditPort
	Idempotency IdempotencyPort
	Notifier    notify.Dispatcher
	Clock       shared.Clock
	Logger      *slog.Logger
}

// Service handles supplier invoices, three-way matching and payments.
type Service struct {
	repo        RepositoryPort
	procurement ProcurementPort
	lookup      masterdata.Lookup
	files       FileStore
	numbers     NumberPort
	history     HistoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	notifier    notify.Dispatcher
	clock       shared.Clock
	logger      *slog.Logger
}

// NewService constructs the AP service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := d.Notifier
	if notifier == nil {
		notifier = notify.NopDispatcher{}
	}
	return &Service{
		repo:        d.Repo,
		procurement: d.Procurement,
		lookup:      d.Lookup,
		files:       d.Files,
		numbers:     d.Numbers,
		history:     d.History,
		audit:       d.Audit,
		idempotency: d.Idempotency,
		notifier:    notifier,
		clock:       shared.ClockOrSystem(d.Clock),
		logger:      logger,
	}
}

// GetInvoice loads an invoice with lines.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// ListPayments lists payments of an invoice in recording order.
func (s *Service) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	return s.repo.ListPayments(ctx, invoiceID)
}

// LatestMatchingResult returns the most recent matching run of an invoice.
func (s *Service) LatestMatchingResult(ctx context.Context, invoiceID int64) (MatchingResult, error) {
	return s.repo.LatestMatchingResult(ctx, invoiceID)
}

// storeFile uploads f and returns its path with a cleanup that removes it
// again. A nil file yields an empty path and a no-op cleanup.
func (s *Service) storeFile(ctx context.Context, key string, f *File) (*string, func(), error) {
	if f == nil || f.Body == nil {
		return nil, func() {}, nil
	}
	if s.files == nil {
		return nil, nil, shared.Validation("attachment", "file storage not configured")
	}
	path, err := s.files.Store(ctx, key, f.Body, f.ContentType)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := s.files.Delete(context.WithoutCancel(ctx), path); err != nil {
			s.logger.Warn("delete orphaned upload", slog.String("path", path), slog.Any("error", err))
		}
	}
	return &path, cleanup, nil
}

func (s *Service) appendHistory(ctx context.Context, inv Invoice, from InvoiceStatus, action string, actorID int64, meta map[string]any) error {
	if s.history == nil {
		return nil
	}
	return s.history.Append(ctx, shared.StatusHistory{
		Document:   inv.Ref(),
		FromStatus: string(from),
		ToStatus:   string(inv.Status),
		Action:     action,
		ActorID:    actorID,
		Meta:       meta,
		At:         s.clock.Now(),
	})
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, id int64, meta map[string]any) {
	shared.RecordAfterCommit(ctx, s.audit, s.logger, shared.EntityAudit(actorID, action, entity, id, meta, s.clock.Now()))
}

func ptr[T any](v T) *T { return &v }

func sumLines(lines []InvoiceLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.InvoicedLineTotal)
	}
	return total
}
