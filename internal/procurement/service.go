package procurement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/approval"
	"github.com/odyssey-erp/odyssey-scm/internal/inventory"
	"github.com/odyssey-erp/odyssey-scm/internal/masterdata"
	"github.com/odyssey-erp/odyssey-scm/internal/notify"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPR(ctx context.Context, id int64) (PurchaseRequest, error)
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	GetGR(ctx context.Context, id int64) (GoodsReceipt, error)
	GetPOLine(ctx context.Context, id int64) (POLine, error)
	GetGRLine(ctx context.Context, id int64) (GRLine, error)
}

// TxRepository exposes the writes of a transition. Lock* methods take a row
// lock held until the transaction ends.
type TxRepository interface {
	InsertPR(ctx context.Context, pr PurchaseRequest) (PurchaseRequest, error)
	LockPR(ctx context.Context, id int64) (PurchaseRequest, error)
	UpdatePR(ctx context.Context, pr PurchaseRequest) error

	InsertPO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	LockPO(ctx context.Context, id int64) (PurchaseOrder, error)
	UpdatePO(ctx context.Context, po PurchaseOrder) error

	InsertGR(ctx context.Context, gr GoodsReceipt) (GoodsReceipt, error)
	LockGR(ctx context.Context, id int64) (GoodsReceipt, error)
	UpdateGR(ctx context.Context, gr GoodsReceipt) error
	// ReceivedByPOLine sums received_qty of posted receipts of a PO per PO line.
	ReceivedByPOLine(ctx context.Context, purchaseOrderID int64) (map[int64]decimal.Decimal, error)
}

// InventoryPort exposes the ledger writes of a receipt post.
type InventoryPort interface {
	CreateMovement(ctx context.Context, input inventory.MovementInput) (inventory.Movement, error)
	RegisterSerials(ctx context.Context, reg inventory.SerialRegistration) error
}

// ApprovalPort is the generic workflow engine used when a PO workflow code is set.
type ApprovalPort interface {
	Initiate(ctx context.Context, doc approval.Approvable, workflowCode string) ([]approval.Approval, error)
	GetNextPendingApproval(ctx context.Context, ref shared.DocumentRef) (approval.Approval, bool, error)
	Approve(ctx context.Context, actor shared.Actor, id int64, note string) (approval.Approval, error)
	Reject(ctx context.Context, actor shared.Actor, id int64, reason string) (approval.Approval, error)
	CancelPending(ctx context.Context, ref shared.DocumentRef, actorUserID int64, reason string) (int, error)
}

// NumberPort issues document numbers.
type NumberPort interface {
	Generate(ctx context.Context, prefix string) (string, error)
}

// HistoryPort appends and replays status histories.
type HistoryPort interface {
	Append(ctx context.Context, entry shared.StatusHistory) error
	List(ctx context.Context, ref shared.DocumentRef) ([]shared.StatusHistory, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards receipt posting against replays.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
}

// Deps groups the collaborators of Service.
type Deps struct {
	Repo        RepositoryPort
	Lookup      masterdata.Lookup
	Inventory   InventoryPort
	Numbers     NumberPort
	History     HistoryPort
	Audit       AuditPort
	Notifier    notify.Dispatcher
	Approvals   ApprovalPort
	Idempotency IdempotencyPort
	Clock       shared.Clock
	Logger      *slog.Logger
	// POWorkflowCode switches purchase order approval to the generic engine.
	POWorkflowCode string
}

// Service orchestrates purchase requests, purchase orders and goods receipts.
type Service struct {
	repo        RepositoryPort
	lookup      masterdata.Lookup
	inventory   InventoryPort
	numbers     NumberPort
	history     HistoryPort
	audit       AuditPort
	notifier    notify.Dispatcher
	approvals   ApprovalPort
	idempotency IdempotencyPort
	clock       shared.Clock
	logger      *slog.Logger
	workflow    string
}

// NewService constructs the procurement service.
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
		lookup:      d.Lookup,
		inventory:   d.Inventory,
		numbers:     d.Numbers,
		history:     d.History,
		audit:       d.Audit,
		notifier:    notifier,
		approvals:   d.Approvals,
		idempotency: d.Idempotency,
		clock:       shared.ClockOrSystem(d.Clock),
		logger:      logger,
		workflow:    d.POWorkflowCode,
	}
}

func (s *Service) usesWorkflow() bool {
	return s.workflow != "" && s.approvals != nil
}

func (s *Service) appendHistory(ctx context.Context, ref shared.DocumentRef, from, to, action string, actorID int64, meta map[string]any) error {
	if s.history == nil {
		return nil
	}
	return s.history.Append(ctx, shared.StatusHistory{
		Document:   ref,
		FromStatus: from,
		ToStatus:   to,
		Action:     action,
		ActorID:    actorID,
		Meta:       meta,
		At:         s.clock.Now(),
	})
}

// recordAudit writes after commit.
func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, ref shared.DocumentRef, meta map[string]any) {
	shared.RecordAfterCommit(ctx, s.audit, s.logger, shared.DocumentAudit(actorID, action, ref, meta, s.clock.Now()))
}

func (s *Service) nextNumber(ctx context.Context, prefix string) (string, error) {
	if s.numbers == nil {
		return "", fmt.Errorf("procurement: number generator not configured")
	}
	return s.numbers.Generate(ctx, prefix)
}

func requireReason(reason string) error {
	if reason == "" {
		return shared.Validation("reason", "reason is required")
	}
	return nil
}

func actorIDOf(actor shared.Actor) int64 {
	if actor == nil {
		return 0
	}
	return actor.ID()
}
