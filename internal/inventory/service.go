package inventory

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/masterdata"
	"github.com/odyssey-erp/odyssey-scm/internal/notify"
	"github.com/odyssey-erp/odyssey-scm/internal/platform/db"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMovement(ctx context.Context, id int64) (Movement, error)
	// LedgerBalances aggregates stock_movements; callers inside a
	// transaction see their own uncommitted movements.
	LedgerBalances(ctx context.Context, filter OnHandFilter) ([]Balance, error)
	CachedBalances(ctx context.Context, filter OnHandFilter) ([]Balance, error)
	ListSerials(ctx context.Context, goodsReceiptLineID int64) ([]SerialUnit, error)
}

// TxRepository exposes the writes performed inside a movement transaction.
type TxRepository interface {
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	// AdjustBalance adds delta to the cached balance and deletes the row when
	// it reaches exactly zero.
	AdjustBalance(ctx context.Context, key BalanceKey, delta decimal.Decimal) error
	ReplaceBalances(ctx context.Context, balances []Balance) error
	InsertSerials(ctx context.Context, units []SerialUnit) error
	RelocateSerials(ctx context.Context, goodsReceiptLineID, fromLocationID, toLocationID int64, limit int) (int, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	BalanceMode BalanceMode
	Clock       shared.Clock
	Logger      *slog.Logger
}

// Service appends movements to the stock ledger and answers on-hand queries.
type Service struct {
	repo     RepositoryPort
	lookup   masterdata.Lookup
	audit    AuditPort
	notifier notify.Dispatcher
	mode     BalanceMode
	clock    shared.Clock
	logger   *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, lookup masterdata.Lookup, audit AuditPort, notifier notify.Dispatcher, cfg ServiceConfig) *Service {
	mode := cfg.BalanceMode
	if mode == "" {
		mode = BalanceEager
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		lookup:   lookup,
		audit:    audit,
		notifier: notifier,
		mode:     mode,
		clock:    shared.ClockOrSystem(cfg.Clock),
		logger:   logger,
	}
}

// Mode returns the configured balance mode.
func (s *Service) Mode() BalanceMode { return s.mode }

// CreateMovement validates and appends one movement. In eager mode the
// balance cache is adjusted in the same transaction.
func (s *Service) CreateMovement(ctx context.Context, input MovementInput) (Movement, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return Movement{}, err
	}
	if input.SourceLocationID == nil && input.DestinationLocationID == nil {
		return Movement{}, shared.Validation("destination_location_id", "source or destination location is required")
	}
	item, err := s.lookup.GetItem(ctx, input.ItemID)
	if err != nil {
		return Movement{}, err
	}
	if input.UOMID != nil {
		if _, err := s.lookup.GetUOM(ctx, *input.UOMID); err != nil {
			return Movement{}, err
		}
	}
	var src, dst masterdata.Location
	if input.SourceLocationID != nil {
		if src, err = s.lookup.GetLocation(ctx, *input.SourceLocationID); err != nil {
			return Movement{}, err
		}
	}
	if input.DestinationLocationID != nil {
		if dst, err = s.lookup.GetLocation(ctx, *input.DestinationLocationID); err != nil {
			return Movement{}, err
		}
	}
	if input.SourceLocationID != nil && input.DestinationLocationID != nil {
		if src.ID == dst.ID {
			return Movement{}, shared.Validation("destination_location_id", "source and destination location must differ")
		}
		if src.WarehouseID != dst.WarehouseID {
			return Movement{}, shared.Validation("destination_location_id", "source and destination must belong to the same warehouse")
		}
	}

	movementAt := input.MovementAt
	if movementAt.IsZero() {
		movementAt = s.clock.Now()
	}
	mv := Movement{
		ItemID:                input.ItemID,
		UOMID:                 input.UOMID,
		SourceLocationID:      input.SourceLocationID,
		DestinationLocationID: input.DestinationLocationID,
		Qty:                   input.Qty,
		ReferenceType:         input.ReferenceType,
		ReferenceID:           input.ReferenceID,
		ReferenceLineID:       input.ReferenceLineID,
		CreatedBy:             input.ActorID,
		MovementAt:            movementAt,
		Meta:                  input.Meta,
	}
	if mv.Meta == nil {
		mv.Meta = map[string]any{}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertMovement(ctx, mv)
		if err != nil {
			return err
		}
		mv.ID = id
		if s.mode != BalanceEager {
			return nil
		}
		if mv.DestinationLocationID != nil {
			if err := tx.AdjustBalance(ctx, KeyFor(*mv.DestinationLocationID, mv.ItemID, mv.UOMID), mv.Qty); err != nil {
				return err
			}
		}
		if mv.SourceLocationID != nil {
			if err := tx.AdjustBalance(ctx, KeyFor(*mv.SourceLocationID, mv.ItemID, mv.UOMID), mv.Qty.Neg()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Movement{}, err
	}

	db.AfterCommit(ctx, func(ctx context.Context) {
		s.recordAudit(ctx, mv)
		if mv.SourceLocationID != nil {
			s.checkReorderLevel(ctx, item, mv)
		}
	})
	return mv, nil
}

// ReverseMovement appends the mirror image of movement id. The original row
// is never modified.
func (s *Service) ReverseMovement(ctx context.Context, actor shared.Actor, id int64, reason string) (Movement, error) {
	if err := shared.RequireAnyRole(actor, "reverse movement", shared.RoleWarehouse, shared.RoleAdmin); err != nil {
		return Movement{}, err
	}
	orig, err := s.repo.GetMovement(ctx, id)
	if err != nil {
		return Movement{}, err
	}
	meta := map[string]any{"reversal_of": orig.ID}
	if reason != "" {
		meta["reason"] = reason
	}
	return s.CreateMovement(ctx, MovementInput{
		ItemID:                orig.ItemID,
		UOMID:                 orig.UOMID,
		SourceLocationID:      orig.DestinationLocationID,
		DestinationLocationID: orig.SourceLocationID,
		Qty:                   orig.Qty,
		ReferenceType:         orig.ReferenceType,
		ReferenceID:           orig.ReferenceID,
		ReferenceLineID:       orig.ReferenceLineID,
		ActorID:               actor.ID(),
		Meta:                  meta,
	})
}

// GetOnHandForLocation sums the ledger for one location and item. A nil
// uomID aggregates every unit.
func (s *Service) GetOnHandForLocation(ctx context.Context, locationID, itemID int64, uomID *int64) (decimal.Decimal, error) {
	rows, err := s.repo.LedgerBalances(ctx, OnHandFilter{LocationID: &locationID, ItemID: &itemID, UOMID: uomID})
	if err != nil {
		return decimal.Zero, err
	}
	return Sum(rows), nil
}

// GetOnHandByLocationForItem lists non-zero on-hand per location.
func (s *Service) GetOnHandByLocationForItem(ctx context.Context, itemID int64, uomID *int64) ([]LocationOnHand, error) {
	rows, err := s.repo.LedgerBalances(ctx, OnHandFilter{ItemID: &itemID, UOMID: uomID})
	if err != nil {
		return nil, err
	}
	var out []LocationOnHand
	idx := map[int64]int{}
	for _, r := range rows {
		if i, ok := idx[r.LocationID]; ok {
			out[i].Qty = out[i].Qty.Add(r.Qty)
			continue
		}
		idx[r.LocationID] = len(out)
		out = append(out, LocationOnHand{LocationID: r.LocationID, Qty: r.Qty})
	}
	filtered := out[:0]
	for _, l := range out {
		if !l.Qty.IsZero() {
			filtered = append(filtered, l)
		}
	}
	return filtered, nil
}

// GetTotalOnHandForItem sums every location.
func (s *Service) GetTotalOnHandForItem(ctx context.Context, itemID int64, uomID *int64) (decimal.Decimal, error) {
	rows, err := s.repo.LedgerBalances(ctx, OnHandFilter{ItemID: &itemID, UOMID: uomID})
	if err != nil {
		return decimal.Zero, err
	}
	return Sum(rows), nil
}

// CachedBalance reads the balance cache. A missing row is zero. In lazy
// mode the ledger answers.
func (s *Service) CachedBalance(ctx context.Context, locationID, itemID int64, uomID *int64) (decimal.Decimal, error) {
	if s.mode == BalanceLazy {
		return s.GetOnHandForLocation(ctx, locationID, itemID, uomID)
	}
	rows, err := s.repo.CachedBalances(ctx, OnHandFilter{LocationID: &locationID, ItemID: &itemID, UOMID: uomID})
	if err != nil {
		return decimal.Zero, err
	}
	return Sum(rows), nil
}

// VerifyBalances compares the cache with the ledger. Lazy mode has no cache
// and always verifies clean.
func (s *Service) VerifyBalances(ctx context.Context) ([]Drift, error) {
	if s.mode == BalanceLazy {
		return nil, nil
	}
	ledger, err := s.repo.LedgerBalances(ctx, OnHandFilter{})
	if err != nil {
		return nil, err
	}
	cache, err := s.repo.CachedBalances(ctx, OnHandFilter{})
	if err != nil {
		return nil, err
	}
	return Compare(ledger, cache), nil
}

// RebuildBalances replaces the cache with ledger sums.
func (s *Service) RebuildBalances(ctx context.Context) (int, error) {
	if s.mode == BalanceLazy {
		return 0, nil
	}
	var n int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ledger, err := s.repo.LedgerBalances(ctx, OnHandFilter{})
		if err != nil {
			return err
		}
		n = len(ledger)
		return tx.ReplaceBalances(ctx, ledger)
	})
	return n, err
}

// RegisterSerials records serial units received on a goods receipt line.
func (s *Service) RegisterSerials(ctx context.Context, reg SerialRegistration) error {
	if len(reg.Serials) == 0 {
		return nil
	}
	seen := map[string]bool{}
	units := make([]SerialUnit, 0, len(reg.Serials))
	for i, serial := range reg.Serials {
		if serial == "" {
			return shared.Validation("serials."+strconv.Itoa(i), "serial number is required")
		}
		if seen[serial] {
			return shared.Validation("serials."+strconv.Itoa(i), "duplicate serial number "+serial)
		}
		seen[serial] = true
		units = append(units, SerialUnit{ItemID: reg.ItemID, Serial: serial, GoodsReceiptLineID: reg.GoodsReceiptLineID, LocationID: reg.LocationID})
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.InsertSerials(ctx, units)
	})
}

// RelocateSerials moves up to limit serial units of a goods receipt line from
// one location to another and returns how many moved.
func (s *Service) RelocateSerials(ctx context.Context, goodsReceiptLineID, fromLocationID, toLocationID int64, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}
	var moved int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		moved, err = tx.RelocateSerials(ctx, goodsReceiptLineID, fromLocationID, toLocationID, limit)
		return err
	})
	return moved, err
}

// ListSerials returns the serial units of a goods receipt line.
func (s *Service) ListSerials(ctx context.Context, goodsReceiptLineID int64) ([]SerialUnit, error) {
	return s.repo.ListSerials(ctx, goodsReceiptLineID)
}

// checkReorderLevel runs after commit against committed stock.
func (s *Service) checkReorderLevel(ctx context.Context, item masterdata.Item, mv Movement) {
	if s.notifier == nil || !item.ReorderLevel.IsPositive() {
		return
	}
	total, err := s.GetTotalOnHandForItem(ctx, item.ID, nil)
	if err != nil {
		s.logger.Warn("low stock check", slog.Int64("item_id", item.ID), slog.Any("error", err))
		return
	}
	if !total.LessThan(item.ReorderLevel) {
		return
	}
	evt := notify.NewEvent(notify.LowStockAlert, shared.DocumentRef{Kind: mv.ReferenceType, ID: mv.ReferenceID}, "",
		notify.ToRole(shared.RoleWarehouse), s.clock.Now()).
		With("item_id", item.ID).
		With("item_code", item.Code).
		With("on_hand", total.String()).
		With("reorder_level", item.ReorderLevel.String())
	if err := s.notifier.Dispatch(ctx, evt); err != nil {
		s.logger.Warn("dispatch low stock alert", slog.Int64("item_id", item.ID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, mv Movement) {
	if s.audit == nil {
		return
	}
	entry := shared.MovementAudit(mv.CreatedBy, mv.ID, string(mv.Direction()), mv.ItemID, mv.Qty,
		shared.DocumentRef{Kind: mv.ReferenceType, ID: mv.ReferenceID}, mv.MovementAt)
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("record movement audit", slog.Int64("movement_id", mv.ID), slog.Any("error", err))
	}
}
