package ap

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// ResolveConfig returns the tolerance config matching uses for a supplier.
func (s *Service) ResolveConfig(ctx context.Context, supplierID int64) (MatchingConfig, error) {
	var cfg MatchingConfig
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		cfg, err = s.resolveConfig(ctx, tx, supplierID)
		return err
	})
	return cfg, err
}

// resolveConfig prefers the supplier's active config, then the GLOBAL one.
// A missing GLOBAL config is created with zero tolerances.
func (s *Service) resolveConfig(ctx context.Context, tx TxRepository, supplierID int64) (MatchingConfig, error) {
	cfg, err := tx.ActiveConfig(ctx, ScopeSupplier, &supplierID)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return MatchingConfig{}, err
	}
	cfg, err = tx.ActiveConfig(ctx, ScopeGlobal, nil)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return MatchingConfig{}, err
	}
	now := s.clock.Now()
	return tx.InsertConfig(ctx, MatchingConfig{
		Scope:                     ScopeGlobal,
		QtyTolerancePct:           decimal.Zero,
		PriceTolerancePct:         decimal.Zero,
		AmountTolerancePct:        decimal.Zero,
		RequireApprovalIfVariance: true,
		Active:                    true,
		CreatedAt:                 now,
		UpdatedAt:                 now,
	})
}

// UpsertConfig replaces the active config of the GLOBAL scope, or of one
// supplier when input.SupplierID is set.
func (s *Service) UpsertConfig(ctx context.Context, actor shared.Actor, input ConfigInput) (MatchingConfig, error) {
	if err := shared.RequireAnyRole(actor, "update matching config", shared.RoleFinance, shared.RoleAdmin); err != nil {
		return MatchingConfig{}, err
	}
	if err := shared.ValidateStruct(input); err != nil {
		return MatchingConfig{}, err
	}
	scope := ScopeGlobal
	if input.SupplierID != nil {
		scope = ScopeSupplier
		if _, err := s.lookup.GetSupplier(ctx, *input.SupplierID); err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				return MatchingConfig{}, shared.Validation("supplier_id", "supplier not found")
			}
			return MatchingConfig{}, err
		}
	}
	var (
		out      MatchingConfig
		replaced *MatchingConfig
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.ActiveConfig(ctx, scope, input.SupplierID)
		switch {
		case err == nil:
			if err := tx.DeactivateConfig(ctx, current.ID); err != nil {
				return err
			}
			replaced = &current
		case !errors.Is(err, shared.ErrNotFound):
			return err
		}
		now := s.clock.Now()
		out, err = tx.InsertConfig(ctx, MatchingConfig{
			Scope:                     scope,
			SupplierID:                input.SupplierID,
			QtyTolerancePct:           input.QtyTolerancePct,
			PriceTolerancePct:         input.PriceTolerancePct,
			AmountTolerancePct:        input.AmountTolerancePct,
			AllowUnderInvoicing:       input.AllowUnderInvoicing,
			AllowOverInvoicing:        input.AllowOverInvoicing,
			RequireApprovalIfVariance: input.RequireApprovalIfVariance,
			Active:                    true,
			CreatedAt:                 now,
			UpdatedAt:                 now,
		})
		return err
	})
	if err != nil {
		return MatchingConfig{}, err
	}
	meta := map[string]any{
		"scope":                string(out.Scope),
		"qty_tolerance_pct":    out.QtyTolerancePct.String(),
		"price_tolerance_pct":  out.PriceTolerancePct.String(),
		"amount_tolerance_pct": out.AmountTolerancePct.String(),
	}
	if replaced != nil {
		meta["replaced_id"] = replaced.ID
	}
	s.recordAudit(ctx, actor.ID(), "AP_MATCHING_CONFIG_UPSERT", "invoice_matching_config", out.ID, meta)
	return out, nil
}
