package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-scm/internal/ap"
	"github.com/odyssey-erp/odyssey-scm/internal/approval"
	"github.com/odyssey-erp/odyssey-scm/internal/inventory"
	"github.com/odyssey-erp/odyssey-scm/internal/masterdata"
	"github.com/odyssey-erp/odyssey-scm/internal/notify"
	"github.com/odyssey-erp/odyssey-scm/internal/numbering"
	"github.com/odyssey-erp/odyssey-scm/internal/picking"
	"github.com/odyssey-erp/odyssey-scm/internal/platform/storage"
	"github.com/odyssey-erp/odyssey-scm/internal/procurement"
	"github.com/odyssey-erp/odyssey-scm/internal/putaway"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

// Container holds the Postgres backed services of the core.
type Container struct {
	Lookup      *masterdata.Repository
	Numbers     *numbering.Generator
	Idempotency *shared.IdempotencyStore
	Inventory   *inventory.Service
	Approvals   *approval.Service
	Procurement *procurement.Service
	PutAways    *putaway.Service
	Picking     *picking.Service
	AP          *ap.Service
}

// ContainerParams collects what NewContainer wires together.
type ContainerParams struct {
	Config   *Config
	Pool     *pgxpool.Pool
	Notifier notify.Dispatcher
	// Files overrides the S3 store built from Config.
	Files  ap.FileStore
	Clock  shared.Clock
	Logger *slog.Logger
}

// NewContainer builds every service against the shared pool.
func NewContainer(ctx context.Context, p ContainerParams) (*Container, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("app: config required")
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := shared.ClockOrSystem(p.Clock)
	notifier := p.Notifier
	if notifier == nil {
		notifier = notify.LogDispatcher{Logger: logger}
	}

	files := p.Files
	if files == nil && p.Config.StorageEnabled() {
		s3, err := storage.NewS3FileStore(ctx, storage.Config{
			Endpoint:     p.Config.S3Endpoint,
			Region:       p.Config.S3Region,
			Bucket:       p.Config.S3Bucket,
			AccessKey:    p.Config.S3AccessKey,
			SecretKey:    p.Config.S3SecretKey,
			UsePathStyle: p.Config.S3UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("app: file storage: %w", err)
		}
		files = s3
	}

	lookup := masterdata.NewRepository(p.Pool)
	audit := shared.NewAuditLogger(p.Pool)
	history := shared.NewHistoryRecorder(p.Pool, logger)
	idem := shared.NewIdempotencyStore(p.Pool)
	numbers := numbering.NewGenerator(numbering.NewPGStore(p.Pool), clock)

	inv := inventory.NewService(inventory.NewRepository(p.Pool), lookup, audit, notifier, inventory.ServiceConfig{
		BalanceMode: p.Config.BalanceMode(),
		Clock:       clock,
		Logger:      logger.With(slog.String("module", "inventory")),
	})
	approvals := approval.NewService(approval.NewRepository(p.Pool), lookup, notifier, clock, logger.With(slog.String("module", "approval")))
	proc := procurement.NewService(procurement.Deps{
		Repo:           procurement.NewRepository(p.Pool),
		Lookup:         lookup,
		Inventory:      inv,
		Numbers:        numbers,
		History:        history,
		Audit:          audit,
		Notifier:       notifier,
		Approvals:      approvals,
		Idempotency:    idem,
		Clock:          clock,
		Logger:         logger.With(slog.String("module", "procurement")),
		POWorkflowCode: p.Config.POWorkflowCode,
	})
	putaways := putaway.NewService(putaway.Deps{
		Repo:      putaway.NewRepository(p.Pool),
		Receipts:  proc,
		Inventory: inv,
		Lookup:    lookup,
		Numbers:   numbers,
		History:   history,
		Audit:     audit,
		Clock:     clock,
		Logger:    logger.With(slog.String("module", "putaway")),
	})
	pick := picking.NewService(picking.Deps{
		Repo:      picking.NewRepository(p.Pool),
		Inventory: inv,
		Lookup:    lookup,
		Numbers:   numbers,
		History:   history,
		Audit:     audit,
		Clock:     clock,
		Logger:    logger.With(slog.String("module", "picking")),
	})
	payables := ap.NewService(ap.Deps{
		Repo:        ap.NewRepository(p.Pool),
		Procurement: proc,
		Lookup:      lookup,
		Files:       files,
		Numbers:     numbers,
		History:     history,
		Audit:       audit,
		Idempotency: idem,
		Notifier:    notifier,
		Clock:       clock,
		Logger:      logger.With(slog.String("module", "ap")),
	})

	return &Container{
		Lookup:      lookup,
		Numbers:     numbers,
		Idempotency: idem,
		Inventory:   inv,
		Approvals:   approvals,
		Procurement: proc,
		PutAways:    putaways,
		Picking:     pick,
		AP:          payables,
	}, nil
}

// BalanceMode returns the configured stock balance caching mode.
func (c *Config) BalanceMode() inventory.BalanceMode {
	return inventory.BalanceMode(strings.ToLower(c.StockBalanceMode))
}
