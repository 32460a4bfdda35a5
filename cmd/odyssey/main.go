package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-scm/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-scm/internal/app"
	"github.com/odyssey-erp/odyssey-scm/internal/inventory"
	"github.com/odyssey-erp/odyssey-scm/internal/masterdata"
	"github.com/odyssey-erp/odyssey-scm/internal/notify"
	"github.com/odyssey-erp/odyssey-scm/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-scm/internal/platform/db"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

const usage = `usage: odyssey <command> [arguments]

commands:
  migrate up|down|version
  stock verify [-json]
  stock rebuild
  jobs trigger approval-reminder|stock-verify|idempotency-cleanup [-older-than 48h] [-retention 720h]
  jobs stats [-json]
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping cli")
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string) int {
	if len(args) < 2 {
		_, _ = fmt.Fprint(os.Stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 1
	}
	logger := app.NewLogger(cfg)

	switch args[0] {
	case "migrate":
		return runMigrate(cfg, args[1])
	case "stock":
		return runStock(ctx, cfg, logger, args[1], args[2:])
	case "jobs":
		return runJobs(ctx, cfg, args[1], args[2:])
	default:
		_, _ = fmt.Fprint(os.Stderr, usage)
		return 2
	}
}

func runMigrate(cfg *app.Config, direction string) int {
	m, err := db.NewMigrator(cfg.PGDSN)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	defer func() { _ = m.Close() }()
	return cli.MigrateCommand(m, cli.MigrateOptions{Direction: direction})
}

func runStock(ctx context.Context, cfg *app.Config, logger *slog.Logger, sub string, args []string) int {
	fs := flag.NewFlagSet("stock "+sub, flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "stock: %v\n", err)
		return 1
	}
	defer pool.Close()

	// Maintenance never emits low-stock alerts, so events only go to the log.
	inv := inventory.NewService(inventory.NewRepository(pool), masterdata.NewRepository(pool), shared.NewAuditLogger(pool),
		notify.LogDispatcher{Logger: logger}, inventory.ServiceConfig{
			BalanceMode: cfg.BalanceMode(),
			Logger:      logger,
		})
	stock := cli.NewStockCLI(inv)
	opts := cli.StockOptions{JSONOutput: *jsonOut}
	switch sub {
	case "verify":
		return stock.VerifyCommand(ctx, opts)
	case "rebuild":
		return stock.RebuildCommand(ctx, opts)
	default:
		_, _ = fmt.Fprint(os.Stderr, usage)
		return 2
	}
}

func runJobs(ctx context.Context, cfg *app.Config, sub string, args []string) int {
	redisOpt := cache.QueueOpt(cfg.RedisAddr)
	client := asynq.NewClient(redisOpt)
	defer func() { _ = client.Close() }()
	inspector := asynq.NewInspector(redisOpt)
	defer func() { _ = inspector.Close() }()
	jobsCLI := cli.NewJobsCLI(client, inspector)

	switch sub {
	case "trigger":
		if len(args) == 0 {
			_, _ = fmt.Fprint(os.Stderr, usage)
			return 2
		}
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		olderThan := fs.Duration("older-than", cfg.ReminderAfter, "reminder staleness threshold")
		retention := fs.Duration("retention", 30*24*time.Hour, "idempotency key retention")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		return jobsCLI.TriggerCommand(ctx, cli.TriggerOptions{Name: args[0], OlderThan: *olderThan, Retention: *retention})
	case "stats":
		fs := flag.NewFlagSet("jobs stats", flag.ContinueOnError)
		jsonOut := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		return jobsCLI.StatsCommand(ctx, cli.StatsOptions{JSONOutput: *jsonOut})
	default:
		_, _ = fmt.Fprint(os.Stderr, usage)
		return 2
	}
}
