package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-scm/internal/app"
	jobmetrics "github.com/odyssey-erp/odyssey-scm/internal/jobs"
	"github.com/odyssey-erp/odyssey-scm/internal/notify"
	"github.com/odyssey-erp/odyssey-scm/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-scm/internal/platform/db"
	"github.com/odyssey-erp/odyssey-scm/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpt := cache.QueueOpt(cfg.RedisAddr)
	client := jobs.NewClient(redisOpt)
	defer func() { _ = client.Close() }()
	notifier := notify.NewQueueDispatcher(client.Asynq())

	container, err := app.NewContainer(ctx, app.ContainerParams{Config: cfg, Pool: pool, Notifier: notifier, Logger: logger})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := jobmetrics.NewMetrics(registry)

	delivery := &jobs.NotificationHandler{
		Deduper: jobs.NewRedisDeduper(redisClient, ""),
		Sender:  jobs.LogSender{Logger: logger},
		TTL:     cfg.NotifyDedupeTTL,
		Metrics: metrics,
		Logger:  logger,
	}
	reminder := &jobs.ReminderJob{
		Approvals:  container.Approvals,
		Locker:     redislock.New(redisClient),
		Dispatcher: notifier,
		After:      cfg.ReminderAfter,
		Metrics:    metrics,
		Logger:     logger,
	}
	verify := &jobs.StockVerifyJob{Inventory: container.Inventory, Metrics: metrics, Logger: logger}
	cleanup := &jobs.IdempotencyCleanupJob{Store: container.Idempotency, Metrics: metrics, Logger: logger}

	reminderTask, err := jobs.NewApprovalReminderTask(cfg.ReminderAfter)
	if err != nil {
		return err
	}
	verifyTask, err := jobs.NewStockVerifyTask(time.Now().UTC())
	if err != nil {
		return err
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(jobs.DefaultIdempotencyRetention)
	if err != nil {
		return err
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpt,
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: notify.TaskDeliver, Handler: delivery},
			{Type: jobs.TaskApprovalReminder, Handler: reminder},
			{Type: jobs.TaskStockVerify, Handler: verify},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanup},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReminderCron, Task: reminderTask},
			{Spec: "30 2 * * *", Task: verifyTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "0 3 * * 0", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		return err
	}

	inspector := asynq.NewInspector(redisOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	server := &http.Server{
		Addr:              cfg.OpsAddr,
		Handler:           jobs.NewHandler(inspector, registry, logger).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("starting ops server", slog.String("addr", cfg.OpsAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
