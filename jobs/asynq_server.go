package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-scm/internal/platform/httpx"
)

// Worker wraps the Asynq server and optional scheduler.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	logger    *slog.Logger
}

// TaskHandler binds a task type to its handler.
type TaskHandler struct {
	Type    string
	Handler asynq.Handler
}

// CronRegistration wires a cron expression to a prepared task.
type CronRegistration struct {
	Spec    string
	Task    *asynq.Task
	Options []asynq.Option
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Concurrency int
	Logger      *slog.Logger
	Handlers    []TaskHandler
	Cron        []CronRegistration
}

// Queues returns the weighted queue map served by the worker.
func Queues() map[string]int {
	return map[string]int{
		QueueNotifications: 6,
		QueueDefault:       3,
		QueueMaintenance:   1,
	}
}

// NewWorker constructs a Worker instance.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	logger := loggerOr(cfg.Logger)
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues:      Queues(),
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error("task failed", slog.String("type", task.Type()), slog.Any("error", err))
		}),
	})
	mux := asynq.NewServeMux()
	for _, h := range cfg.Handlers {
		if h.Type == "" || h.Handler == nil {
			continue
		}
		mux.Handle(h.Type, h.Handler)
	}

	var scheduler *asynq.Scheduler
	if len(cfg.Cron) > 0 {
		scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		for _, entry := range cfg.Cron {
			if entry.Spec == "" || entry.Task == nil {
				continue
			}
			if _, err := scheduler.Register(entry.Spec, entry.Task, entry.Options...); err != nil {
				return nil, err
			}
		}
	}

	return &Worker{server: srv, mux: mux, scheduler: scheduler, logger: logger}, nil
}

// Run starts processing jobs until context cancellation.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			return err
		}
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.server.Run(w.mux)
	}()
	w.logger.Info("worker started")
	select {
	case <-ctx.Done():
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		w.server.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if w.scheduler != nil {
			w.scheduler.Shutdown()
		}
		return err
	}
}

// Client submits jobs to the queue.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// Asynq exposes the underlying client for notification dispatch.
func (c *Client) Asynq() *asynq.Client {
	return c.client
}

// EnqueueApprovalReminder schedules an immediate reminder scan.
func (c *Client) EnqueueApprovalReminder(ctx context.Context, olderThan time.Duration) (*asynq.TaskInfo, error) {
	task, err := NewApprovalReminderTask(olderThan)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// EnqueueStockVerify schedules a balance verification.
func (c *Client) EnqueueStockVerify(ctx context.Context, at time.Time) (*asynq.TaskInfo, error) {
	task, err := NewStockVerifyTask(at)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// EnqueueIdempotencyCleanup schedules an idempotency key prune.
func (c *Client) EnqueueIdempotencyCleanup(ctx context.Context, retention time.Duration) (*asynq.TaskInfo, error) {
	task, err := NewIdempotencyCleanupTask(retention)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// QueueInspector reports queue depth. *asynq.Inspector satisfies it.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// QueueStats is the summary exposed on /jobs/health.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// Stats collects per-queue counters. Queues that were never written to are
// reported as empty.
func Stats(inspector QueueInspector) ([]QueueStats, error) {
	names := []string{QueueNotifications, QueueDefault, QueueMaintenance}
	out := make([]QueueStats, 0, len(names))
	for _, name := range names {
		stats := QueueStats{Queue: name}
		if inspector != nil {
			info, err := inspector.GetQueueInfo(name)
			switch {
			case errors.Is(err, asynq.ErrQueueNotFound):
			case err != nil:
				return nil, err
			case info != nil:
				stats.Pending = info.Pending
				stats.Active = info.Active
				stats.Scheduled = info.Scheduled
				stats.Retry = info.Retry
				stats.Archived = info.Archived
			}
		}
		out = append(out, stats)
	}
	return out, nil
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector QueueInspector
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for ops endpoints.
func NewHandler(inspector QueueInspector, gatherer prometheus.Gatherer, logger *slog.Logger) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Handler{inspector: inspector, gatherer: gatherer, logger: loggerOr(logger)}
}

// MountRoutes attaches ops routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/healthz", h.healthz)
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	r.Get("/jobs/health", h.health)
}

// Router returns a standalone router with the ops routes mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	stats, err := Stats(h.inspector)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, httpx.ProblemDetail{
			Type:   "about:blank",
			Title:  http.StatusText(http.StatusServiceUnavailable),
			Status: http.StatusServiceUnavailable,
		})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"queues": stats})
}
