package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/text/language"

	jobmetrics "github.com/odyssey-erp/odyssey-scm/internal/jobs"
	"github.com/odyssey-erp/odyssey-scm/internal/notify"
)

// Deduper claims event ids so retried or re-enqueued events are delivered once.
type Deduper interface {
	Claim(ctx context.Context, id string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, id string) error
}

// RedisDeduper claims ids with SETNX.
type RedisDeduper struct {
	client *redis.Client
	prefix string
}

// NewRedisDeduper returns a deduper storing keys under prefix.
func NewRedisDeduper(client *redis.Client, prefix string) *RedisDeduper {
	if prefix == "" {
		prefix = "odyssey:notify:"
	}
	return &RedisDeduper{client: client, prefix: prefix}
}

// Claim returns false when id was already claimed within ttl.
func (d *RedisDeduper) Claim(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+id, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("jobs: claim %s: %w", id, err)
	}
	return ok, nil
}

// Release drops a claim so a failed delivery can be retried.
func (d *RedisDeduper) Release(ctx context.Context, id string) error {
	return d.client.Del(ctx, d.prefix+id).Err()
}

// Sender delivers a rendered message. Real channels (mail, push) live outside
// this module.
type Sender interface {
	Send(ctx context.Context, to notify.Recipient, msg notify.Message) error
}

// LogSender writes messages to the log.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(_ context.Context, to notify.Recipient, msg notify.Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{slog.String("subject", msg.Subject), slog.String("body", msg.Body)}
	if to.UserID != nil {
		attrs = append(attrs, slog.Int64("user_id", *to.UserID))
	}
	if to.Role != "" {
		attrs = append(attrs, slog.String("role", to.Role))
	}
	logger.Info("notification", attrs...)
	return nil
}

// NotificationHandler processes notify.TaskDeliver tasks.
type NotificationHandler struct {
	Deduper  Deduper
	Sender   Sender
	Renderer *notify.Renderer
	TTL      time.Duration
	Metrics  *jobmetrics.Metrics
	Logger   *slog.Logger
}

// ProcessTask decodes, de-duplicates, renders and sends one event.
func (h *NotificationHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	evt, err := notify.Decode(t.Payload())
	if err != nil {
		h.Metrics.Notification("unknown", jobmetrics.OutcomeInvalid)
		return fmt.Errorf("jobs: decode notification: %v: %w", err, asynq.SkipRetry)
	}
	logger := h.logger().With(slog.String("event_id", evt.ID.String()), slog.String("type", string(evt.Type)))
	id := evt.ID.String()
	if h.Deduper != nil {
		claimed, err := h.Deduper.Claim(ctx, id, h.ttl())
		if err != nil {
			return err
		}
		if !claimed {
			logger.Debug("duplicate notification skipped")
			h.Metrics.Notification(string(evt.Type), jobmetrics.OutcomeDuplicate)
			return nil
		}
	}
	if err := h.Sender.Send(ctx, evt.Recipient, h.renderer().Render(evt)); err != nil {
		h.Metrics.Notification(string(evt.Type), jobmetrics.OutcomeFailed)
		if h.Deduper != nil {
			if rerr := h.Deduper.Release(context.WithoutCancel(ctx), id); rerr != nil {
				logger.Warn("release notification claim", slog.Any("error", rerr))
			}
		}
		return errors.Join(fmt.Errorf("jobs: send notification %s", id), err)
	}
	h.Metrics.Notification(string(evt.Type), jobmetrics.OutcomeDelivered)
	return nil
}

func (h *NotificationHandler) ttl() time.Duration {
	if h.TTL <= 0 {
		return 24 * time.Hour
	}
	return h.TTL
}

var defaultRenderer = notify.NewRenderer(language.English)

func (h *NotificationHandler) renderer() *notify.Renderer {
	if h.Renderer == nil {
		return defaultRenderer
	}
	return h.Renderer
}

func (h *NotificationHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
