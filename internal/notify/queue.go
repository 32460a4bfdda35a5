package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// TaskDeliver is the asynq task type carrying one Event.
const TaskDeliver = "notification:deliver"

// QueueName is the asynq queue notifications are enqueued on.
const QueueName = "notifications"

// QueueDispatcher enqueues events for the worker.
type QueueDispatcher struct {
	client *asynq.Client
}

// NewQueueDispatcher wraps an asynq client.
func NewQueueDispatcher(client *asynq.Client) *QueueDispatcher {
	return &QueueDispatcher{client: client}
}

// NewDeliverTask builds the task for evt. The event id doubles as the task id
// so re-enqueueing the same event is rejected by asynq.
func NewDeliverTask(evt Event) (*asynq.Task, error) {
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	payload, err := evt.Encode()
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDeliver, payload,
		asynq.Queue(QueueName),
		asynq.TaskID(evt.ID.String()),
		asynq.MaxRetry(8),
		asynq.Timeout(30*time.Second)), nil
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, evt Event) error {
	if d == nil || d.client == nil {
		return fmt.Errorf("notify: queue dispatcher not initialised")
	}
	task, err := NewDeliverTask(evt)
	if err != nil {
		return err
	}
	if _, err := d.client.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil
		}
		return fmt.Errorf("notify: enqueue %s: %w", evt.Type, err)
	}
	return nil
}
