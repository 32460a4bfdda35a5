package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-scm/jobs"
)

// Enqueuer submits tasks. *asynq.Client satisfies it.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    Enqueuer
	inspector jobs.QueueInspector
}

// NewJobsCLI builds the helper from a client and inspector.
func NewJobsCLI(client Enqueuer, inspector jobs.QueueInspector) *JobsCLI {
	return &JobsCLI{client: client, inspector: inspector}
}

// Job names accepted by Trigger.
const (
	JobApprovalReminder   = "approval-reminder"
	JobStockVerify        = "stock-verify"
	JobIdempotencyCleanup = "idempotency-cleanup"
)

// TriggerOptions defines the jobs trigger arguments.
type TriggerOptions struct {
	Name      string
	OlderThan time.Duration
	Retention time.Duration
	Stdout    io.Writer
	Stderr    io.Writer
}

// Trigger enqueues a supported job by name.
func (c *JobsCLI) Trigger(ctx context.Context, opts TriggerOptions) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	var task *asynq.Task
	var err error
	switch opts.Name {
	case JobApprovalReminder:
		task, err = jobs.NewApprovalReminderTask(opts.OlderThan)
	case JobStockVerify:
		task, err = jobs.NewStockVerifyTask(time.Now().UTC())
	case JobIdempotencyCleanup:
		task, err = jobs.NewIdempotencyCleanupTask(opts.Retention)
	default:
		return nil, fmt.Errorf("jobs cli: unsupported job %q", opts.Name)
	}
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task)
}

// TriggerCommand enqueues a job and prints the task id.
func (c *JobsCLI) TriggerCommand(ctx context.Context, opts TriggerOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	info, err := c.Trigger(ctx, opts)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs trigger: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "enqueued %s on %s (%s)\n", info.Type, info.Queue, info.ID)
	return 0
}

// StatsOptions defines the jobs stats arguments.
type StatsOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// StatsCommand prints per-queue counters.
func (c *JobsCLI) StatsCommand(_ context.Context, opts StatsOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if c == nil || c.inspector == nil {
		_, _ = fmt.Fprintln(stderr, "jobs stats: inspector not configured")
		return 1
	}
	stats, err := jobs.Stats(c.inspector)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs stats: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(stats); err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs stats: encode json: %v\n", err)
			return 1
		}
		return 0
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
	for _, s := range stats {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
	}
	_ = tw.Flush()
	return 0
}
