package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-scm/internal/inventory"
	"github.com/odyssey-erp/odyssey-scm/jobs"
)

type stubMigrator struct {
	ups, downs int
	version    uint
	dirty      bool
	err        error
}

func (m *stubMigrator) Up() error {
	m.ups++
	m.version = 7
	return m.err
}

func (m *stubMigrator) Down() error {
	m.downs++
	m.version = 0
	return m.err
}

func (m *stubMigrator) Version() (uint, bool, error) { return m.version, m.dirty, nil }

func TestMigrateCommand(t *testing.T) {
	m := &stubMigrator{}
	stdout := new(bytes.Buffer)

	code := MigrateCommand(m, MigrateOptions{Direction: "up", Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, 0, code)
	require.Equal(t, 1, m.ups)
	require.Equal(t, "schema version 7\n", stdout.String())

	stderr := new(bytes.Buffer)
	require.Equal(t, 2, MigrateCommand(m, MigrateOptions{Direction: "sideways", Stdout: stdout, Stderr: stderr}))
	require.Contains(t, stderr.String(), "unknown direction")

	m.err = errors.New("lock timeout")
	require.Equal(t, 1, MigrateCommand(m, MigrateOptions{Direction: "down", Stdout: stdout, Stderr: stderr}))
	require.Contains(t, stderr.String(), "lock timeout")
}

func TestMigrateCommandDirtyFails(t *testing.T) {
	m := &stubMigrator{version: 3, dirty: true}
	stdout := new(bytes.Buffer)

	require.Equal(t, 1, MigrateCommand(m, MigrateOptions{Direction: "version", Stdout: stdout, Stderr: new(bytes.Buffer)}))
	require.Equal(t, "schema version 3 (dirty)\n", stdout.String())
}

type stubInventory struct {
	drifts  []inventory.Drift
	rebuilt int
}

func (s *stubInventory) VerifyBalances(context.Context) ([]inventory.Drift, error) {
	return s.drifts, nil
}

func (s *stubInventory) RebuildBalances(context.Context) (int, error) { return s.rebuilt, nil }

func TestStockVerifyJSON(t *testing.T) {
	inv := &stubInventory{drifts: []inventory.Drift{
		{Key: inventory.BalanceKey{LocationID: 2, ItemID: 9, UOMID: 1}, Ledger: decimal.NewFromInt(5), Cached: decimal.NewFromInt(4)},
		{Key: inventory.BalanceKey{LocationID: 1, ItemID: 9, UOMID: 1}, Ledger: decimal.Zero, Cached: decimal.NewFromInt(1)},
	}}
	stdout := new(bytes.Buffer)

	code := NewStockCLI(inv).VerifyCommand(context.Background(), StockOptions{JSONOutput: true, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, 10, code)

	var summary VerifySummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.False(t, summary.OK)
	require.Len(t, summary.Drifts, 2)
	require.Equal(t, int64(1), summary.Drifts[0].LocationID)
	require.Equal(t, "5", summary.Drifts[1].Ledger)
}

func TestStockVerifyCleanAndRebuild(t *testing.T) {
	inv := &stubInventory{rebuilt: 12}
	stdout := new(bytes.Buffer)
	c := NewStockCLI(inv)

	require.Equal(t, 0, c.VerifyCommand(context.Background(), StockOptions{Stdout: stdout, Stderr: new(bytes.Buffer)}))
	require.Contains(t, stdout.String(), "match the ledger")

	stdout.Reset()
	require.Equal(t, 0, c.RebuildCommand(context.Background(), StockOptions{Stdout: stdout, Stderr: new(bytes.Buffer)}))
	require.Equal(t, "rebuilt 12 balance rows\n", stdout.String())
}

type stubEnqueuer struct{ tasks []*asynq.Task }

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	return &asynq.TaskInfo{ID: "t-1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

type stubInspector struct{}

func (stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if queue == jobs.QueueNotifications {
		return &asynq.QueueInfo{Queue: queue, Pending: 2}, nil
	}
	return nil, asynq.ErrQueueNotFound
}

func TestJobsTrigger(t *testing.T) {
	client := &stubEnqueuer{}
	c := NewJobsCLI(client, stubInspector{})
	stdout := new(bytes.Buffer)

	code := c.TriggerCommand(context.Background(), TriggerOptions{Name: JobApprovalReminder, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, 0, code)
	require.Len(t, client.tasks, 1)
	require.Equal(t, jobs.TaskApprovalReminder, client.tasks[0].Type())
	require.Contains(t, stdout.String(), "t-1")

	_, err := c.Trigger(context.Background(), TriggerOptions{Name: "warmup"})
	require.Error(t, err)
}

func TestJobsStatsJSON(t *testing.T) {
	c := NewJobsCLI(nil, stubInspector{})
	stdout := new(bytes.Buffer)

	require.Equal(t, 0, c.StatsCommand(context.Background(), StatsOptions{JSONOutput: true, Stdout: stdout, Stderr: new(bytes.Buffer)}))

	var stats []jobs.QueueStats
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &stats))
	require.Len(t, stats, 3)
	require.Equal(t, 2, stats[0].Pending)
}
