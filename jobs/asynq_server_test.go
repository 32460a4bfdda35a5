package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-scm/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-scm/internal/jobs"
)

type fakeInspector struct {
	queues map[string]*asynq.QueueInfo
	err    error
}

func (f fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	info, ok := f.queues[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestJobsHealthReportsQueues(t *testing.T) {
	inspector := fakeInspector{queues: map[string]*asynq.QueueInfo{
		QueueNotifications: {Queue: QueueNotifications, Pending: 4, Retry: 1},
	}}
	h := NewHandler(inspector, prometheus.NewRegistry(), nil)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []QueueStats `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Queues, 3)
	require.Equal(t, QueueStats{Queue: QueueNotifications, Pending: 4, Retry: 1}, body.Queues[0])
	require.Equal(t, QueueStats{Queue: QueueDefault}, body.Queues[1])
}

func TestJobsHealthUnavailable(t *testing.T) {
	h := NewHandler(fakeInspector{err: errors.New("redis down")}, prometheus.NewRegistry(), nil)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	metrics.AddReminders(2)
	h := NewHandler(nil, registry, nil)

	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "odyssey_approval_reminders_total 2")

	rec = httptest.NewRecorder()
	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestQueuesWeighted(t *testing.T) {
	q := Queues()
	require.Greater(t, q[QueueNotifications], q[QueueDefault])
	require.Greater(t, q[QueueDefault], q[QueueMaintenance])
}

type fakeCleaner struct{ retention time.Duration }

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.retention = olderThan
	return 3, nil
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	cleaner := &fakeCleaner{}
	job := &IdempotencyCleanupJob{Store: cleaner}

	removed, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.EqualValues(t, 3, removed)
	require.Equal(t, DefaultIdempotencyRetention, cleaner.retention)

	task, err := NewIdempotencyCleanupTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.ProcessTask(context.Background(), task))
	require.Equal(t, time.Hour, cleaner.retention)
}

type fakeVerifier struct{ drifts []inventory.Drift }

func (f fakeVerifier) VerifyBalances(context.Context) ([]inventory.Drift, error) {
	return f.drifts, nil
}

func TestStockVerifyReturnsDrifts(t *testing.T) {
	drift := inventory.Drift{Key: inventory.BalanceKey{LocationID: 1, ItemID: 2, UOMID: 3}}
	job := &StockVerifyJob{Inventory: fakeVerifier{drifts: []inventory.Drift{drift}}}

	drifts, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []inventory.Drift{drift}, drifts)
}
