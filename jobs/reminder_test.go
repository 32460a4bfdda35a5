package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-scm/internal/approval"
	"github.com/odyssey-erp/odyssey-scm/internal/notify"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

type fakeStale struct {
	approvals []approval.Approval
	olderThan time.Duration
}

func (f *fakeStale) ListStalePending(_ context.Context, olderThan time.Duration) ([]approval.Approval, error) {
	f.olderThan = olderThan
	return f.approvals, nil
}

func newLocker(t *testing.T) *redislock.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redislock.New(client)
}

func staleApprovals() []approval.Approval {
	role := "dept_head"
	user := int64(42)
	created := time.Date(2025, 1, 12, 8, 0, 0, 0, time.UTC)
	return []approval.Approval{
		{ID: 1, StepName: "Department Head", Document: shared.DocumentRef{Kind: shared.DocPurchaseRequest, ID: 3}, AssignedToRole: &role, CreatedAt: created},
		{ID: 2, StepName: "General Manager", Document: shared.DocumentRef{Kind: shared.DocPurchaseRequest, ID: 4}, AssignedToUserID: &user, CreatedAt: created},
		{ID: 3, StepName: "Orphan", Document: shared.DocumentRef{Kind: shared.DocPurchaseRequest, ID: 5}, CreatedAt: created},
	}
}

func TestReminderDispatchesStaleApprovals(t *testing.T) {
	stale := &fakeStale{approvals: staleApprovals()}
	rec := &notify.Recorder{}
	job := &ReminderJob{
		Approvals:  stale,
		Locker:     newLocker(t),
		Dispatcher: rec,
		After:      48 * time.Hour,
		Clock:      shared.FixedClock{T: time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)},
	}

	sent, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 2, sent)
	require.Equal(t, 48*time.Hour, stale.olderThan)

	events := rec.OfType(notify.ApprovalReminder)
	require.Len(t, events, 2)
	require.Equal(t, "dept_head", events[0].Recipient.Role)
	require.Equal(t, int64(42), *events[1].Recipient.UserID)
	require.Equal(t, stale.approvals[0].CreatedAt, events[0].OccurredAt)
}

func TestReminderIDsStableWithinDay(t *testing.T) {
	stale := &fakeStale{approvals: staleApprovals()[:1]}
	rec := &notify.Recorder{}
	clock := shared.FixedClock{T: time.Date(2025, 1, 15, 8, 0, 0, 0, time.UTC)}
	job := &ReminderJob{Approvals: stale, Dispatcher: rec, Clock: clock}

	_, err := job.Run(context.Background(), time.Hour)
	require.NoError(t, err)
	job.Clock = shared.FixedClock{T: clock.T.Add(6 * time.Hour)}
	_, err = job.Run(context.Background(), time.Hour)
	require.NoError(t, err)
	job.Clock = shared.FixedClock{T: clock.T.Add(24 * time.Hour)}
	_, err = job.Run(context.Background(), time.Hour)
	require.NoError(t, err)

	events := rec.Events()
	require.Len(t, events, 3)
	require.Equal(t, events[0].ID, events[1].ID)
	require.NotEqual(t, events[0].ID, events[2].ID)
}

func TestReminderSkipsWhenLockHeld(t *testing.T) {
	locker := newLocker(t)
	lock, err := locker.Obtain(context.Background(), reminderLockKey, time.Minute, nil)
	require.NoError(t, err)
	defer func() { _ = lock.Release(context.Background()) }()

	stale := &fakeStale{approvals: staleApprovals()}
	rec := &notify.Recorder{}
	job := &ReminderJob{Approvals: stale, Locker: locker, Dispatcher: rec}

	sent, err := job.Run(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Zero(t, sent)
	require.Empty(t, rec.Events())
}

func TestReminderReleasesLock(t *testing.T) {
	locker := newLocker(t)
	job := &ReminderJob{Approvals: &fakeStale{}, Locker: locker, Dispatcher: &notify.Recorder{}}

	_, err := job.Run(context.Background(), time.Hour)
	require.NoError(t, err)

	lock, err := locker.Obtain(context.Background(), reminderLockKey, time.Minute, nil)
	require.NoError(t, err)
	require.NoError(t, lock.Release(context.Background()))
}
