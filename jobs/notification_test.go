package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-scm/internal/notify"
	"github.com/odyssey-erp/odyssey-scm/internal/shared"
)

type sentMessage struct {
	to  notify.Recipient
	msg notify.Message
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (s *fakeSender) Send(_ context.Context, to notify.Recipient, msg notify.Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{to: to, msg: msg})
	return nil
}

func newTestDeduper(t *testing.T) (*RedisDeduper, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDeduper(client, ""), mr
}

func deliverTask(t *testing.T, evt notify.Event) *asynq.Task {
	t.Helper()
	task, err := notify.NewDeliverTask(evt)
	require.NoError(t, err)
	return task
}

func approvalEvent() notify.Event {
	ref := shared.DocumentRef{Kind: shared.DocPurchaseRequest, ID: 7}
	at := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	return notify.NewEvent(notify.ApprovalRequired, ref, "PR-202501-0001", notify.ToRole("dept_head"), at)
}

func TestNotificationDeliveredOnce(t *testing.T) {
	deduper, mr := newTestDeduper(t)
	sender := &fakeSender{}
	h := &NotificationHandler{Deduper: deduper, Sender: sender}
	task := deliverTask(t, approvalEvent())

	require.NoError(t, h.ProcessTask(context.Background(), task))
	require.NoError(t, h.ProcessTask(context.Background(), task))

	require.Len(t, sender.sent, 1)
	require.Equal(t, "dept_head", sender.sent[0].to.Role)
	require.NotEmpty(t, sender.sent[0].msg.Subject)
	require.Len(t, mr.Keys(), 1)
}

func TestNotificationClaimExpires(t *testing.T) {
	deduper, mr := newTestDeduper(t)
	sender := &fakeSender{}
	h := &NotificationHandler{Deduper: deduper, Sender: sender, TTL: time.Hour}
	task := deliverTask(t, approvalEvent())

	require.NoError(t, h.ProcessTask(context.Background(), task))
	mr.FastForward(2 * time.Hour)
	require.NoError(t, h.ProcessTask(context.Background(), task))

	require.Len(t, sender.sent, 2)
}

func TestNotificationSendFailureReleasesClaim(t *testing.T) {
	deduper, mr := newTestDeduper(t)
	boom := errors.New("smtp down")
	sender := &fakeSender{err: boom}
	h := &NotificationHandler{Deduper: deduper, Sender: sender}
	task := deliverTask(t, approvalEvent())

	err := h.ProcessTask(context.Background(), task)
	require.ErrorIs(t, err, boom)
	require.Empty(t, mr.Keys())

	sender.err = nil
	require.NoError(t, h.ProcessTask(context.Background(), task))
	require.Len(t, sender.sent, 1)
}

func TestNotificationInvalidPayloadSkipsRetry(t *testing.T) {
	h := &NotificationHandler{Sender: &fakeSender{}}

	err := h.ProcessTask(context.Background(), asynq.NewTask(notify.TaskDeliver, []byte(`{"type":""}`)))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
