package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("approval_reminder").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("approval_reminder").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("approval_reminder", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("approval_reminder", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("approval_reminder")))
}

func TestNotificationAndReminderCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.Notification("APPROVAL_REQUIRED", OutcomeDelivered)
	m.Notification("APPROVAL_REQUIRED", OutcomeDuplicate)
	m.Notification("APPROVAL_REQUIRED", OutcomeDuplicate)
	m.AddReminders(3)
	m.AddReminders(0)

	require.Equal(t, 2.0, testutil.ToFloat64(m.notifications.WithLabelValues("APPROVAL_REQUIRED", OutcomeDuplicate)))
	require.Equal(t, 3.0, testutil.ToFloat64(m.reminders))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.Notification("X", OutcomeFailed)
	m.AddReminders(1)
	require.NoError(t, m.Track("x").End(nil))
}
