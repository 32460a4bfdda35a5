package app

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "eager", cfg.StockBalanceMode)
	require.Equal(t, 24*time.Hour, cfg.NotifyDedupeTTL)
	require.Equal(t, 48*time.Hour, cfg.ReminderAfter)
	require.Equal(t, "0 8 * * *", cfg.ReminderCron)
	require.Equal(t, 5, cfg.WorkerConcurrency)
	require.False(t, cfg.StorageEnabled())
}

func TestLoadConfigRejectsUnknownBalanceMode(t *testing.T) {
	t.Setenv("STOCK_BALANCE_MODE", "sometimes")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "STOCK_BALANCE_MODE")
}

func TestLoadConfigRequiresBucketWithEndpoint(t *testing.T) {
	t.Setenv("S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("S3_BUCKET", "")
	_, err := LoadConfig()
	require.ErrorContains(t, err, "S3_BUCKET")
}

func TestLoggerHonoursLevelAndFormat(t *testing.T) {
	buf := new(bytes.Buffer)
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, buf)

	logger.Info("hidden")
	logger.Warn("shown", slog.String("k", "v"))

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"msg":"shown"`)
	require.Contains(t, out, `"k":"v"`)
}

func TestParseTestMode(t *testing.T) {
	require.True(t, parseTestMode("1"))
	require.True(t, parseTestMode(" TRUE "))
	require.False(t, parseTestMode(""))
	require.False(t, parseTestMode("0"))
}
