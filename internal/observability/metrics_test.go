package observability_test

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/notification-pipeline/internal/observability"
)

func TestMetricsCountsByTypeAndProvider(t *testing.T) {
	m, err := observability.NewMetrics()
	require.NoError(t, err)

	m.RecordSend("order_confirmation", "dev", true, 10*time.Millisecond, "")
	m.RecordSend("order_confirmation", "dev", false, 20*time.Millisecond, "500 Internal")
	m.RecordSend("welcome", "smtp", true, 30*time.Millisecond, "")
	m.RecordSend("welcome", "smtp", false, 40*time.Millisecond, "500 Bad gateway")

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.TotalSent)
	assert.Equal(t, int64(2), snap.TotalFailed)
	assert.Equal(t, observability.Counts{Sent: 1, Failed: 1}, snap.ByType["order_confirmation"])
	assert.Equal(t, observability.Counts{Sent: 1, Failed: 1}, snap.ByProvider["smtp"])
	assert.Equal(t, int64(2), snap.FailureReasons["500"])
	assert.Equal(t, 50.0, m.SuccessRate())
	assert.Equal(t, 25*time.Millisecond, m.AverageLatency())
	assert.Equal(t, 40*time.Millisecond, m.P95Latency())
}

func TestMetricsLatencyWindowIsBounded(t *testing.T) {
	m, err := observability.NewMetrics(observability.WithLatencyWindow(3))
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		m.RecordSend("welcome", "dev", true, time.Duration(i)*time.Millisecond, "")
	}

	snap := m.Snapshot()
	assert.Equal(t, 3, snap.LatencySamples)
	assert.Equal(t, 4*time.Millisecond, m.AverageLatency())
	assert.Equal(t, int64(5), snap.TotalSent)
}

func TestMetricsEmptyAndReset(t *testing.T) {
	m, err := observability.NewMetrics()
	require.NoError(t, err)

	assert.Zero(t, m.SuccessRate())
	assert.Zero(t, m.P95Latency())

	m.RecordSend("welcome", "", false, time.Millisecond, "")
	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.FailureReasons["unknown"])
	assert.Contains(t, snap.ByProvider, "unknown")

	m.Reset()
	snap = m.Snapshot()
	assert.Zero(t, snap.TotalFailed)
	assert.Empty(t, snap.FailureReasons)
	assert.Zero(t, snap.LatencySamples)
}

func TestMetricsConcurrentRecording(t *testing.T) {
	m, err := observability.NewMetrics()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.RecordSend("welcome", "dev", i%2 == 0, time.Millisecond, "timeout")
		}(i)
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, int64(25), snap.TotalSent)
	assert.Equal(t, int64(25), snap.TotalFailed)
}

func TestMetricsMirrorsIntoPrometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := observability.NewMetrics(observability.WithRegisterer(reg))
	require.NoError(t, err)

	// A second instance on the same registry reuses the collectors.
	again, err := observability.NewMetrics(observability.WithRegisterer(reg))
	require.NoError(t, err)

	m.RecordSend("welcome", "dev", true, time.Millisecond, "")
	again.RecordSend("welcome", "dev", false, time.Millisecond, "timeout reached")

	count, err := testutil.GatherAndCount(reg, "notification_emails_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(reg, "notification_email_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "dial", observability.FailureReason("dial tcp: connection refused"))
	assert.Equal(t, "unknown", observability.FailureReason("   "))
}
