package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecordRun_PeriodicCPUUsage(t *testing.T) {
	m := NewMetrics()
	m.RecordRun(50*time.Millisecond, 100*time.Millisecond, 128)

	assert.Equal(t, 50*time.Millisecond, m.ExecTime())
	assert.InDelta(t, 50.0, m.CPUUsagePercent(), 0.001)
	assert.Equal(t, uintptr(128), m.MemoryUsage())
	require.Equal(t, uint64(1), m.RunCount())
}

func TestMetricsRecordRun_OneShotCPUUsage(t *testing.T) {
	m := NewMetrics()
	m.RecordRun(2*time.Second, 0, 0)
	assert.InDelta(t, 200.0, m.CPUUsagePercent(), 0.001)
}

func TestMetricsHistoryBounded(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < historyLimit+10; i++ {
		m.RecordRun(time.Duration(i)*time.Millisecond, time.Second, 0)
	}
	require.Len(t, m.History(), historyLimit)
	// oldest entries should have been evicted; last entry is the most recent
	last := m.History()[historyLimit-1]
	assert.Equal(t, time.Duration(historyLimit+9)*time.Millisecond, last)
}

func TestMetricsMissedDeadlinesAndReset(t *testing.T) {
	m := NewMetrics()
	m.IncrMissedDeadlines()
	m.IncrMissedDeadlines()
	m.RecordRun(time.Millisecond, time.Second, 0)
	require.Equal(t, uint64(2), m.MissedDeadlines())
	require.Equal(t, uint64(1), m.RunCount())

	m.Reset()
	assert.Equal(t, uint64(0), m.MissedDeadlines())
	assert.Equal(t, uint64(0), m.RunCount())
	assert.Empty(t, m.History())
}
