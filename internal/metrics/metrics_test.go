package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func newTestMetrics() *Metrics {
	return New("test", prometheus.NewRegistry())
}

func TestRecordSuccessAndFailureAreExclusive(t *testing.T) {
	m := newTestMetrics()
	m.RecordSuccess("toolA", 10*time.Millisecond)
	m.RecordFailure("toolA", 20*time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.SuccessfulRequests)
	assert.Equal(t, int64(1), snap.FailedRequests)
	assert.Equal(t, snap.TotalRequests, snap.SuccessfulRequests+snap.FailedRequests)
}

func TestRunningAverageFormula(t *testing.T) {
	m := newTestMetrics()
	m.RecordSuccess("toolA", 100*time.Millisecond)
	m.RecordSuccess("toolA", 200*time.Millisecond)

	snap := m.Snapshot()
	assert.InDelta(t, 150.0, snap.AverageResponseTime, 0.001)
}

func TestCacheHitRateClamped(t *testing.T) {
	m := newTestMetrics()
	for i := 0; i < 1000; i++ {
		m.CacheHit()
	}
	assert.LessOrEqual(t, m.Snapshot().CacheHitRate, 1.0)

	for i := 0; i < 2000; i++ {
		m.CacheMiss()
	}
	assert.GreaterOrEqual(t, m.Snapshot().CacheHitRate, 0.0)
}

func TestByToolTracksPerToolCounts(t *testing.T) {
	m := newTestMetrics()
	m.RecordSuccess("toolA", time.Millisecond)
	m.RecordSuccess("toolA", time.Millisecond)
	m.RecordSuccess("toolB", time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.ByTool["toolA"])
	assert.Equal(t, int64(1), snap.ByTool["toolB"])
}
