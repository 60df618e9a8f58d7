// Package metrics tracks per-tool counters and rolling latency averages
// for the server, backed by prometheus client collectors (spec §4.2).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is the JSON-serializable view returned by GET /metrics.
type Snapshot struct {
	Uptime              time.Duration    `json:"uptime"`
	TotalRequests       int64            `json:"totalRequests"`
	SuccessfulRequests  int64            `json:"successfulRequests"`
	FailedRequests      int64            `json:"failedRequests"`
	AverageResponseTime float64          `json:"averageResponseTimeMs"`
	CacheHitRate        float64          `json:"cacheHitRate"`
	LastRequestTime     time.Time        `json:"lastRequestTime"`
	Version             string           `json:"version"`
	ByTool              map[string]int64 `json:"byTool"`
}

// Metrics is owned exclusively by the Server instance; handlers only ever
// call its thread-safe update methods.
type Metrics struct {
	mu sync.Mutex

	startedAt       time.Time
	version         string
	total           int64
	success         int64
	failed          int64
	avgResponseMs   float64
	cacheHitRate    float64
	lastRequestTime time.Time
	byTool          map[string]int64

	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New constructs a Metrics instance registered against its own private
// prometheus registry (never the global one, so multiple server instances
// in the same test process don't collide).
func New(version string, reg *prometheus.Registry) *Metrics {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aoma_mcp_tool_calls_total",
		Help: "Total tool invocations by tool name and outcome.",
	}, []string{"tool", "outcome"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aoma_mcp_tool_call_duration_ms",
		Help:    "Tool call latency in milliseconds.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"tool"})

	if reg != nil {
		reg.MustRegister(counter, duration)
	}

	return &Metrics{
		startedAt:       time.Now(),
		version:         version,
		byTool:          make(map[string]int64),
		requestCounter:  counter,
		requestDuration: duration,
	}
}

// RecordSuccess updates the running average latency as
// avg := (avg*(n-1)+d)/n, per spec §4.2.
func (m *Metrics) RecordSuccess(tool string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.success++
	m.byTool[tool]++
	m.updateAverage(d)
	m.lastRequestTime = time.Now()
	m.requestCounter.WithLabelValues(tool, "success").Inc()
	m.requestDuration.WithLabelValues(tool).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) RecordFailure(tool string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total++
	m.failed++
	m.byTool[tool]++
	m.updateAverage(d)
	m.lastRequestTime = time.Now()
	m.requestCounter.WithLabelValues(tool, "failure").Inc()
	m.requestDuration.WithLabelValues(tool).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) updateAverage(d time.Duration) {
	n := float64(m.total)
	m.avgResponseMs = (m.avgResponseMs*(n-1) + float64(d.Milliseconds())) / n
}

// CacheHit bumps the exponential cache hit-rate estimator by +0.01,
// clamped to [0,1], per spec §4.2.
func (m *Metrics) CacheHit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHitRate = clamp(m.cacheHitRate+0.01, 0, 1)
}

// CacheMiss bumps the estimator down by -0.001, clamped to [0,1].
func (m *Metrics) CacheMiss() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cacheHitRate = clamp(m.cacheHitRate-0.001, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Snapshot returns a consistent, point-in-time copy of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	byTool := make(map[string]int64, len(m.byTool))
	for k, v := range m.byTool {
		byTool[k] = v
	}
	return Snapshot{
		Uptime:              time.Since(m.startedAt),
		TotalRequests:       m.total,
		SuccessfulRequests:  m.success,
		FailedRequests:      m.failed,
		AverageResponseTime: m.avgResponseMs,
		CacheHitRate:        m.cacheHitRate,
		LastRequestTime:     m.lastRequestTime,
		Version:             m.version,
		ByTool:              byTool,
	}
}
