// Package health runs the parallel upstream probes, caches the latest
// snapshot for 30 seconds, and drives the background probe timer (spec
// §4.9).
package health

import (
	"context"
	"sync"
	"time"

	"github.com/aoma-mesh/mcp-server/internal/dbclient"
	"github.com/aoma-mesh/mcp-server/internal/domain"
	"github.com/aoma-mesh/mcp-server/internal/llmclient"
	"github.com/aoma-mesh/mcp-server/internal/logging"
	"github.com/aoma-mesh/mcp-server/internal/metrics"
)

const cacheTTL = 30 * time.Second
const probeTimeout = 5 * time.Second

// Status is the aggregate health document returned by /health and
// aoma://health.
type Status struct {
	Status    domain.HealthState              `json:"status"`
	Services  map[string]domain.ServiceHealth `json:"services"`
	Metrics   metrics.Snapshot                `json:"metrics"`
	Timestamp time.Time                       `json:"timestamp"`
}

// Checker owns the last probe snapshot and the clients it probes.
type Checker struct {
	LLM           *llmclient.Client
	DB            *dbclient.Client
	Metrics       *metrics.Metrics
	VectorStoreID string

	mu       sync.RWMutex
	last     *Status
	stop     chan struct{}
	stopOnce sync.Once
}

// Probe runs every configured check in parallel and caches the result.
func (c *Checker) Probe(ctx context.Context) *Status {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	services := make(map[string]domain.ServiceHealth)
	var mu sync.Mutex
	var wg sync.WaitGroup

	probe := func(name string, fn func(context.Context) bool) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			ok := fn(ctx)
			latency := time.Since(start).Seconds() * 1000
			mu.Lock()
			services[name] = domain.ServiceHealth{OK: ok, LatencyMs: latency}
			mu.Unlock()
		}()
	}

	probe("openai", c.LLM.ModelsProbe)
	probe("supabase", c.DB.Probe)
	if c.VectorStoreID != "" {
		probe("vectorStore", func(ctx context.Context) bool {
			_, err := c.LLM.VectorStoreSearch(ctx, c.VectorStoreID, "health check")
			return err == nil
		})
	}
	wg.Wait()

	status := aggregate(services)
	snapshot := &Status{
		Status:    status,
		Services:  services,
		Metrics:   c.Metrics.Snapshot(),
		Timestamp: time.Now(),
	}

	c.mu.Lock()
	c.last = snapshot
	c.mu.Unlock()
	return snapshot
}

func aggregate(services map[string]domain.ServiceHealth) domain.HealthState {
	if len(services) == 0 {
		return domain.HealthUnhealthy
	}
	healthy, total := 0, 0
	for _, s := range services {
		total++
		if s.OK {
			healthy++
		}
	}
	switch {
	case healthy == total:
		return domain.HealthHealthy
	case healthy > 0:
		return domain.HealthDegraded
	default:
		return domain.HealthUnhealthy
	}
}

// Latest returns the cached snapshot if younger than cacheTTL, else runs
// a fresh probe.
func (c *Checker) Latest(ctx context.Context) *Status {
	c.mu.RLock()
	last := c.last
	c.mu.RUnlock()
	if last != nil && time.Since(last.Timestamp) < cacheTTL {
		return last
	}
	return c.Probe(ctx)
}

// StartBackground runs Probe on a ticker at interval until Stop is
// called.
func (c *Checker) StartBackground(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	c.stop = make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
				c.Probe(ctx)
				cancel()
				logging.GetLogger().Debug().Msg("background health probe completed")
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop cancels the background probe timer. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		if c.stop != nil {
			close(c.stop)
		}
	})
}
