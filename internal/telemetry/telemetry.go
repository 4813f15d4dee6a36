// Package telemetry tracks service-level counters and latency statistics.
// It keeps an in-process snapshot for the JSON /metrics endpoint and mirrors
// the same events into Prometheus for scraping.
package telemetry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blueberrycongee/ragmux/internal/types"
)

// ringSize is the number of latency samples retained. Older samples are
// overwritten in arrival order once the ring is full.
const ringSize = 1000

// Collector accumulates counters and latency samples for the lifetime of
// the process. All methods are safe for concurrent use.
type Collector struct {
	requests    atomic.Int64
	errors      atomic.Int64
	cacheHits   atomic.Int64
	rateLimited atomic.Int64

	mu      sync.Mutex
	samples []float64
	next    int
	count   int
}

// New returns an empty Collector.
func New() *Collector {
	return &Collector{
		samples: make([]float64, ringSize),
	}
}

// RecordRequest counts one received query, successful or not.
func (c *Collector) RecordRequest(ragID string) {
	c.requests.Add(1)
	promRequests.WithLabelValues(ragID).Inc()
}

// RecordError counts one request that terminated with a non-success answer.
// Rate-limited rejections are tracked separately and must not be passed here.
func (c *Collector) RecordError(ragID, errType string) {
	c.errors.Add(1)
	promErrors.WithLabelValues(ragID, errType).Inc()
}

// RecordCacheHit counts one response served from the response cache.
func (c *Collector) RecordCacheHit(ragID string) {
	c.cacheHits.Add(1)
	promCacheHits.WithLabelValues(ragID).Inc()
}

// RecordRateLimited counts one admission rejection.
func (c *Collector) RecordRateLimited(ragID string) {
	c.rateLimited.Add(1)
	promRateLimited.WithLabelValues(ragID).Inc()
}

// ObserveLatency records one end-to-end request duration. Called exactly
// once per query, including cache hits and error responses.
func (c *Collector) ObserveLatency(ragID string, d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)

	c.mu.Lock()
	c.samples[c.next] = ms
	c.next = (c.next + 1) % ringSize
	if c.count < ringSize {
		c.count++
	}
	c.mu.Unlock()

	promLatency.WithLabelValues(ragID).Observe(d.Seconds())
}

// Snapshot returns the current counter values and latency statistics.
// avg and p95 are computed over the retained samples only; both are zero
// when no sample has been recorded yet.
func (c *Collector) Snapshot() types.MetricsSnapshot {
	c.mu.Lock()
	n := c.count
	sorted := make([]float64, n)
	if c.count < ringSize {
		copy(sorted, c.samples[:n])
	} else {
		copy(sorted, c.samples)
	}
	c.mu.Unlock()

	snap := types.MetricsSnapshot{
		RequestsTotal:    c.requests.Load(),
		ErrorsTotal:      c.errors.Load(),
		CacheHitsTotal:   c.cacheHits.Load(),
		RateLimitedTotal: c.rateLimited.Load(),
		LatencySamples:   n,
	}
	if n == 0 {
		return snap
	}

	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	snap.AvgLatencyMS = sum / float64(n)
	snap.P95LatencyMS = sorted[int(float64(n)*0.95)]
	return snap
}
