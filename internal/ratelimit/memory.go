package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/blueberrycongee/ragmux/internal/config"
)

// MemoryAdmitter is the single-process fallback used when redis is not
// configured. Buckets live in process memory, so limits apply per replica
// rather than globally.
type MemoryAdmitter struct {
	mu      sync.Mutex
	buckets map[string]*memoryBucket
}

type memoryBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// maxIdleBuckets triggers a sweep of buckets idle longer than bucketTTL.
const maxIdleBuckets = 10000

// NewMemoryAdmitter creates an in-memory admitter.
func NewMemoryAdmitter() *MemoryAdmitter {
	return &MemoryAdmitter{buckets: make(map[string]*memoryBucket)}
}

// Allow implements Admitter.
func (a *MemoryAdmitter) Allow(_ context.Context, ragID, client string, policy config.RAGRateLimit) bool {
	if !policy.Enabled {
		return true
	}

	key := bucketKey(ragID, client, policy.PerClient)

	a.mu.Lock()
	b, ok := a.buckets[key]
	if !ok {
		b = &memoryBucket{
			limiter: rate.NewLimiter(rate.Limit(policy.RequestsPerSecond), policy.Burst),
		}
		a.buckets[key] = b
		if len(a.buckets) > maxIdleBuckets {
			a.sweepLocked()
		}
	}
	b.lastSeen = time.Now()
	a.mu.Unlock()

	return b.limiter.Allow()
}

func (a *MemoryAdmitter) sweepLocked() {
	cutoff := time.Now().Add(-bucketTTL)
	for key, b := range a.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(a.buckets, key)
		}
	}
}
