// Package ratelimit implements per-tenant token-bucket admission control.
// The authoritative state lives in redis so every replica sees the same
// bucket; when redis is unavailable the limiter degrades to admitting
// traffic rather than refusing it.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/blueberrycongee/ragmux/internal/config"
)

// Admitter decides whether a request may enter the pipeline.
type Admitter interface {
	// Allow consumes one token from the bucket identified by ragID and
	// client. It returns true when the request is admitted. Backend
	// failures are absorbed: the request is admitted and the degradation
	// counter is incremented.
	Allow(ctx context.Context, ragID, client string, policy config.RAGRateLimit) bool
}

// bucketScript refills and consumes atomically. State is a hash holding
// the current token count and the last refill timestamp in float seconds.
// The TTL keeps idle buckets from accumulating forever.
var bucketScript = goredis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_update')
local tokens = tonumber(state[1])
local last = tonumber(state[2])

if tokens == nil or last == nil then
    tokens = burst
    last = now
end

local elapsed = now - last
if elapsed > 0 then
    tokens = math.min(burst, tokens + elapsed * rate)
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'last_update', tostring(now))
redis.call('EXPIRE', key, ttl)
return allowed
`)

// bucketTTL bounds how long an idle bucket survives. Any bucket idle this
// long has fully refilled anyway, so expiry loses no information.
const bucketTTL = 60 * time.Second

// RedisAdmitter is the distributed token-bucket limiter.
type RedisAdmitter struct {
	client goredis.UniversalClient
	logger *slog.Logger
	now    func() time.Time

	degraded atomic.Int64
}

// NewRedisAdmitter creates an admitter on an existing redis client.
func NewRedisAdmitter(client goredis.UniversalClient, logger *slog.Logger) *RedisAdmitter {
	return &RedisAdmitter{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// bucketKey derives the redis key for one bucket. Per-client policies get
// one bucket per caller, shared policies one bucket per tenant.
func bucketKey(ragID, client string, perClient bool) string {
	if perClient && client != "" {
		return fmt.Sprintf("ratelimit:%s:%s", ragID, client)
	}
	return "ratelimit:" + ragID
}

// Allow implements Admitter.
func (a *RedisAdmitter) Allow(ctx context.Context, ragID, client string, policy config.RAGRateLimit) bool {
	if !policy.Enabled {
		return true
	}

	key := bucketKey(ragID, client, policy.PerClient)
	now := float64(a.now().UnixNano()) / float64(time.Second)

	res, err := bucketScript.Run(ctx, a.client, []string{key},
		policy.RequestsPerSecond,
		policy.Burst,
		now,
		int(bucketTTL.Seconds()),
	).Int64()
	if err != nil {
		a.degraded.Add(1)
		a.logger.Warn("rate limiter degraded, admitting request",
			"rag", ragID, "error", err)
		return true
	}
	return res == 1
}

// Degraded returns how many decisions fell through to admit-on-error.
func (a *RedisAdmitter) Degraded() int64 {
	return a.degraded.Load()
}
