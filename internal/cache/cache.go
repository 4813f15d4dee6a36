// Package cache implements the fingerprint-keyed response cache backed
// by redis. Cache failures never fail a query: a broken cache degrades
// to a miss on reads and a no-op on writes.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"github.com/blueberrycongee/ragmux/internal/types"
)

// keyPrefix namespaces all response cache keys so a whole tenant can be
// invalidated with one SCAN pass.
const keyPrefix = "cache:"

// ResponseCache memoizes terminal answers by request fingerprint.
type ResponseCache struct {
	client goredis.UniversalClient
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// New creates a response cache on an existing redis client. A nil client
// produces a disabled cache where every lookup is a miss.
func New(client goredis.UniversalClient, logger *slog.Logger) *ResponseCache {
	return &ResponseCache{client: client, logger: logger}
}

// Enabled reports whether a redis backend is attached.
func (c *ResponseCache) Enabled() bool {
	return c.client != nil
}

// Fingerprint derives the cache key for a query. The question is
// normalized by lowercasing and stripping surrounding whitespace only;
// internal spacing is significant because the question reaches the
// prompt verbatim. Session history is deliberately excluded.
func Fingerprint(ragID, question string, topK int) string {
	normalized := strings.ToLower(strings.TrimSpace(question))
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", ragID, normalized, topK)))
	return keyPrefix + ragID + ":" + hex.EncodeToString(sum[:])[:32]
}

// Get returns the cached response for a fingerprint, or nil on a miss.
// Redis errors and undecodable entries are logged and reported as misses.
func (c *ResponseCache) Get(ctx context.Context, key string) *types.CachedResponse {
	if c.client == nil {
		return nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.errors.Add(1)
			c.logger.Warn("cache read failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil
	}

	var resp types.CachedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.errors.Add(1)
		c.logger.Warn("cache entry undecodable, dropping", "key", key, "error", err)
		_ = c.client.Del(ctx, key).Err()
		c.misses.Add(1)
		return nil
	}

	c.hits.Add(1)
	return &resp
}

// Set stores a response under a fingerprint with the tenant's TTL.
// Write failures are logged and swallowed.
func (c *ResponseCache) Set(ctx context.Context, key string, resp *types.CachedResponse, ttl time.Duration) {
	if c.client == nil {
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		c.errors.Add(1)
		c.logger.Warn("cache encode failed", "key", key, "error", err)
		return
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.errors.Add(1)
		c.logger.Warn("cache write failed", "key", key, "error", err)
	}
}

// InvalidateRAG removes every cached entry for one tenant. Used after
// re-ingestion, when previously cached answers may cite stale content.
func (c *ResponseCache) InvalidateRAG(ctx context.Context, ragID string) (int, error) {
	if c.client == nil {
		return 0, nil
	}

	pattern := keyPrefix + ragID + ":*"
	deleted := 0

	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, fmt.Errorf("delete cache key %s: %w", iter.Val(), err)
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("scan cache keys: %w", err)
	}
	return deleted, nil
}

// Stats returns hit/miss/error counts since startup.
func (c *ResponseCache) Stats() (hits, misses, errs int64) {
	return c.hits.Load(), c.misses.Load(), c.errors.Load()
}
