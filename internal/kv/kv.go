// Package kv builds the shared redis client used by the cache, session,
// and admission components. One client, one pool, three key namespaces.
package kv

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/blueberrycongee/ragmux/internal/config"
)

// Connect creates a redis client from config and verifies the connection.
// Cluster and sentinel deployments are selected by the presence of Addrs
// and MasterName; everything else is a single node.
func Connect(ctx context.Context, cfg config.RedisConfig) (goredis.UniversalClient, error) {
	var client goredis.UniversalClient

	switch {
	case cfg.MasterName != "":
		client = goredis.NewFailoverClient(&goredis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.Addrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
		})
	case len(cfg.Addrs) > 0:
		client = goredis.NewClusterClient(&goredis.ClusterOptions{
			Addrs:    cfg.Addrs,
			Password: cfg.Password,
			PoolSize: cfg.PoolSize,
		})
	default:
		client = goredis.NewClient(&goredis.Options{
			Addr:     normalizeAddr(cfg.Addr),
			Password: cfg.Password,
			DB:       cfg.DB,
			PoolSize: cfg.PoolSize,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// normalizeAddr accepts both bare host:port and redis:// URLs, since the
// REDIS_URL environment variable commonly carries either form.
func normalizeAddr(addr string) string {
	addr = strings.TrimPrefix(addr, "redis://")
	return strings.TrimSuffix(addr, "/")
}
