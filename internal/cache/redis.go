package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	verrors "github.com/arkilian/versionstore/internal/errors"
	"github.com/arkilian/versionstore/internal/observability"
	"github.com/arkilian/versionstore/internal/replay"
	"github.com/arkilian/versionstore/pkg/types"
)

// scanBatch is the COUNT hint for SCAN during invalidation.
const scanBatch = 500

// RedisCache stores materializations in Redis with per-key expiry.
type RedisCache struct {
	client *goredis.Client
	logger *zap.Logger
}

// NewRedisCache connects to the Redis server at url and verifies it with
// PING.
func NewRedisCache(ctx context.Context, url string, logger *zap.Logger) (*RedisCache, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, verrors.NewCacheError(verrors.CodeCacheUnavailable, "redis ping failed", err)
	}

	return &RedisCache{client: client, logger: logger.Named("cache.redis")}, nil
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, datasetID string, number types.VersionNumber) (*replay.Materialization, bool, error) {
	data, err := c.client.Get(ctx, Key(datasetID, number)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			observability.CacheRequests.WithLabelValues("redis", observability.CacheMiss).Inc()
			return nil, false, nil
		}
		observability.CacheRequests.WithLabelValues("redis", observability.CacheError).Inc()
		return nil, false, verrors.NewCacheError(verrors.CodeCacheUnavailable, "redis get failed", err)
	}

	m, err := decode(data)
	if err != nil {
		observability.CacheRequests.WithLabelValues("redis", observability.CacheError).Inc()
		return nil, false, verrors.NewCacheError(verrors.CodeCacheCorrupt, "cached value is unreadable", err)
	}
	observability.CacheRequests.WithLabelValues("redis", observability.CacheHit).Inc()
	return m, true, nil
}

// Put implements Cache.
func (c *RedisCache) Put(ctx context.Context, datasetID string, number types.VersionNumber, m *replay.Materialization, ttl time.Duration) error {
	data, err := encode(m)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, Key(datasetID, number), data, ttlOrDefault(ttl)).Err(); err != nil {
		return verrors.NewCacheError(verrors.CodeCacheUnavailable, "redis set failed", err)
	}
	return nil
}

// InvalidateDataset implements Cache. Keys are found with SCAN so large
// keyspaces are not blocked.
func (c *RedisCache) InvalidateDataset(ctx context.Context, datasetID string) error {
	pattern := "version:" + string(escapeMatch([]byte(datasetID))) + ":*"

	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= scanBatch {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return verrors.NewCacheError(verrors.CodeCacheUnavailable, "redis del failed", err)
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return verrors.NewCacheError(verrors.CodeCacheUnavailable, "redis scan failed", err)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return verrors.NewCacheError(verrors.CodeCacheUnavailable, "redis del failed", err)
		}
	}
	return nil
}

// Close closes the Redis client.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// escapeMatch escapes glob metacharacters so match is taken literally in a
// SCAN MATCH pattern.
func escapeMatch(match []byte) []byte {
	start := 0
	escaped := []byte{}
	for i, b := range match {
		switch b {
		case '?', '*', '[', ']', '\\':
			escaped = append(escaped, match[start:i]...)
			escaped = append(escaped, '\\', b)
			start = i + 1
		}
	}
	if start == 0 {
		return match
	}

	return append(escaped, match[start:]...)
}
