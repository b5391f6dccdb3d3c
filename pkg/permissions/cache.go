package permissions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/dataroom/pkg/observability"
)

const cacheKeyPrefix = "perm"

// CacheConfig configures the resolution cache
type CacheConfig struct {
	// Size is the number of resolutions kept in process
	Size int
	// TTL bounds the age of cached resolutions in both tiers
	TTL time.Duration
}

// DefaultCacheConfig returns the cache defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Size: 10000,
		TTL:  5 * time.Minute,
	}
}

// Cache holds resolved permissions in a process-local LRU in front of an
// optional shared Redis tier. Redis failures are logged and treated as
// misses; the store stays the source of truth.
type Cache struct {
	local   *lru.LRU[string, Resolution]
	redis   *redis.Client
	ttl     time.Duration
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewCache creates a cache. redisClient may be nil for a local-only cache.
func NewCache(redisClient *redis.Client, config CacheConfig, metrics *observability.Metrics, logger *observability.Logger) *Cache {
	if config.Size <= 0 {
		config.Size = DefaultCacheConfig().Size
	}
	if config.TTL <= 0 {
		config.TTL = DefaultCacheConfig().TTL
	}
	if logger == nil {
		logger = observability.Discard()
	}

	return &Cache{
		local:   lru.NewLRU[string, Resolution](config.Size, nil, config.TTL),
		redis:   redisClient,
		ttl:     config.TTL,
		metrics: metrics,
		logger:  logger,
	}
}

// cacheKey renders perm:{kind}:{resource}:{user}
func cacheKey(kind ResourceKind, resourceID, userID string) string {
	return fmt.Sprintf("%s:%s:%s:%s", cacheKeyPrefix, kind, resourceID, userID)
}

// Get looks up a resolution, consulting Redis on a local miss and promoting
// Redis hits into the local tier
func (c *Cache) Get(ctx context.Context, kind ResourceKind, resourceID, userID string) (Resolution, bool) {
	key := cacheKey(kind, resourceID, userID)

	if res, ok := c.local.Get(key); ok {
		c.metrics.CacheHit("local")
		return res, true
	}

	if c.redis != nil {
		data, err := c.redis.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
		case err != nil:
			c.logger.WithError(err).WithField("key", key).Warn("Permission cache read failed")
		default:
			var res Resolution
			if err := json.Unmarshal(data, &res); err != nil {
				c.redis.Del(ctx, key)
				c.logger.WithError(err).WithField("key", key).Warn("Dropped corrupt permission cache entry")
				break
			}
			c.local.Add(key, res)
			c.metrics.CacheHit("redis")
			return res, true
		}
	}

	c.metrics.CacheMiss()
	return Resolution{}, false
}

// Set stores a resolution in both tiers
func (c *Cache) Set(ctx context.Context, kind ResourceKind, resourceID, userID string, res Resolution) {
	key := cacheKey(kind, resourceID, userID)
	c.local.Add(key, res)

	if c.redis == nil {
		return
	}

	data, err := json.Marshal(res)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to marshal permission resolution")
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Permission cache write failed")
	}
}

// Delete drops one cached resolution from both tiers
func (c *Cache) Delete(ctx context.Context, kind ResourceKind, resourceID, userID string) {
	key := cacheKey(kind, resourceID, userID)
	c.local.Remove(key)

	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Permission cache delete failed")
	}
}

// InvalidateResource drops every cached resolution of one resource
func (c *Cache) InvalidateResource(ctx context.Context, kind ResourceKind, resourceID string) error {
	prefix := fmt.Sprintf("%s:%s:%s:", cacheKeyPrefix, kind, resourceID)
	c.removeLocal(func(key string) bool { return strings.HasPrefix(key, prefix) })
	return c.deleteRedis(ctx, escapeGlob(prefix)+"*")
}

// InvalidateUser drops every cached resolution of one user
func (c *Cache) InvalidateUser(ctx context.Context, userID string) error {
	suffix := ":" + userID
	c.removeLocal(func(key string) bool { return strings.HasSuffix(key, suffix) })
	return c.deleteRedis(ctx, cacheKeyPrefix+":*"+escapeGlob(suffix))
}

// InvalidateAll drops every cached resolution
func (c *Cache) InvalidateAll(ctx context.Context) error {
	c.local.Purge()
	return c.deleteRedis(ctx, cacheKeyPrefix+":*")
}

func (c *Cache) removeLocal(match func(string) bool) {
	for _, key := range c.local.Keys() {
		if match(key) {
			c.local.Remove(key)
		}
	}
}

func (c *Cache) deleteRedis(ctx context.Context, pattern string) error {
	if c.redis == nil {
		return nil
	}

	iter := c.redis.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan permission cache: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to invalidate permission cache: %w", err)
	}
	return nil
}

// escapeGlob quotes the characters Redis MATCH treats specially
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
