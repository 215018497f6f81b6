// (c) Siemens AG 2023
//
// SPDX-License-Identifier: MIT

package geo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/siemens/blackdig/types"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache stores the geographic metadata of successfully enriched addresses.
type Cache interface {
	Get(ctx context.Context, addr types.Address) (types.Geo, bool)
	Set(ctx context.Context, addr types.Address, geo types.Geo)
}

// cached serves lookups from a cache, falling back to a Locator for cache
// misses.
type cached struct {
	locator Locator
	cache   Cache
	log     *zap.SugaredLogger
}

// Cached returns a Locator serving lookups from the specified cache where
// possible. Only successful lookups get cached.
func Cached(locator Locator, cache Cache, log *zap.SugaredLogger) Locator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &cached{locator: locator, cache: cache, log: log}
}

func (c *cached) Lookup(ctx context.Context, addr types.Address) types.EnrichmentResult {
	if geo, ok := c.cache.Get(ctx, addr); ok {
		c.log.Debugw("cache hit", "address", addr)
		return types.Succeeded(addr, geo)
	}
	res := c.locator.Lookup(ctx, addr)
	if res.OK() {
		c.cache.Set(ctx, addr, *res.Geo)
	}
	return res
}

// RedisKeyPrefix prefixes the keys of cached lookups in Redis.
const RedisKeyPrefix = "blackdig:geo:"

// RedisCache is a cache in Redis, shared across runs and even hosts. Redis
// problems are logged and then treated as cache misses.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.SugaredLogger
}

var _ Cache = (*RedisCache)(nil)

// NewRedisCache returns a new Redis cache talking to the Redis server at the
// specified address, with cached entries expiring after the TTL.
func NewRedisCache(addr, password string, db int, ttl time.Duration, log *zap.SugaredLogger) *RedisCache {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		ttl: ttl,
		log: log,
	}
}

// Ping checks that the Redis server can be reached.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close the connection(s) to the Redis server.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Get(ctx context.Context, addr types.Address) (types.Geo, bool) {
	data, err := c.client.Get(ctx, RedisKeyPrefix+addr.String()).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warnw("cannot get cached lookup", "address", addr, "error", err)
		}
		return types.Geo{}, false
	}
	var geo types.Geo
	if err := json.Unmarshal(data, &geo); err != nil {
		c.log.Warnw("ignoring corrupt cached lookup", "address", addr, "error", err)
		return types.Geo{}, false
	}
	return geo, true
}

func (c *RedisCache) Set(ctx context.Context, addr types.Address, geo types.Geo) {
	data, err := json.Marshal(geo)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, RedisKeyPrefix+addr.String(), data, c.ttl).Err(); err != nil {
		c.log.Warnw("cannot cache lookup", "address", addr, "error", err)
	}
}
