// Package cacheadapter adapts pkg/cache's Redis wrapper to the Processing
// Cache's AddressSet port.
package cacheadapter

import (
	"context"

	"github.com/bridgeway/qualify/core/domain"
	"github.com/bridgeway/qualify/pkg/cache"
)

// RedisAddressSet backs core/cache.AddressSet with a Redis set per scope key.
type RedisAddressSet struct {
	redis *cache.RedisCache
}

// NewRedisAddressSet builds a RedisAddressSet.
func NewRedisAddressSet(redis *cache.RedisCache) *RedisAddressSet {
	return &RedisAddressSet{redis: redis}
}

// Add inserts addr into the set named by scopeKey.
func (r *RedisAddressSet) Add(ctx context.Context, scopeKey string, addr domain.Address) error {
	return r.redis.SAdd(ctx, scopeKey, string(addr))
}

// Contains reports whether addr is a member of scopeKey.
func (r *RedisAddressSet) Contains(ctx context.Context, scopeKey string, addr domain.Address) (bool, error) {
	return r.redis.SIsMember(ctx, scopeKey, string(addr))
}

// Size returns the cardinality of scopeKey.
func (r *RedisAddressSet) Size(ctx context.Context, scopeKey string) (int64, error) {
	return r.redis.SCard(ctx, scopeKey)
}
