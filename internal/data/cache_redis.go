package data

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "cache:"

// RedisCache 基于 Redis 的结果缓存实现，TTL 交给 Redis 管理。
// 任何 Redis 故障都按未命中处理并记日志。
type RedisCache struct {
	rdb *redis.Client
	l   *zap.Logger
}

var _ ResultCache = (*RedisCache)(nil)

func NewRedisCache(rdb *redis.Client, logger *zap.Logger) *RedisCache {
	return &RedisCache{rdb: rdb, l: logger}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.l.Warn("redis cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return val, true
}

func (c *RedisCache) Put(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.rdb.SetEx(ctx, redisKeyPrefix+key, value, ttl).Err(); err != nil {
		c.l.Warn("redis cache put failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *RedisCache) InvalidatePrefix(ctx context.Context, prefix string) {
	var cursor uint64
	pattern := redisKeyPrefix + prefix + "*"

	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.l.Warn("redis cache scan failed", zap.String("prefix", prefix), zap.Error(err))
			return
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				c.l.Warn("redis cache delete failed", zap.String("prefix", prefix), zap.Error(err))
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}
