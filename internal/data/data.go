package data

import (
	"context"
	"fmt"
	"time"

	"telegram-dialogs/internal/conf"
	"telegram-dialogs/internal/telegram"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module 导出给 FX 的 Provider
var Module = fx.Module("data",
	fx.Provide(
		NewData,
		NewCache,
		NewSessionStore,
		NewResultCache,
		NewLimiter,
		NewPool,
		NewCheckRepo,
	),
)

// 未配置时的最小调用间隔
const defaultMinInterval = 500 * time.Millisecond

// Data 包含所有数据源的客户端，健康检查经由它访问各数据源
type Data struct {
	store *SessionStore
	rdb   *redis.Client
}

// NewData 是 Data 的构造函数
func NewData(store *SessionStore, rdb *redis.Client) *Data {
	return &Data{
		store: store,
		rdb:   rdb,
	}
}

// NewCache 创建 Redis 客户端。缓存后端不是 redis 时返回 nil，
// 消费方需自行判空。
func NewCache(lc fx.Lifecycle, cfg *conf.Bootstrap, logger *zap.Logger) (*redis.Client, error) {
	if cfg.Cache == nil || cfg.Cache.Backend != "redis" {
		return nil, nil
	}
	redisCfg := cfg.Data.Redis // 从 Config 中获取 Redis 配置

	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", redisCfg.Host, redisCfg.Port),
		Username:     redisCfg.Username,
		Password:     redisCfg.Password,
		DB:           int(redisCfg.Db),
		DialTimeout:  time.Duration(redisCfg.DialTimeout) * time.Second,
		ReadTimeout:  time.Duration(redisCfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(redisCfg.WriteTimeout) * time.Second,
		PoolSize:     int(redisCfg.PoolSize),
		MinIdleConns: int(redisCfg.MinIdleConns),
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		// 关闭连接以避免资源泄漏
		if closeErr := rdb.Close(); closeErr != nil {
			return nil, closeErr
		}
		return nil, fmt.Errorf("redis ping failed: %v", err)
	}

	logger.Info(fmt.Sprintf("Redis connected successfully to %s", redisCfg.Host))

	// 注册关闭钩子
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("Closing Redis connection...")
			return rdb.Close()
		},
	})

	return rdb, nil
}

// NewResultCache 按配置选择缓存实现
func NewResultCache(cfg *conf.Bootstrap, rdb *redis.Client, logger *zap.Logger) (ResultCache, error) {
	if cfg.Cache != nil && cfg.Cache.Backend == "redis" {
		if rdb == nil {
			return nil, fmt.Errorf("cache backend is redis but no redis client configured")
		}
		logger.Info("using redis result cache")
		return NewRedisCache(rdb, logger), nil
	}
	logger.Info("using in-memory result cache")
	return NewMemoryCache(), nil
}

// NewLimiter 创建按标识限速器
func NewLimiter(cfg *conf.Bootstrap) Limiter {
	interval := defaultMinInterval
	if cfg.Telegram != nil && cfg.Telegram.MinIntervalMs > 0 {
		interval = time.Duration(cfg.Telegram.MinIntervalMs) * time.Millisecond
	}
	return NewRateLimiter(interval)
}

// NewPool 创建客户端池并挂接关闭钩子
func NewPool(lc fx.Lifecycle, factory telegram.Factory, store *SessionStore, logger *zap.Logger) Pool {
	pool := NewClientPool(factory, store, logger)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			logger.Info("Closing telegram client pool...")
			pool.Close()
			return nil
		},
	})
	return pool
}
