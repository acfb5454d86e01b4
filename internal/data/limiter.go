package data

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter 控制对后端的调用节奏
type Limiter interface {
	// Wait 阻塞直到该标识距上次放行至少间隔 MinInterval
	Wait(ctx context.Context, key string) error
}

// RateLimiter 按标识维护独立的限速器：同一标识的并发调用
// 串行排队，不同标识互不阻塞。
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration
	limiters map[string]*rate.Limiter
}

var _ Limiter = (*RateLimiter)(nil)

func NewRateLimiter(interval time.Duration) *RateLimiter {
	return &RateLimiter{
		interval: interval,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (r *RateLimiter) Wait(ctx context.Context, key string) error {
	return r.limiterFor(key).Wait(ctx)
}

func (r *RateLimiter) limiterFor(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	lim, ok := r.limiters[key]
	if !ok {
		// burst 为 1：首次调用立即放行，之后每 interval 放行一次
		lim = rate.NewLimiter(rate.Every(r.interval), 1)
		r.limiters[key] = lim
	}
	return lim
}
