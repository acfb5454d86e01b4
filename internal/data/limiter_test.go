package data

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_FirstCallImmediate(t *testing.T) {
	limiter := NewRateLimiter(time.Second)

	start := time.Now()
	require.NoError(t, limiter.Wait(context.Background(), "a"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRateLimiter_EnforcesSpacing(t *testing.T) {
	interval := 50 * time.Millisecond
	limiter := NewRateLimiter(interval)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx, "a"))
	require.NoError(t, limiter.Wait(ctx, "a"))
	require.NoError(t, limiter.Wait(ctx, "a"))

	// 三次放行至少要隔两个间隔
	assert.GreaterOrEqual(t, time.Since(start), 2*interval)
}

func TestRateLimiter_KeysIndependent(t *testing.T) {
	limiter := NewRateLimiter(200 * time.Millisecond)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx, "a"))

	// 另一个标识不受 a 的冷却影响
	start := time.Now()
	require.NoError(t, limiter.Wait(ctx, "b"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRateLimiter_ConcurrentSameKey(t *testing.T) {
	interval := 30 * time.Millisecond
	limiter := NewRateLimiter(interval)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, limiter.Wait(context.Background(), "a"))
		}()
	}
	wg.Wait()

	assert.GreaterOrEqual(t, time.Since(start), 3*interval)
}

func TestRateLimiter_ContextCancelled(t *testing.T) {
	limiter := NewRateLimiter(time.Hour)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx, "a"))

	cancelled, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.Wait(cancelled, "a"))
}
