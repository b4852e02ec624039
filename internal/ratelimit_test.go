package internal

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Now()

	for i := 0; i < rateLimitMax; i++ {
		d := rl.CheckAndIncrement("client-a", now)
		assert.True(t, d.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, rateLimitMax-(i+1), d.Remaining)
	}

	d := rl.CheckAndIncrement("client-a", now)
	assert.False(t, d.Allowed, "11th request within the window must be rejected")
	assert.Equal(t, 0, d.Remaining)
	assert.True(t, d.RetryAfter <= rateLimitWindow)
}

func TestRateLimiterResetsLazilyAfterWindow(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Now()
	for i := 0; i < rateLimitMax; i++ {
		rl.CheckAndIncrement("client-b", now)
	}
	blocked := rl.CheckAndIncrement("client-b", now)
	assert.False(t, blocked.Allowed)

	later := now.Add(rateLimitWindow + time.Second)
	allowed := rl.CheckAndIncrement("client-b", later)
	assert.True(t, allowed.Allowed, "a fresh window after reset_at must allow again")
	assert.Equal(t, rateLimitMax-1, allowed.Remaining)
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Now()
	for i := 0; i < rateLimitMax; i++ {
		assert.True(t, rl.CheckAndIncrement("client-c", now).Allowed)
	}
	assert.True(t, rl.CheckAndIncrement("client-d", now).Allowed, "a different client identity has its own counter")
}

// TestRateLimiterConcurrentBurstNeverExceedsLimit drives §8's quantified
// invariant directly: for any concurrency, at most rateLimitMax calls in a
// 60s window return allowed=true.
func TestRateLimiterConcurrentBurstNeverExceedsLimit(t *testing.T) {
	rl := NewRateLimiter()
	now := time.Now()

	const attempts = 200
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d := rl.CheckAndIncrement("hammered-client", now)
			if d.Allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, rateLimitMax, allowedCount, "concurrent bursts must never allow more than the fixed-window cap")
}
