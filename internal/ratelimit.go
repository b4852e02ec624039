package internal

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	rateLimitWindow   = 60 * time.Second
	rateLimitMax      = 10
	rateLimitNumShard = 64
)

// RateLimitDecision is the result of a CheckAndIncrement call.
type RateLimitDecision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// clientWindow is a fixed-window counter for one client identity. It is
// only ever touched while its shard's mutex is held, so load-compare-store
// is observably atomic — the race a plain read-then-write against a
// generic key/value store would allow cannot occur here.
type clientWindow struct {
	count   int
	resetAt time.Time
}

type limiterShard struct {
	mu       sync.Mutex
	counters map[string]*clientWindow
}

// RateLimiter enforces a fixed-window request cap per client identity.
// Clients are sharded by xxhash of their id so that distinct clients almost
// never contend on the same mutex, while every decision for a single
// client is still strictly serialized.
type RateLimiter struct {
	shards []*limiterShard
}

func NewRateLimiter() *RateLimiter {
	shards := make([]*limiterShard, rateLimitNumShard)
	for i := range shards {
		shards[i] = &limiterShard{counters: map[string]*clientWindow{}}
	}
	return &RateLimiter{shards: shards}
}

func (rl *RateLimiter) shardFor(clientID string) *limiterShard {
	h := xxhash.Sum64String(clientID)
	return rl.shards[h%uint64(len(rl.shards))]
}

// CheckAndIncrement is the sole public operation. now is passed in so
// tests can drive window rollovers deterministically.
func (rl *RateLimiter) CheckAndIncrement(clientID string, now time.Time) RateLimitDecision {
	shard := rl.shardFor(clientID)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	w, ok := shard.counters[clientID]
	if !ok || !now.Before(w.resetAt) {
		w = &clientWindow{count: 0, resetAt: now.Add(rateLimitWindow)}
		shard.counters[clientID] = w
	}

	if w.count >= rateLimitMax {
		return RateLimitDecision{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    w.resetAt,
			RetryAfter: w.resetAt.Sub(now),
		}
	}

	w.count++
	return RateLimitDecision{
		Allowed:   true,
		Remaining: rateLimitMax - w.count,
		ResetAt:   w.resetAt,
	}
}

// Check mirrors CheckAndIncrement using the wall clock; the HTTP middleware
// entry point.
func (rl *RateLimiter) Check(ctx context.Context, clientID string) RateLimitDecision {
	return rl.CheckAndIncrement(clientID, time.Now())
}
