package internal

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dgraph-io/ristretto"
	gocache "github.com/eko/gocache/lib/v4/cache"
	gostore "github.com/eko/gocache/lib/v4/store"
	ristretto_store "github.com/eko/gocache/store/ristretto/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// CacheSource identifies which tier satisfied a Get, reported as meta.source.
type CacheSource string

const (
	SourceEdge    CacheSource = "edge"
	SourceDurable CacheSource = "durable"
	SourceMiss    CacheSource = "miss"
)

// CacheMeta is returned alongside a cache hit.
type CacheMeta struct {
	Source CacheSource
	Age    time.Duration
}

// durableStore is the contract a durable-tier backend must satisfy; it is
// intentionally narrow so the Redis implementation (internal/cache_redis.go)
// and an in-memory test double both satisfy it trivially.
type durableStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// UnifiedCache layers an in-process edge tier (bounded, short TTL) over a
// durable tier (long TTL, assumed eventually consistent across regions).
// It is the single cache surface the rest of this package uses.
type UnifiedCache struct {
	edge    *gocache.Cache[[]byte]
	admit   *ristretto.Cache
	durable durableStore
	metrics *cacheMetrics
}

// NewUnifiedCache builds the edge tier on top of ristretto (admission LRU,
// bounded by numCounters/maxCost) and wraps the given durable store. reg may
// be nil in tests.
func NewUnifiedCache(durable durableStore, reg *prometheus.Registry) (*UnifiedCache, error) {
	r, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e7,
		MaxCost:     1 << 28, // 256MiB of edge-tier payloads.
		BufferItems: 64,
	})
	if err != nil {
		return nil, Wrap(KindInternal, "INTERNAL", "building edge cache", err)
	}

	store := ristretto_store.NewRistretto(r)
	edge := gocache.New[[]byte](store)

	return &UnifiedCache{
		edge:    edge,
		admit:   r,
		durable: durable,
		metrics: newCacheMetrics(reg),
	}, nil
}

// edgeTTLCap caps the in-process tier at 1h regardless of the durable TTL.
const edgeTTLCap = time.Hour

// Get consults the edge tier first, then the durable tier on miss,
// promoting a durable hit back into the edge tier.
func (c *UnifiedCache) Get(ctx context.Context, key string) (CacheEntry, CacheMeta, bool) {
	if raw, err := c.edge.Get(ctx, key); err == nil {
		entry, ok := decodeEntry(raw)
		if ok {
			c.metrics.cacheHitInc()
			return entry, CacheMeta{Source: SourceEdge, Age: time.Since(entry.StoredAt)}, true
		}
		// Malformed edge payload: treat as a miss, not a crash.
	}

	raw, found, err := c.durable.Get(ctx, key)
	if err != nil || !found {
		c.metrics.cacheMissInc()
		return CacheEntry{}, CacheMeta{Source: SourceMiss}, false
	}
	entry, ok := decodeEntry(raw)
	if !ok {
		c.metrics.cacheMissInc()
		return CacheEntry{}, CacheMeta{Source: SourceMiss}, false
	}
	c.metrics.cacheHitInc()

	ttl := min(edgeTTLCap, entry.TTL)
	_ = c.edge.Set(ctx, key, raw, gostore.WithExpiration(ttl))
	// Ristretto applies writes asynchronously; wait so the promotion is
	// visible to this reader's next Get.
	c.admit.Wait()

	return entry, CacheMeta{Source: SourceDurable, Age: time.Since(entry.StoredAt)}, true
}

// Put writes both tiers. ttl is first scaled by the quality multipliers:
// 2.0x at quality ≥ 0.8, 0.5x at quality < 0.3.
func (c *UnifiedCache) Put(ctx context.Context, key string, payload []byte, ttl time.Duration, quality float64, provider string) error {
	scaled := scaleTTL(ttl, quality)
	entry := CacheEntry{
		Payload:        payload,
		StoredAt:       time.Now(),
		TTL:            scaled,
		SourceProvider: provider,
		QualityScore:   quality,
	}
	raw, err := sonic.Marshal(entry)
	if err != nil {
		return Wrap(KindInternal, "INTERNAL", "encoding cache entry", err)
	}

	edgeTTL := min(edgeTTLCap, scaled)
	if err := c.edge.Set(ctx, key, raw, gostore.WithExpiration(edgeTTL)); err != nil {
		Log(ctx).Warn("edge cache write failed", "key", key, "err", err)
	}
	// Ristretto applies writes asynchronously; wait so the writer's own
	// subsequent Get observes the new value from the edge tier.
	c.admit.Wait()
	if err := c.durable.Set(ctx, key, raw, scaled); err != nil {
		return Wrap(KindInternal, "INTERNAL", "durable cache write", err)
	}

	return nil
}

// InvalidateByPrefix removes every key under prefix from the durable tier
// and drops the whole edge tier (ristretto has no prefix scan). Test and
// admin tooling only.
func (c *UnifiedCache) InvalidateByPrefix(ctx context.Context, prefix string) error {
	if err := c.edge.Clear(ctx); err != nil {
		Log(ctx).Warn("clearing edge cache", "err", err)
	}
	return c.durable.DeletePrefix(ctx, prefix)
}

func scaleTTL(base time.Duration, quality float64) time.Duration {
	switch {
	case quality >= 0.8:
		return base * 2
	case quality < 0.3:
		return base / 2
	default:
		return base
	}
}

func decodeEntry(raw []byte) (CacheEntry, bool) {
	var entry CacheEntry
	if err := sonic.Unmarshal(raw, &entry); err != nil {
		return CacheEntry{}, false
	}
	return entry, true
}

// TTL constants (defaults; overridable via config).
const (
	TTLTitle      = 7 * 24 * time.Hour
	TTLISBN       = 365 * 24 * time.Hour
	TTLAuthor     = 7 * 24 * time.Hour
	TTLEnrichment = 180 * 24 * time.Hour
)
