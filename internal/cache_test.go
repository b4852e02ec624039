package internal

import (
	"context"
	"strings"
	"sync"
	"time"

	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memDurableStore is an in-process durableStore test double standing in
// for RedisStore, so cache tests never need a real Redis instance.
type memDurableStore struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemDurableStore() *memDurableStore {
	return &memDurableStore{items: map[string][]byte{}}
}

func (m *memDurableStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok, nil
}

func (m *memDurableStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
	return nil
}

func (m *memDurableStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *memDurableStore) DeletePrefix(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			delete(m.items, k)
		}
	}
	return nil
}

var _ durableStore = (*memDurableStore)(nil)

func newTestCache(t *testing.T) (*UnifiedCache, *memDurableStore) {
	t.Helper()
	durable := newMemDurableStore()
	cache, err := NewUnifiedCache(durable, nil)
	require.NoError(t, err)
	return cache, durable
}

func TestCacheMissThenHit(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	_, _, ok := cache.Get(ctx, "search:title:dune:20")
	assert.False(t, ok, "an empty cache must miss")

	require.NoError(t, cache.Put(ctx, "search:title:dune:20", []byte(`{"title":"Dune"}`), TTLTitle, 0.9, "googlebooks"))

	entry, meta, ok := cache.Get(ctx, "search:title:dune:20")
	require.True(t, ok)
	assert.Equal(t, SourceEdge, meta.Source, "the writer's own subsequent read must observe the new value from the edge tier")
	assert.Equal(t, []byte(`{"title":"Dune"}`), entry.Payload)
	assert.Equal(t, "googlebooks", entry.SourceProvider)
}

func TestCachePromotesDurableHitToEdge(t *testing.T) {
	cache, durable := newTestCache(t)
	ctx := context.Background()

	entry := CacheEntry{Payload: []byte("x"), StoredAt: time.Now(), TTL: TTLISBN, SourceProvider: "openlibrary", QualityScore: 0.5}
	raw, err := sonic.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, durable.Set(ctx, "book:isbn:9780439708180", raw, TTLISBN))

	got, meta, ok := cache.Get(ctx, "book:isbn:9780439708180")
	require.True(t, ok)
	assert.Equal(t, SourceDurable, meta.Source, "first read of a durable-only entry is a durable hit")
	assert.Equal(t, "openlibrary", got.SourceProvider)

	_, meta2, ok2 := cache.Get(ctx, "book:isbn:9780439708180")
	require.True(t, ok2)
	assert.Equal(t, SourceEdge, meta2.Source, "the durable hit must have promoted the entry into the edge tier")
}

func TestCacheTTLQualityMultipliers(t *testing.T) {
	assert.Equal(t, TTLTitle*2, scaleTTL(TTLTitle, 0.8), "quality >= 0.8 doubles the base TTL")
	assert.Equal(t, TTLTitle*2, scaleTTL(TTLTitle, 0.95))
	assert.Equal(t, TTLTitle/2, scaleTTL(TTLTitle, 0.29), "quality < 0.3 halves the base TTL")
	assert.Equal(t, TTLTitle, scaleTTL(TTLTitle, 0.5), "mid-range quality leaves the base TTL untouched")
}

func TestCacheInvalidateByPrefix(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "search:title:a:10", []byte("a"), TTLTitle, 0.5, "googlebooks"))
	require.NoError(t, cache.Put(ctx, "search:isbn:123", []byte("b"), TTLISBN, 0.5, "googlebooks"))

	require.NoError(t, cache.InvalidateByPrefix(ctx, "search:title:"))

	_, foundA, _ := cache.durable.Get(ctx, "search:title:a:10")
	assert.False(t, foundA)
	_, foundB, _ := cache.durable.Get(ctx, "search:isbn:123")
	assert.True(t, foundB, "unrelated prefixes must survive")
}
