package internal

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Engine is the multi-provider enrichment core (§4.5). It fans a query out
// across providers in priority order, stopping at the first non-empty
// result, merges duplicate works by quality score, and caches the outcome
// under the deterministic key derived from the query.
type Engine struct {
	providers []Provider
	cache     *UnifiedCache
	group     singleflight.Group // Coalesce concurrent identical lookups.
}

func NewEngine(cache *UnifiedCache, providers ...Provider) *Engine {
	return &Engine{providers: providers, cache: cache}
}

// EnrichQuery mirrors §4.5's EnrichOne/EnrichMany argument shape.
type EnrichQuery struct {
	ISBN   string
	Title  string
	Author string
	Max    int
}

// EnrichOne resolves a query to a single best record: the highest-quality
// Work in the merged result, along with its editions and authors. A resolved
// record with a primary ISBN is additionally written under its canonical
// book:isbn:{digits} key so direct per-edition reads of the durable tier
// stay warm.
func (e *Engine) EnrichOne(ctx context.Context, q EnrichQuery) (EnrichedRecord, error) {
	key, ttl := recordKeyFor(q)
	resp, _, err := e.enrich(ctx, key, ttl, q)
	if err != nil {
		return EnrichedRecord{}, err
	}
	if len(resp.Works) == 0 {
		return EnrichedRecord{}, Wrap(KindNotFound, "NOT_FOUND", "no matching record", nil)
	}

	best := resp.Works[0]
	rec := EnrichedRecord{Work: best, Editions: best.Editions, Authors: best.Authors}
	if isbn := primaryISBN(best); isbn != "" {
		e.storeRecord(ctx, bookISBNKey(isbn), rec, best)
	}
	return rec, nil
}

// EnrichMany resolves a query to the full merged set of works/editions/
// authors, deduplicated and quality-ranked (§4.5). The returned meta
// reports which provider satisfied the query and whether the result came
// from cache.
func (e *Engine) EnrichMany(ctx context.Context, q EnrichQuery) (NormalizedResponse, ProviderMeta, error) {
	key, ttl := searchKeyFor(q)
	return e.enrich(ctx, key, ttl, q)
}

func (e *Engine) enrich(ctx context.Context, key string, ttl time.Duration, q EnrichQuery) (NormalizedResponse, ProviderMeta, error) {
	if entry, _, ok := e.cache.Get(ctx, key); ok {
		var resp NormalizedResponse
		if unmarshalEntry(entry, &resp) {
			return resp, ProviderMeta{Provider: entry.SourceProvider, Cached: true}, nil
		}
		// Malformed cache payload: fall through to a live fetch rather than fail.
	}

	v, err, _ := e.group.Do(key, func() (any, error) {
		resp, meta, ferr := e.fetch(ctx, q)
		if ferr != nil {
			return nil, ferr
		}
		if !resp.Empty() {
			e.store(ctx, key, ttl, resp, meta)
		}
		return fetchResult{resp: resp, meta: meta}, nil
	})
	if err != nil {
		return NormalizedResponse{}, ProviderMeta{}, err
	}
	fr := v.(fetchResult)
	return fr.resp, fr.meta, nil
}

type fetchResult struct {
	resp NormalizedResponse
	meta ProviderMeta
}

// fetch walks the provider order from §4.5, stopping at the first
// non-empty NormalizedResponse and falling through retryable failures.
func (e *Engine) fetch(ctx context.Context, q EnrichQuery) (NormalizedResponse, ProviderMeta, error) {
	if len(e.providers) == 0 {
		return NormalizedResponse{}, ProviderMeta{}, Wrap(KindInternal, "INTERNAL", "no providers configured", nil)
	}

	var lastErr error
	for _, p := range e.providers {
		resp, meta, err := e.query(ctx, p, q)
		if err != nil {
			lastErr = err
			if typed := AsTyped(err); !typed.Kind.retryable() {
				Log(ctx).Warn("provider rejected query, not retrying", "provider", p.Name(), "err", err)
			} else {
				Log(ctx).Warn("provider failed, falling through", "provider", p.Name(), "err", err)
			}
			continue
		}
		lastErr = nil
		if !resp.Empty() {
			scoreAndMerge(&resp)
			return resp, meta, nil
		}
	}

	if lastErr != nil {
		return NormalizedResponse{}, ProviderMeta{}, Wrap(KindProviderUnavailable, "PROVIDER_UNAVAILABLE", "all providers failed", lastErr)
	}
	return NormalizedResponse{}, ProviderMeta{}, nil
}

func (e *Engine) query(ctx context.Context, p Provider, q EnrichQuery) (NormalizedResponse, ProviderMeta, error) {
	max := q.Max
	if max <= 0 {
		max = 20
	}
	switch {
	case q.ISBN != "":
		return p.SearchByISBN(ctx, q.ISBN)
	case q.Author != "":
		return p.SearchByAuthor(ctx, q.Author, max, 0)
	default:
		return p.SearchByTitle(ctx, q.Title, max)
	}
}

func (e *Engine) store(ctx context.Context, key string, ttl time.Duration, resp NormalizedResponse, meta ProviderMeta) {
	payload, err := marshalEntry(resp)
	if err != nil {
		Log(ctx).Warn("encoding enrichment result", "err", err)
		return
	}
	quality := 0.0
	if len(resp.Works) > 0 {
		quality = resp.Works[0].QualityScore
	}
	if err := e.cache.Put(ctx, key, payload, ttl, quality, meta.Provider); err != nil {
		Log(ctx).Warn("caching enrichment result", "err", err)
	}
}

func (e *Engine) storeRecord(ctx context.Context, key string, rec EnrichedRecord, w Work) {
	payload, err := marshalEntry(rec)
	if err != nil {
		return
	}
	if err := e.cache.Put(ctx, key, payload, TTLISBN, w.QualityScore, w.PrimaryProvider); err != nil {
		Log(ctx).Warn("caching canonical record", "key", key, "err", err)
	}
}

// recordKeyFor picks EnrichOne's cache key and base TTL: ISBN-backed
// resolutions live under the long-lived enrichment key, title/author
// resolutions share the search keys so a later EnrichMany hits too.
func recordKeyFor(q EnrichQuery) (string, time.Duration) {
	if q.ISBN != "" {
		return enrichmentKey(q.ISBN), TTLEnrichment
	}
	if q.Author != "" {
		return authorSearchKey(q.Author, q.Max, 0), TTLAuthor
	}
	return titleSearchKey(q.Title, q.Max), TTLTitle
}

// searchKeyFor picks EnrichMany's cache key and base TTL per the §4.3 key
// schema.
func searchKeyFor(q EnrichQuery) (string, time.Duration) {
	if q.ISBN != "" {
		return isbnSearchKey(q.ISBN), TTLISBN
	}
	if q.Author != "" {
		return authorSearchKey(q.Author, q.Max, 0), TTLAuthor
	}
	return titleSearchKey(q.Title, q.Max), TTLTitle
}

// QualityScore implements §4.5's formula: 0.4*has_isbn + 0.4*has_cover +
// 0.2*clamp(len(description)/100, 0, 1), read off the work's primary
// (first) edition.
func QualityScore(w Work) float64 {
	score := 0.0
	if len(w.Editions) > 0 {
		if w.Editions[0].ISBN != "" {
			score += 0.4
		}
		if w.Editions[0].CoverURL != "" {
			score += 0.4
		}
	}
	descLen := float64(len(strings.TrimSpace(w.Description)))
	score += 0.2 * math.Max(0, math.Min(descLen/100.0, 1.0))
	return score
}

// scoreAndMerge assigns quality scores, sorts works best-first, and merges
// works sharing a primary ISBN by unioning subject_tags/contributors while
// keeping the higher-scoring record's scalar fields (§4.5). The flat
// Editions/Authors slices are rebuilt from the deduplicated Works.
func scoreAndMerge(resp *NormalizedResponse) {
	for i := range resp.Works {
		resp.Works[i].QualityScore = QualityScore(resp.Works[i])
	}

	byISBN := map[string]int{}
	merged := make([]Work, 0, len(resp.Works))
	for _, w := range resp.Works {
		isbn := primaryISBN(w)
		if isbn == "" {
			merged = append(merged, w)
			continue
		}
		if idx, ok := byISBN[isbn]; ok {
			merged[idx] = mergeWorks(merged[idx], w)
			continue
		}
		byISBN[isbn] = len(merged)
		merged = append(merged, w)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].QualityScore > merged[j].QualityScore
	})

	var editions []Edition
	var authors []Author
	for _, w := range merged {
		editions = append(editions, w.Editions...)
		authors = append(authors, w.Authors...)
	}

	resp.Works = merged
	resp.Editions = editions
	resp.Authors = authors
}

func primaryISBN(w Work) string {
	if len(w.Editions) == 0 {
		return ""
	}
	return w.Editions[0].ISBN
}

// mergeWorks keeps the higher-scoring record's scalar fields, unioning only
// the set-valued fields (§4.5). Subject tags stay ordered (winner's first,
// then the loser's unseen ones); contributors are an unordered set.
func mergeWorks(a, b Work) Work {
	winner, loser := a, b
	if b.QualityScore > a.QualityScore {
		winner, loser = b, a
	}
	winner.SubjectTags = appendMissing(winner.SubjectTags, loser.SubjectTags)
	winner.Contributors = setSlice(union(newSet(winner.Contributors...), newSet(loser.Contributors...)))
	return winner
}

func appendMissing(dst, src []string) []string {
	seen := newSet(dst...)
	for _, s := range src {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		dst = append(dst, s)
	}
	return dst
}

// setSlice flattens a set back into a slice; key order is unspecified,
// which is fine for contributors, an unordered collection.
func setSlice[T comparable](s set[T]) []T {
	out := make([]T, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

func marshalEntry(v any) ([]byte, error) { return sonic.Marshal(v) }

func unmarshalEntry(entry CacheEntry, out any) bool {
	return sonic.Unmarshal(entry.Payload, out) == nil
}

// providerFanoutTimeout bounds how long EnrichFromAll waits for the
// slowest provider before giving up on it.
const providerFanoutTimeout = 8 * time.Second

// EnrichFromAll queries every configured provider concurrently and merges
// all non-empty results, used by batch cache-warming (§4.9) where the
// extra latency of querying every provider is acceptable in exchange for
// the highest achievable merge quality.
func (e *Engine) EnrichFromAll(ctx context.Context, q EnrichQuery) (NormalizedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, providerFanoutTimeout)
	defer cancel()

	results := make([]NormalizedResponse, len(e.providers))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range e.providers {
		i, p := i, p
		g.Go(func() error {
			resp, _, err := e.query(gctx, p, q)
			if err != nil {
				Log(ctx).Warn("provider fanout failed", "provider", p.Name(), "err", err)
				return nil
			}
			results[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return NormalizedResponse{}, err
	}

	merged := NormalizedResponse{}
	for _, r := range results {
		merged.Works = append(merged.Works, r.Works...)
	}
	scoreAndMerge(&merged)
	return merged, nil
}
