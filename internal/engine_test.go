package internal

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is a scripted Provider double: each call increments a
// counter so tests can assert on fan-out/fallback/single-flight behavior.
type fakeProvider struct {
	name string

	titleCalls int32
	isbnCalls  int32

	titleResp NormalizedResponse
	titleErr  error
	isbnResp  NormalizedResponse
	isbnErr   error

	delay time.Duration
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) SearchByTitle(ctx context.Context, title string, max int) (NormalizedResponse, ProviderMeta, error) {
	atomic.AddInt32(&f.titleCalls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.titleResp, ProviderMeta{Provider: f.name}, f.titleErr
}

func (f *fakeProvider) SearchByISBN(ctx context.Context, isbn string) (NormalizedResponse, ProviderMeta, error) {
	atomic.AddInt32(&f.isbnCalls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.isbnResp, ProviderMeta{Provider: f.name}, f.isbnErr
}

func (f *fakeProvider) SearchByAuthor(ctx context.Context, name string, limit, offset int) (NormalizedResponse, ProviderMeta, error) {
	return NormalizedResponse{}, ProviderMeta{Provider: f.name}, nil
}

func workWithISBN(title, isbn, coverURL, description string) Work {
	return Work{
		Title:       title,
		SubjectTags: []string{"Fiction"},
		Description: description,
		Editions:    []Edition{{ISBN: isbn, CoverURL: coverURL, PrimaryProvider: "test"}},
		Contributors: []string{"test"},
	}
}

func TestEngineFallsThroughOnProviderFailure(t *testing.T) {
	first := &fakeProvider{name: "googlebooks", titleErr: Wrap(KindProviderTimeout, "TIMEOUT", "boom", nil)}
	second := &fakeProvider{name: "openlibrary", titleResp: NormalizedResponse{Works: []Work{workWithISBN("Dune", "9780439708180", "http://cover", "")}}}

	cache, _ := newTestCache(t)
	engine := NewEngine(cache, first, second)

	rec, err := engine.EnrichOne(context.Background(), EnrichQuery{Title: "Dune", Max: 1})
	require.NoError(t, err)
	assert.Equal(t, "Dune", rec.Work.Title)
	assert.Equal(t, int32(1), first.titleCalls)
	assert.Equal(t, int32(1), second.titleCalls)
}

func TestEngineNotFoundWhenAllProvidersEmpty(t *testing.T) {
	first := &fakeProvider{name: "googlebooks"}
	second := &fakeProvider{name: "openlibrary"}
	cache, _ := newTestCache(t)
	engine := NewEngine(cache, first, second)

	_, err := engine.EnrichOne(context.Background(), EnrichQuery{Title: "Nonexistent Book Title", Max: 1})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, AsTyped(err).Kind)
}

func TestEngineProviderUnavailableWhenAllFail(t *testing.T) {
	first := &fakeProvider{name: "googlebooks", titleErr: Wrap(KindProviderTransient, "ERR", "down", nil)}
	second := &fakeProvider{name: "openlibrary", titleErr: Wrap(KindProviderTransient, "ERR", "down", nil)}
	cache, _ := newTestCache(t)
	engine := NewEngine(cache, first, second)

	_, err := engine.EnrichOne(context.Background(), EnrichQuery{Title: "Dune", Max: 1})
	require.Error(t, err)
	assert.Equal(t, KindProviderUnavailable, AsTyped(err).Kind)
}

func TestEngineCachesResultAcrossCalls(t *testing.T) {
	p := &fakeProvider{name: "googlebooks", isbnResp: NormalizedResponse{Works: []Work{workWithISBN("Dune", "9780439708180", "http://cover", "")}}}
	cache, _ := newTestCache(t)
	engine := NewEngine(cache, p)

	ctx := context.Background()
	_, err := engine.EnrichOne(ctx, EnrichQuery{ISBN: "9780439708180"})
	require.NoError(t, err)
	_, err = engine.EnrichOne(ctx, EnrichQuery{ISBN: "9780439708180"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), p.isbnCalls, "second identical call must be served from cache, not a fresh provider request")
}

// TestEngineSingleFlightCoalescesConcurrentLookups drives §8's quantified
// invariant: concurrent identical EnrichOne calls issue at most one
// provider request per (provider, key).
func TestEngineSingleFlightCoalescesConcurrentLookups(t *testing.T) {
	p := &fakeProvider{
		name:     "googlebooks",
		isbnResp: NormalizedResponse{Works: []Work{workWithISBN("Dune", "9780439708180", "http://cover", "")}},
		delay:    50 * time.Millisecond,
	}
	cache, _ := newTestCache(t)
	engine := NewEngine(cache, p)

	const concurrency = 20
	done := make(chan error, concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			_, err := engine.EnrichOne(context.Background(), EnrichQuery{ISBN: "9780439708180"})
			done <- err
		}()
	}
	for i := 0; i < concurrency; i++ {
		require.NoError(t, <-done)
	}

	assert.Equal(t, int32(1), p.isbnCalls, "at most one provider fetch may be in flight per key")
}

func TestQualityScoreFormula(t *testing.T) {
	w := workWithISBN("Dune", "9780439708180", "http://cover", "")
	w.Description = ""
	assert.InDelta(t, 0.8, QualityScore(w), 0.001, "has_isbn + has_cover, no description")

	w2 := workWithISBN("Dune", "", "", "a description that is exactly long enough to reach two hundred characters, which is double the one hundred character normalization denominator used by the quality score formula so it should clamp at one")
	assert.InDelta(t, 0.2, QualityScore(w2), 0.001)
}

func TestScoreAndMergeUnionsSetFieldsKeepingHigherScoringScalars(t *testing.T) {
	low := workWithISBN("Dune", "9780439708180", "", "")
	low.SubjectTags = []string{"Fiction"}
	low.Contributors = []string{"openlibrary"}

	high := workWithISBN("Dune", "9780439708180", "http://cover", "a decently long description used to push the quality score up for this merge test case")
	high.SubjectTags = []string{"Science Fiction"}
	high.Contributors = []string{"googlebooks"}

	resp := NormalizedResponse{Works: []Work{low, high}}
	scoreAndMerge(&resp)

	require.Len(t, resp.Works, 1, "works sharing a primary ISBN are merged")
	merged := resp.Works[0]
	assert.ElementsMatch(t, []string{"Fiction", "Science Fiction"}, merged.SubjectTags)
	assert.ElementsMatch(t, []string{"openlibrary", "googlebooks"}, merged.Contributors)
	assert.NotEmpty(t, merged.Editions[0].CoverURL, "the higher-scoring record's scalar fields win")
}
