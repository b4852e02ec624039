package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCSVExtractor struct {
	rows []CSVRow
	err  error
}

func (f fakeCSVExtractor) ExtractRows(ctx context.Context, data []byte) ([]CSVRow, error) {
	return f.rows, f.err
}

func TestRunCSVImportHappyPathWithInvalidRows(t *testing.T) {
	provider := &scriptedProvider{byTitle: map[string]NormalizedResponse{
		"Dune": {Works: []Work{workWithISBN("Dune", "9780439708180", "http://cover", "")}},
	}}
	cache, _ := newTestCache(t)
	engine := NewEngine(cache, provider)

	extractor := fakeCSVExtractor{rows: []CSVRow{
		{Title: "Dune"},
		{Title: "", ISBN: ""}, // missing both title and isbn
		{Title: "Bogus Unmatched Title"},
	}}

	job, _ := readyJob(t, PipelineCSVImport, 3)
	RunCSVImport(context.Background(), job, extractor, engine, []byte("title\nDune\n,\nBogus Unmatched Title\n"))

	snap := job.Snapshot()
	require.Equal(t, JobComplete, snap.Status)

	result, ok := snap.Result.(CSVImportResult)
	require.True(t, ok)
	assert.Equal(t, 2, result.ValidRows)
	assert.Equal(t, 1, result.InvalidRows)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "missing title and isbn")
	require.Len(t, result.Enriched, 2)
	assert.NotNil(t, result.Enriched[0].Record)
	assert.Nil(t, result.Enriched[1].Record, "an unmatched title enriches to no record, not an error")
}

func TestRunCSVImportCoalescesConcurrentLookupsByISBN(t *testing.T) {
	// RunCSVImport fans rows out concurrently via RunBatch, so two rows
	// sharing an ISBN really do race; the engine's own single-flight
	// group (keyed by the normalized ISBN) must collapse them into one
	// upstream call.
	calls := 0
	provider := &countingProvider{scriptedProvider: scriptedProvider{byTitle: map[string]NormalizedResponse{}}, calls: &calls}
	cache, _ := newTestCache(t)
	engine := NewEngine(cache, provider)

	extractor := fakeCSVExtractor{rows: []CSVRow{
		{Title: "Dune", ISBN: "9780439708180"},
		{Title: "Dune (dup)", ISBN: "978-0-4397-0818-0"},
	}}

	job, _ := readyJob(t, PipelineCSVImport, 2)
	RunCSVImport(context.Background(), job, extractor, engine, []byte("irrelevant"))

	snap := job.Snapshot()
	require.Equal(t, JobComplete, snap.Status)
	result := snap.Result.(CSVImportResult)
	require.Len(t, result.Enriched, 2)
	assert.Equal(t, 1, calls, "concurrent rows sharing a normalized ISBN are single-flighted into one upstream call")
	assert.Nil(t, result.Enriched[0].Record, "provider has no match for this isbn, so no record is synthesized")
	assert.Nil(t, result.Enriched[1].Record)
}

func TestRunCSVImportFailsOnExtractorError(t *testing.T) {
	cache, _ := newTestCache(t)
	engine := NewEngine(cache, &scriptedProvider{byTitle: map[string]NormalizedResponse{}})
	extractor := fakeCSVExtractor{err: errors.New("unreadable csv")}

	job, _ := readyJob(t, PipelineCSVImport, 0)
	RunCSVImport(context.Background(), job, extractor, engine, []byte("garbage"))

	snap := job.Snapshot()
	assert.Equal(t, JobFailed, snap.Status)
}

func TestRunCSVImportStopsWhenCanceled(t *testing.T) {
	cache, _ := newTestCache(t)
	engine := NewEngine(cache, &scriptedProvider{byTitle: map[string]NormalizedResponse{}})
	extractor := fakeCSVExtractor{rows: []CSVRow{{Title: "Dune"}}}

	job, _ := readyJob(t, PipelineCSVImport, 1)
	job.Cancel(context.Background(), "stop before start")

	RunCSVImport(context.Background(), job, extractor, engine, []byte("irrelevant"))

	snap := job.Snapshot()
	assert.Equal(t, JobCanceled, snap.Status)
}

// countingProvider wraps scriptedProvider to count lookup calls, for
// asserting single-flight de-duplication actually collapsed calls rather
// than merely matching on the response shape.
type countingProvider struct {
	scriptedProvider
	calls *int
}

func (c *countingProvider) SearchByISBN(ctx context.Context, isbn string) (NormalizedResponse, ProviderMeta, error) {
	*c.calls++
	time.Sleep(5 * time.Millisecond)
	return c.scriptedProvider.SearchByISBN(ctx, isbn)
}
