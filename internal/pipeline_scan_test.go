package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQualityChecker struct{ err error }

func (f fakeQualityChecker) Check([]byte) error { return f.err }

type fakeVisionClient struct {
	result VisionResult
	err    error
}

func (f fakeVisionClient) ScanImage(ctx context.Context, data []byte) (VisionResult, error) {
	return f.result, f.err
}

func readyJob(t *testing.T, pipeline PipelineKind, total int) (*Job, *fakeConn) {
	t.Helper()
	job := newJob(newJobID(), pipeline, total, newMemJobStore(), time.Hour, func(string) {}, nil)
	job.SetAuthToken(context.Background(), "tok", time.Now())
	conn := &fakeConn{}
	require.NoError(t, job.AttachWebSocket("tok", conn))
	job.ClientReady(context.Background())
	return job, conn
}

func TestRunBookshelfScanHappyPath(t *testing.T) {
	provider := &scriptedProvider{byTitle: map[string]NormalizedResponse{
		"Dune": {Works: []Work{workWithISBN("Dune", "9780439708180", "http://cover", "a book")}},
	}}
	cache, _ := newTestCache(t)
	engine := NewEngine(cache, provider)

	job, _ := readyJob(t, PipelineAIScan, 1)
	vision := fakeVisionClient{result: VisionResult{Books: []ScannedBook{{Title: "Dune"}}, ModelUsed: "vision-1"}}

	RunBookshelfScan(context.Background(), job, fakeQualityChecker{}, vision, engine, []byte("fake-image-bytes"))

	snap := job.Snapshot()
	require.Equal(t, JobComplete, snap.Status)
	result := snap.Result.(singleScanResult)
	assert.Equal(t, "vision-1", result.ModelUsed)
	assert.Equal(t, 1, result.BooksFound)
	assert.NotNil(t, result.Books[0].Record)
}

func TestRunBookshelfScanFallsBackToUnknownModel(t *testing.T) {
	cache, _ := newTestCache(t)
	engine := NewEngine(cache, &scriptedProvider{byTitle: map[string]NormalizedResponse{}})
	job, _ := readyJob(t, PipelineAIScan, 1)
	vision := fakeVisionClient{result: VisionResult{ModelUsed: ""}}

	RunBookshelfScan(context.Background(), job, fakeQualityChecker{}, vision, engine, []byte("img"))

	result := job.Snapshot().Result.(singleScanResult)
	assert.Equal(t, "unknown", result.ModelUsed, "an AI layer that omits modelUsed falls back to unknown")
}

func TestRunBookshelfScanFailsOnLowImageQuality(t *testing.T) {
	cache, _ := newTestCache(t)
	engine := NewEngine(cache, &scriptedProvider{byTitle: map[string]NormalizedResponse{}})
	job, _ := readyJob(t, PipelineAIScan, 1)
	checker := fakeQualityChecker{err: errors.New("too blurry")}

	RunBookshelfScan(context.Background(), job, checker, fakeVisionClient{}, engine, []byte("img"))

	snap := job.Snapshot()
	assert.Equal(t, JobFailed, snap.Status)
}

func TestRunBookshelfScanFailsWhenAIUnavailable(t *testing.T) {
	cache, _ := newTestCache(t)
	engine := NewEngine(cache, &scriptedProvider{byTitle: map[string]NormalizedResponse{}})
	job, _ := readyJob(t, PipelineAIScan, 1)
	vision := fakeVisionClient{err: errors.New("model timeout")}

	RunBookshelfScan(context.Background(), job, fakeQualityChecker{}, vision, engine, []byte("img"))

	snap := job.Snapshot()
	assert.Equal(t, JobFailed, snap.Status)
}

func TestRunBatchBookshelfScanStopsCleanlyOnCancellationBetweenPhotos(t *testing.T) {
	cache, _ := newTestCache(t)
	provider := &scriptedProvider{byTitle: map[string]NormalizedResponse{
		"Dune": {Works: []Work{workWithISBN("Dune", "9780439708180", "http://cover", "")}},
	}}
	engine := NewEngine(cache, provider)

	job, _ := readyJob(t, PipelineBatchAIScan, 3)
	vision := fakeVisionClient{result: VisionResult{Books: []ScannedBook{{Title: "Dune"}}, ModelUsed: "v1"}}

	photos := []PhotoInput{
		{Index: 0, Data: []byte("img0")},
		{Index: 1, Data: []byte("img1")},
		{Index: 2, Data: []byte("img2")},
	}

	// Simulate a cancel request arriving while photo 0 is finishing: the
	// quality checker for photo 1 is the next checkpoint the pipeline
	// observes it at, matching §8 scenario 5 (cancel after the first
	// photo completes).
	canceledOnSecondPhoto := &cancelingChecker{job: job, cancelAfter: 2}
	RunBatchBookshelfScan(context.Background(), job, canceledOnSecondPhoto, vision, engine, photos)

	snap := job.Snapshot()
	assert.Equal(t, JobCanceled, snap.Status)
	require.Len(t, snap.Photos, 3)
	assert.Equal(t, PhotoComplete, snap.Photos[0].Status, "the photo already in flight when cancel arrived still completes")
	assert.Contains(t, []PhotoStatus{PhotoQueued, PhotoProcessing}, snap.Photos[1].Status, "per §8 scenario 5 the in-flight photo at cancel time may be queued or processing")
	assert.Equal(t, PhotoQueued, snap.Photos[2].Status, "no photo after the canceled one is ever started")
}

// cancelingChecker is a quality checker that requests job cancellation
// after the Nth call, letting tests simulate a client cancel landing
// between photos without a real clock race.
type cancelingChecker struct {
	job         *Job
	cancelAfter int
	calls       int
}

func (c *cancelingChecker) Check([]byte) error {
	c.calls++
	if c.calls >= c.cancelAfter {
		c.job.Cancel(context.Background(), "client canceled")
	}
	return nil
}
