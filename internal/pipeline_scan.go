package internal

import (
	"context"
	"time"
)

const (
	maxImageBytes  = 5 << 20
	maxBatchPhotos = 5

	// MaxImageBytes and MaxBatchPhotos are exported for the CLI wiring in
	// package main (MAX_IMAGE_BYTES, MAX_BATCH_PHOTOS).
	MaxImageBytes  = maxImageBytes
	MaxBatchPhotos = maxBatchPhotos
)

// ScannedBook is one book a vision call recognized on a shelf photo.
type ScannedBook struct {
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
}

// VisionResult is what the AI vision layer returns for one photo. The
// layer itself is an external collaborator (out of scope); this package
// only depends on its contract.
type VisionResult struct {
	Books     []ScannedBook `json:"books"`
	ModelUsed string        `json:"modelUsed"`
}

// VisionClient recognizes books in a bookshelf photo.
type VisionClient interface {
	ScanImage(ctx context.Context, data []byte) (VisionResult, error)
}

// ImageQualityChecker rejects photos too blurry/dark/small to scan
// reliably, before spending a vision-API call on them.
type ImageQualityChecker interface {
	Check(data []byte) error
}

// PhotoInput is one image of a batch bookshelf-scan request.
type PhotoInput struct {
	Index int    `json:"index"`
	Data  []byte `json:"data"`
}

// scannedBookResult pairs a recognized book with its enrichment outcome.
type scannedBookResult struct {
	Scanned ScannedBook     `json:"scanned"`
	Record  *EnrichedRecord `json:"record,omitempty"`
}

// singleScanResult is the terminal payload for the single-photo scan
// pipeline.
type singleScanResult struct {
	ModelUsed  string              `json:"modelUsed"`
	BooksFound int                 `json:"booksFound"`
	Books      []scannedBookResult `json:"books"`
}

// RunBookshelfScan drives a job through the single-image scan pipeline:
// quality check at 10%, vision call at 70%, enrichment at 100%.
func RunBookshelfScan(ctx context.Context, job *Job, checker ImageQualityChecker, vision VisionClient, engine *Engine, image []byte) {
	if err := job.WaitForReady(ctx, 30*time.Second); err != nil {
		Log(ctx).Warn("bookshelf scan: client never became ready, proceeding anyway", "job", job.ID(), "err", err)
	}

	job.PushProgress(ctx, 0, "Checking image quality", nil)
	if err := checker.Check(image); err != nil {
		job.Fail(ctx, "low_image_quality", err.Error())
		return
	}
	job.PushProgress(ctx, 10, "Checking image quality", nil)

	if job.IsCanceled() {
		return
	}

	result, err := vision.ScanImage(ctx, image)
	if err != nil {
		job.Fail(ctx, "ai_unavailable", err.Error())
		return
	}
	if result.ModelUsed == "" {
		result.ModelUsed = "unknown"
	}
	job.PushProgress(ctx, 70, "Scanning shelf", nil)

	if job.IsCanceled() {
		return
	}

	books := make([]scannedBookResult, 0, len(result.Books))
	for i, b := range result.Books {
		if job.IsCanceled() {
			return
		}
		rec, err := engine.EnrichOne(ctx, EnrichQuery{Title: b.Title, Author: b.Author, Max: 1})
		entry := scannedBookResult{Scanned: b}
		if err == nil {
			entry.Record = &rec
		}
		books = append(books, entry)
		job.PushProgress(ctx, 70+30*(i+1)/max(len(result.Books), 1), "Enriching scanned books", nil)
	}

	job.Complete(ctx, singleScanResult{ModelUsed: result.ModelUsed, BooksFound: len(books), Books: books})
}

// batchScanResult is the terminal payload for the multi-image scan
// pipeline.
type batchScanResult struct {
	TotalBooksFound int                 `json:"totalBooksFound"`
	PhotoResults    []Photo             `json:"photoResults"`
	Books           []scannedBookResult `json:"books"`
}

// RunBatchBookshelfScan drives a job through the multi-image scan
// pipeline. Photos are processed strictly sequentially to respect AI
// rate limits; cancellation is checked between photos.
func RunBatchBookshelfScan(ctx context.Context, job *Job, checker ImageQualityChecker, vision VisionClient, engine *Engine, photos []PhotoInput) {
	if err := job.WaitForReady(ctx, 30*time.Second); err != nil {
		Log(ctx).Warn("batch bookshelf scan: client never became ready, proceeding anyway", "job", job.ID(), "err", err)
	}

	job.SetPhotos(photoPlaceholders(photos))

	var allBooks []scannedBookResult
	for _, photo := range photos {
		if job.IsCanceled() {
			return
		}

		job.UpdatePhoto(ctx, photo.Index, PhotoProcessing, 0, "")

		if err := checker.Check(photo.Data); err != nil {
			job.UpdatePhoto(ctx, photo.Index, PhotoError, 0, err.Error())
			continue
		}
		if job.IsCanceled() {
			return
		}

		result, err := vision.ScanImage(ctx, photo.Data)
		if err != nil {
			job.UpdatePhoto(ctx, photo.Index, PhotoError, 0, err.Error())
			continue
		}

		found := 0
		for _, b := range result.Books {
			if job.IsCanceled() {
				return
			}
			rec, rerr := engine.EnrichOne(ctx, EnrichQuery{Title: b.Title, Author: b.Author, Max: 1})
			entry := scannedBookResult{Scanned: b}
			if rerr == nil {
				entry.Record = &rec
			}
			allBooks = append(allBooks, entry)
			found++
		}
		job.UpdatePhoto(ctx, photo.Index, PhotoComplete, found, "")
	}

	if job.IsCanceled() {
		return
	}

	snapshot := job.Snapshot()
	job.Complete(ctx, batchScanResult{TotalBooksFound: len(allBooks), PhotoResults: snapshot.Photos, Books: allBooks})
}

func photoPlaceholders(photos []PhotoInput) []Photo {
	out := make([]Photo, len(photos))
	for i, p := range photos {
		out[i] = Photo{Index: p.Index, Status: PhotoQueued}
	}
	return out
}
