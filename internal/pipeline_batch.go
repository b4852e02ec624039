package internal

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	maxBatchBooks = 100
	maxTitleLen   = 500
	maxAuthorLen  = 300
	maxISBNLen    = 17
)

// BookQuery is one item of a batch enrichment request.
type BookQuery struct {
	Title  string `json:"title,omitempty"`
	Author string `json:"author,omitempty"`
	ISBN   string `json:"isbn,omitempty"`
}

// ValidateBatch enforces the batch-enrichment input limits, returning a
// copy with every field trimmed and truncated to its length cap.
func ValidateBatch(books []BookQuery) ([]BookQuery, error) {
	if len(books) == 0 {
		return nil, Wrap(KindValidation, "EMPTY_BATCH", "books must not be empty", ErrEmptyBatch)
	}
	if len(books) > maxBatchBooks {
		return nil, Wrap(KindValidation, "BATCH_TOO_LARGE", fmt.Sprintf("books exceeds max of %d", maxBatchBooks), ErrBatchTooLarge)
	}
	out := make([]BookQuery, len(books))
	for i, b := range books {
		out[i] = BookQuery{
			Title:  truncate(strings.TrimSpace(b.Title), maxTitleLen),
			Author: truncate(strings.TrimSpace(b.Author), maxAuthorLen),
			ISBN:   truncate(strings.TrimSpace(b.ISBN), maxISBNLen),
		}
	}
	return out, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// enrichedBookOutcome is one entry of a batch-enrichment result payload.
type enrichedBookOutcome struct {
	Query  BookQuery       `json:"query"`
	Record *EnrichedRecord `json:"record,omitempty"`
	Error  *failurePayload `json:"error,omitempty"`
}

// BatchEnrichmentResult is the terminal payload for the batch enrichment
// pipeline.
type BatchEnrichmentResult struct {
	TotalProcessed int                   `json:"totalProcessed"`
	SuccessCount   int                   `json:"successCount"`
	FailureCount   int                   `json:"failureCount"`
	DurationMS     int64                 `json:"duration_ms"`
	EnrichedBooks  []enrichedBookOutcome `json:"enrichedBooks"`
}

// RunBatchEnrichment drives a job through the batch-enrichment pipeline.
// It must be started on its own goroutine after the HTTP handler has
// returned 202; it waits for the client's WebSocket ready handshake before
// emitting any progress.
func RunBatchEnrichment(ctx context.Context, job *Job, engine *Engine, books []BookQuery) {
	start := time.Now()
	if err := job.WaitForReady(ctx, 30*time.Second); err != nil {
		Log(ctx).Warn("batch enrichment: client never became ready, proceeding anyway", "job", job.ID(), "err", err)
	}

	label := func(b BookQuery) string {
		if b.Title != "" {
			return b.Title
		}
		return b.ISBN
	}
	op := func(opCtx context.Context, b BookQuery) (EnrichedRecord, error) {
		if job.IsCanceled() {
			return EnrichedRecord{}, Wrap(KindCancellation, "CANCELED", "job canceled", nil)
		}
		return engine.EnrichOne(opCtx, EnrichQuery{ISBN: b.ISBN, Title: b.Title, Author: b.Author, Max: 1})
	}
	progress := func(completed, total int, currentLabel string, hadError bool) {
		job.PushProgress(ctx, completed, fmt.Sprintf("Enriching (%d/%d): %s", completed, total, currentLabel), nil)
	}

	results := RunBatch(ctx, books, BatchConcurrency, label, op, progress)

	if job.IsCanceled() {
		return
	}

	outcomes := make([]enrichedBookOutcome, len(results))
	success, failure := 0, 0
	for _, r := range results {
		if r.Err != nil {
			failure++
			typed := AsTyped(r.Err)
			outcomes[r.Index] = enrichedBookOutcome{Query: books[r.Index], Error: &failurePayload{Code: typed.Code, Message: typed.Message}}
			continue
		}
		success++
		rec := r.Value
		outcomes[r.Index] = enrichedBookOutcome{Query: books[r.Index], Record: &rec}
	}

	job.Complete(ctx, BatchEnrichmentResult{
		TotalProcessed: len(books),
		SuccessCount:   success,
		FailureCount:   failure,
		DurationMS:     time.Since(start).Milliseconds(),
		EnrichedBooks:  outcomes,
	})
}
