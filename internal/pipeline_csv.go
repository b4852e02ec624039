package internal

import (
	"context"
	"fmt"
	"time"
)

const maxCSVBytes = 10 << 20

// MaxCSVBytes is exported for the CLI wiring in package main
// (MAX_CSV_BYTES).
const MaxCSVBytes = maxCSVBytes

// CSVRow is one record an AI-assisted extractor pulled out of an uploaded
// CSV file.
type CSVRow struct {
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
	ISBN   string `json:"isbn,omitempty"`
}

// CSVExtractor turns raw CSV bytes into row records. Like VisionClient,
// this is an external collaborator; this package only depends on its
// contract.
type CSVExtractor interface {
	ExtractRows(ctx context.Context, data []byte) ([]CSVRow, error)
}

type csvRowOutcome struct {
	Row    CSVRow          `json:"row"`
	Record *EnrichedRecord `json:"record,omitempty"`
}

// CSVImportResult is the terminal payload for the CSV import pipeline.
type CSVImportResult struct {
	ValidRows   int             `json:"validRows"`
	InvalidRows int             `json:"invalidRows"`
	Errors      []string        `json:"errors,omitempty"`
	Enriched    []csvRowOutcome `json:"enriched"`
}

// RunCSVImport drives a job through the CSV import pipeline: parse, then
// enrich each row with bounded concurrency via RunBatch (§4.6/§4.8),
// preserving row order in the result. Concurrent rows sharing an ISBN are
// de-duplicated by the engine's own single-flight group, which is already
// keyed by the normalized (digits-only) ISBN (§4.3's "enrichment:{digits}"
// key schema) — a second, per-import single-flight group here would be
// redundant with that and, since rows are otherwise independent, would
// only ever coalesce calls that this fan-out itself makes concurrent.
func RunCSVImport(ctx context.Context, job *Job, extractor CSVExtractor, engine *Engine, data []byte) {
	if err := job.WaitForReady(ctx, 30*time.Second); err != nil {
		Log(ctx).Warn("csv import: client never became ready, proceeding anyway", "job", job.ID(), "err", err)
	}

	job.PushProgress(ctx, 0, "Parsing row 0/0", nil)
	rows, err := extractor.ExtractRows(ctx, data)
	if err != nil {
		job.Fail(ctx, "csv_parse_failed", err.Error())
		return
	}
	// The row count was unknown at accept time.
	job.SetTotal(ctx, len(rows))

	var invalid []string
	var valid []CSVRow
	for i, r := range rows {
		if r.Title == "" && r.ISBN == "" {
			invalid = append(invalid, fmt.Sprintf("row %d: missing title and isbn", i+1))
			continue
		}
		valid = append(valid, r)
		job.PushProgress(ctx, i+1, fmt.Sprintf("Parsing row %d/%d", i+1, len(rows)), nil)
	}

	if job.IsCanceled() {
		return
	}

	label := func(r CSVRow) string {
		if r.Title != "" {
			return r.Title
		}
		return r.ISBN
	}
	op := func(opCtx context.Context, r CSVRow) (EnrichedRecord, error) {
		if job.IsCanceled() {
			return EnrichedRecord{}, Wrap(KindCancellation, "CANCELED", "job canceled", nil)
		}
		return engine.EnrichOne(opCtx, EnrichQuery{ISBN: r.ISBN, Title: r.Title, Author: r.Author, Max: 1})
	}
	progress := func(completed, total int, currentLabel string, hadError bool) {
		job.PushProgress(ctx, completed, fmt.Sprintf("Enriching %d/%d", completed, total), nil)
	}

	results := RunBatch(ctx, valid, BatchConcurrency, label, op, progress)

	if job.IsCanceled() {
		return
	}

	outcomes := make([]csvRowOutcome, len(results))
	for _, r := range results {
		outcomes[r.Index] = csvRowOutcome{Row: valid[r.Index]}
		if r.Err == nil {
			rec := r.Value
			outcomes[r.Index].Record = &rec
		}
	}

	job.Complete(ctx, CSVImportResult{
		ValidRows:   len(valid),
		InvalidRows: len(invalid),
		Errors:      invalid,
		Enriched:    outcomes,
	})
}
