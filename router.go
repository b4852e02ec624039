package main

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/stampede"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blampe/bookinfo/internal"
)

// app bundles every dependency the HTTP handlers need. Constructed once in
// main and closed over by newRouter.
type app struct {
	engine    *internal.Engine
	registry  *internal.Registry
	limiter   *internal.RateLimiter
	queue     *internal.QueueConsumer
	vision    internal.VisionClient
	quality   internal.ImageQualityChecker
	csv       internal.CSVExtractor
	metrics   *prometheus.Registry
	maxImage  int64
	maxCSV    int64
	maxPhotos int
}

func newRouter(a *app) http.Handler {
	mux := chi.NewRouter()

	mux.Get("/health", a.handleHealth)
	mux.Get("/metrics", a.handleMetrics)

	mux.Group(func(g chi.Router) {
		g.Use(stampede.Handler(1024, 0)) // Coalesce identical concurrent searches.
		g.Use(a.rateLimit)
		g.Get("/v1/search/title", a.handleSearchTitle)
		g.Get("/v1/search/isbn", a.handleSearchISBN)
		g.Get("/v1/search/advanced", a.handleSearchAdvanced)
	})

	mux.Group(func(g chi.Router) {
		g.Use(a.rateLimit)
		g.Post("/v1/enrichment/batch", a.handleBatchEnrichment)
		g.Post("/api/scan-bookshelf", a.handleScanBookshelf)
		g.Post("/api/scan-bookshelf/batch", a.handleScanBookshelfBatch)
		g.Post("/api/import/csv-gemini", a.handleCSVImport)
		g.Post("/api/token/refresh", a.handleTokenRefresh)
	})

	// Reconnect catch-up and the WebSocket itself stay un-throttled so a
	// client that burned its window on submissions can still observe its
	// jobs.
	mux.Get("/api/job-state/{jobId}", a.handleJobState)
	mux.Get("/ws/progress", serveProgressSocket(a.registry))

	// A batch scan carries up to maxPhotos images in one JSON body, base64
	// inflated by 4/3.
	maxBody := a.scanBodyBudget()
	if a.maxCSV > maxBody {
		maxBody = a.maxCSV
	}

	handler := internal.Instrument(a.metrics, mux)
	handler = gzhttp.GzipHandler(handler)
	handler = middleware.RequestSize(maxBody)(handler)
	handler = middleware.RedirectSlashes(handler)
	handler = requestlogger{}.Wrap(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recoverer(handler)

	return handler
}

// scanBodyBudget is the request-body ceiling for a batch scan: maxPhotos
// raw images, base64 inflated by 4/3, plus slack for the JSON framing.
func (a *app) scanBodyBudget() int64 {
	return a.maxImage*int64(a.maxPhotos)*4/3 + (1 << 20)
}

// rateLimit enforces a fixed window per client IP. Fail-open: a
// limiter that cannot make a decision never blocks a request.
func (a *app) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		clientID := clientIdentity(r)
		decision := a.limiter.Check(r.Context(), clientID)
		if !decision.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
			writeError(w, internal.Wrap(internal.KindRateLimited, "RATE_LIMITED", "too many requests",
				nil).WithRetryAfter(decision.RetryAfter).WithDetails(map[string]any{
				"retry_after": decision.RetryAfter.Seconds(),
			}))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIdentity(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]any{
		"status": "ok",
		"endpoints": []string{
			"/v1/search/title", "/v1/search/isbn", "/v1/search/advanced",
			"/v1/enrichment/batch", "/api/scan-bookshelf", "/api/scan-bookshelf/batch",
			"/api/import/csv-gemini", "/api/token/refresh", "/api/job-state/{jobId}",
			"/ws/progress", "/metrics",
		},
	}, nil)
}

func (a *app) handleMetrics(w http.ResponseWriter, r *http.Request) {
	internal.PrometheusHandler(a.metrics).ServeHTTP(w, r)
}

// searchMeta stamps a search response's provenance into the envelope.
func searchMeta(m internal.ProviderMeta, start time.Time) *responseMeta {
	return &responseMeta{
		ProcessingTime: time.Since(start).Milliseconds(),
		Provider:       m.Provider,
		Cached:         m.Cached,
	}
}

func (a *app) handleSearchTitle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	title := q.Get("q")
	if title == "" {
		writeError(w, internal.NewError(internal.KindValidation, "MISSING_QUERY", "q is required"))
		return
	}
	max := atoiOr(q.Get("maxResults"), 20)

	start := time.Now()
	resp, m, err := a.engine.EnrichMany(r.Context(), internal.EnrichQuery{Title: title, Max: max})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, resp, searchMeta(m, start))
}

func (a *app) handleSearchISBN(w http.ResponseWriter, r *http.Request) {
	isbn := r.URL.Query().Get("isbn")
	if !internal.ValidISBN(isbn) {
		writeError(w, internal.Wrap(internal.KindValidation, "INVALID_ISBN", "isbn checksum is invalid", internal.ErrInvalidISBN))
		return
	}
	start := time.Now()
	resp, m, err := a.engine.EnrichMany(r.Context(), internal.EnrichQuery{ISBN: isbn, Max: 1})
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, resp, searchMeta(m, start))
}

func (a *app) handleSearchAdvanced(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	title, author := q.Get("title"), q.Get("author")
	if title == "" && author == "" {
		writeError(w, internal.NewError(internal.KindValidation, "MISSING_QUERY", "title or author is required"))
		return
	}
	max := atoiOr(q.Get("maxResults"), 20)

	start := time.Now()
	resp, m, err := a.engine.EnrichMany(r.Context(), internal.EnrichQuery{Title: title, Author: author, Max: max})
	if err != nil {
		writeError(w, err)
		return
	}

	// An uncached author lookup is a warming candidate: queue the author so
	// their other works are pre-fetched off the request path.
	if author != "" && !m.Cached && a.queue != nil {
		if qerr := a.queue.Enqueue(r.Context(), author); qerr != nil {
			internal.Log(r.Context()).Warn("enqueuing author warm", "author", author, "err", qerr)
		}
	}

	writeData(w, http.StatusOK, resp, searchMeta(m, start))
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

type batchEnrichmentRequest struct {
	Books []internal.BookQuery `json:"books"`
}

type jobAcceptedResponse struct {
	JobID      string `json:"jobId"`
	Token      string `json:"token"`
	TotalCount int    `json:"totalCount"`
}

func (a *app) handleBatchEnrichment(w http.ResponseWriter, r *http.Request) {
	var req batchEnrichmentRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	books, err := internal.ValidateBatch(req.Books)
	if err != nil {
		writeError(w, err)
		return
	}

	job, token := a.reserveJob(r.Context(), internal.PipelineBatchEnrichment, len(books))
	go internal.RunBatchEnrichment(context.Background(), job, a.engine, books)

	writeData(w, http.StatusAccepted, jobAcceptedResponse{JobID: job.ID(), Token: token, TotalCount: len(books)}, nil)
}

// reserveJob implements the shared pipeline skeleton's setup steps: reserve
// a coordinator, bind its auth token, and hand back both to the caller so
// it can respond 202 before the pipeline runs in the background.
func (a *app) reserveJob(ctx context.Context, pipeline internal.PipelineKind, total int) (*internal.Job, string) {
	job := a.registry.Create(ctx, pipeline, total)
	now := time.Now()
	token := uuid.NewString()
	job.SetAuthToken(ctx, token, now)
	return job, token
}

func (a *app) handleScanBookshelf(w http.ResponseWriter, r *http.Request) {
	if !isImageContentType(r.Header.Get("Content-Type")) {
		writeError(w, internal.NewError(internal.KindValidation, "INVALID_CONTENT_TYPE", "expected image/*"))
		return
	}
	data, err := readLimited(r.Body, a.maxImage)
	if err != nil {
		writeError(w, err)
		return
	}

	job, token := a.reserveJob(r.Context(), internal.PipelineAIScan, 1)
	go internal.RunBookshelfScan(context.Background(), job, a.quality, a.vision, a.engine, data)

	writeData(w, http.StatusAccepted, jobAcceptedResponse{JobID: job.ID(), Token: token, TotalCount: 1}, nil)
}

type scanBatchRequest struct {
	Images []internal.PhotoInput `json:"images"`
}

func (a *app) handleScanBookshelfBatch(w http.ResponseWriter, r *http.Request) {
	// The 2MiB JSON cap is far too small for base64-encoded photos; size
	// this body to the photo budget instead.
	data, err := readLimited(r.Body, a.scanBodyBudget())
	if err != nil {
		writeError(w, err)
		return
	}
	var req scanBatchRequest
	if err := sonic.Unmarshal(data, &req); err != nil {
		writeError(w, internal.Wrap(internal.KindValidation, "INVALID_BODY", "malformed request body", err))
		return
	}
	if len(req.Images) == 0 || len(req.Images) > a.maxPhotos {
		writeError(w, internal.Wrap(internal.KindValidation, "TOO_MANY_PHOTOS", "images must be between 1 and 5", internal.ErrTooManyPhotos))
		return
	}
	for _, img := range req.Images {
		if int64(len(img.Data)) > a.maxImage {
			writeError(w, internal.NewPayloadTooLarge())
			return
		}
	}

	job, token := a.reserveJob(r.Context(), internal.PipelineBatchAIScan, len(req.Images))
	go internal.RunBatchBookshelfScan(context.Background(), job, a.quality, a.vision, a.engine, req.Images)

	writeData(w, http.StatusAccepted, jobAcceptedResponse{JobID: job.ID(), Token: token, TotalCount: len(req.Images)}, nil)
}

func (a *app) handleCSVImport(w http.ResponseWriter, r *http.Request) {
	data, err := readLimited(r.Body, a.maxCSV)
	if err != nil {
		writeError(w, err)
		return
	}

	job, token := a.reserveJob(r.Context(), internal.PipelineCSVImport, 0)
	// Stage the raw bytes on the coordinator so the parse can run after this
	// handler has returned and survives a restart in the meantime.
	job.StageInput(r.Context(), data)
	go internal.RunCSVImport(context.Background(), job, a.csv, a.engine, data)

	writeData(w, http.StatusAccepted, jobAcceptedResponse{JobID: job.ID(), Token: token, TotalCount: 0}, nil)
}

type tokenRefreshRequest struct {
	JobID string `json:"jobId"`
	Token string `json:"token"`
}

func (a *app) handleTokenRefresh(w http.ResponseWriter, r *http.Request) {
	var req tokenRefreshRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	job, ok := a.registry.Get(req.JobID)
	if !ok {
		writeError(w, internal.Wrap(internal.KindNotFound, "UNKNOWN_JOB", "job not found", internal.ErrUnknownJob).WithStatus(http.StatusNotFound))
		return
	}
	newToken, err := job.RefreshAuthToken(r.Context(), req.Token, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, internal.AuthToken{Token: newToken, ExpiresAt: time.Now().Add(2 * time.Hour)}, nil)
}

func (a *app) handleJobState(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	job, ok := a.registry.Get(jobID)
	if !ok {
		writeError(w, internal.Wrap(internal.KindNotFound, "UNKNOWN_JOB", "job not found", internal.ErrUnknownJob).WithStatus(http.StatusNotFound))
		return
	}
	snap := job.Snapshot()
	snap.Token = "" // Never echo the credential back to an unauthenticated poll.
	writeData(w, http.StatusOK, snap, nil)
}

const maxJSONBodyBytes = 2 << 20

func decodeJSONBody(r *http.Request, out any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBodyBytes+1))
	if err != nil {
		return internal.Wrap(internal.KindInternal, "INTERNAL", "reading request body", err)
	}
	if len(data) > maxJSONBodyBytes {
		return internal.NewPayloadTooLarge()
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return internal.Wrap(internal.KindValidation, "INVALID_BODY", "malformed request body", err)
	}
	return nil
}

func isImageContentType(ct string) bool {
	return len(ct) >= 6 && ct[:6] == "image/"
}

func readLimited(body io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, max+1))
	if err != nil {
		return nil, internal.Wrap(internal.KindInternal, "INTERNAL", "reading request body", err)
	}
	if int64(len(data)) > max {
		return nil, internal.NewPayloadTooLarge()
	}
	return data, nil
}
