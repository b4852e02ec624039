package internal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// authTokenTTL and authRefreshWindow govern WebSocket credential rotation:
// a token is valid for authTokenTTL from issuance, and may only be
// refreshed in the last authRefreshWindow of that lifetime.
const (
	authTokenTTL      = 2 * time.Hour
	authRefreshWindow = 30 * time.Minute
	defaultCleanupTTL = 24 * time.Hour
)

// Conn abstracts the one WebSocket peer a Job may have attached at a time,
// so this package never imports gorilla/websocket directly (that lives at
// the edge, alongside the HTTP upgrade handshake).
type Conn interface {
	Send(Envelope) error
	Close(code int, reason string) error
}

// Job is the single-writer-per-job coordinator. Every exported
// method takes the job's mutex for its synchronous part; the slow parts
// (durable persistence, the wire send) happen outside the lock so a slow
// client or a slow database never blocks a sibling goroutine's progress
// report.
type Job struct {
	mu sync.Mutex

	id       string
	pipeline PipelineKind
	status   JobStatus
	total    int
	processed int
	createdAt time.Time
	updatedAt time.Time
	result    any
	version   int64

	token          string
	tokenExpiresAt time.Time
	refreshing     bool

	photos          []Photo
	cancelRequested bool
	stagedInput     []byte

	conn             Conn
	lastProgress     *Envelope
	terminalEnvelope *Envelope

	throttle *throttleGate
	push     func(Envelope)
	closeOut func()

	store        JobStore
	cleanupAfter time.Duration
	cleanupTimer *time.Timer
	onAlarm      func(id string)
	metrics      *jobMetrics

	readyCh   chan struct{}
	readyOnce sync.Once
}

// newJob constructs an in-memory coordinator. Callers go through Registry,
// which owns id generation and persistence wiring.
func newJob(id string, pipeline PipelineKind, total int, store JobStore, cleanupAfter time.Duration, onAlarm func(string), metrics *jobMetrics) *Job {
	if cleanupAfter <= 0 {
		cleanupAfter = defaultCleanupTTL
	}
	now := time.Now()
	push, out, closeOut := newBroadcastQueue()
	j := &Job{
		id:           id,
		pipeline:     pipeline,
		status:       JobInitializing,
		total:        total,
		createdAt:    now,
		updatedAt:    now,
		throttle:     newThrottleGate(pipeline),
		push:         push,
		closeOut:     closeOut,
		store:        store,
		cleanupAfter: cleanupAfter,
		onAlarm:      onAlarm,
		metrics:      metrics,
		readyCh:      make(chan struct{}),
	}
	go j.runWriter(out)
	return j
}

// runWriter drains the throttled broadcast queue and forwards every
// envelope to whichever Conn is currently attached, dropping the message
// (but never the underlying state, which is already persisted) when no
// client is attached. It exits once a terminal envelope has been sent.
func (j *Job) runWriter(out <-chan Envelope) {
	for env := range out {
		conn := j.currentConn()
		if conn == nil {
			continue
		}
		if err := conn.Send(env); err != nil {
			continue
		}
		if env.Type == "complete" || env.Type == "failed" || env.Type == "canceled" {
			_ = conn.Close(1000, "job finished")
		}
	}
}

func (j *Job) currentConn() Conn {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.conn
}

func (j *Job) broadcast(env Envelope) {
	j.push(env)
}

// ID returns the job's identifier.
func (j *Job) ID() string { return j.id }

// Init persists the job's initial state. Registry calls this immediately
// after construction.
func (j *Job) Init(ctx context.Context) {
	state := j.Snapshot()
	j.persistBestEffort(ctx, state)
}

// SetAuthToken binds the rotating WebSocket credential issued alongside the
// job's HTTP response.
func (j *Job) SetAuthToken(ctx context.Context, token string, now time.Time) {
	j.mu.Lock()
	j.token = token
	j.tokenExpiresAt = now.Add(authTokenTTL)
	j.updatedAt = now
	state := j.snapshotLocked()
	j.mu.Unlock()
	j.persistBestEffort(ctx, state)
}

// AttachWebSocket validates token ownership and binds conn as the job's
// sole WebSocket peer, replaying the most recent progress/terminal
// envelopes so a reconnecting client catches up.
func (j *Job) AttachWebSocket(token string, conn Conn) error {
	now := time.Now()
	j.mu.Lock()
	if !j.tokenValidLocked(token, now) {
		j.mu.Unlock()
		return Wrap(KindAuth, "INVALID_TOKEN", "token does not match this job", ErrInvalidToken)
	}
	j.conn = conn
	progress := j.lastProgress
	terminal := j.terminalEnvelope
	j.mu.Unlock()

	if progress != nil {
		_ = conn.Send(*progress)
	}
	if terminal != nil {
		_ = conn.Send(*terminal)
	}
	return nil
}

func (j *Job) tokenValidLocked(token string, now time.Time) bool {
	return token != "" && token == j.token && now.Before(j.tokenExpiresAt)
}

// ClientReady handles the client's {"type":"ready"} handshake message: the
// first one transitions initializing -> ready and unblocks WaitForReady;
// later ones (reconnects) just re-acknowledge.
func (j *Job) ClientReady(ctx context.Context) {
	j.mu.Lock()
	first := j.status == JobInitializing
	if first {
		j.status = JobReady
		j.version++
		j.updatedAt = time.Now()
	}
	env := Envelope{Type: "ready_ack", JobID: j.id, Pipeline: j.pipeline, Version: j.version, Timestamp: j.updatedAt}
	state := j.snapshotLocked()
	j.mu.Unlock()

	if first {
		j.persistBestEffort(ctx, state)
		j.readyOnce.Do(func() { close(j.readyCh) })
	}
	j.broadcast(env)
}

// WaitForReady blocks until the client acknowledges readiness, the context
// is canceled, or timeout elapses.
func (j *Job) WaitForReady(ctx context.Context, timeout time.Duration) error {
	select {
	case <-j.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return Wrap(KindInternal, "READY_TIMEOUT", "client never acknowledged readiness", nil)
	}
}

// progressPayload is the WebSocket payload shape for a "progress" envelope.
type progressPayload struct {
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Label     string `json:"label,omitempty"`
	Detail    any    `json:"detail,omitempty"`
}

// PushProgress records an observable advance toward total. A call that
// reaches total always bypasses the per-pipeline throttle: the final update
// always reaches the client immediately.
func (j *Job) PushProgress(ctx context.Context, processed int, label string, detail any) {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return
	}
	transitioned := j.status == JobReady
	if transitioned {
		j.status = JobProcessing
	}
	j.processed = processed
	j.updatedAt = time.Now()
	j.version++
	final := j.total > 0 && processed >= j.total
	allow := j.throttle.Allow(j.updatedAt, final)
	env := Envelope{
		Type: "progress", JobID: j.id, Pipeline: j.pipeline, Version: j.version, Timestamp: j.updatedAt,
		Payload: progressPayload{Processed: processed, Total: j.total, Label: label, Detail: detail},
	}
	if allow {
		j.lastProgress = &env
	}
	state := j.snapshotLocked()
	j.mu.Unlock()

	if !allow {
		// A throttled update still persists the ready -> processing
		// transition, so a resumed job does not come back as ready.
		if transitioned {
			j.persistBestEffort(ctx, state)
		}
		return
	}
	j.persistBestEffort(ctx, state)
	j.broadcast(env)
}

// UpdatePhoto records a per-image outcome for the batch bookshelf-scan
// pipeline. index is the photo's position in the original batch.
func (j *Job) UpdatePhoto(ctx context.Context, index int, status PhotoStatus, booksFound int, errMsg string) {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return
	}
	for i := range j.photos {
		if j.photos[i].Index == index {
			j.photos[i].Status = status
			j.photos[i].BooksFound = booksFound
			j.photos[i].ErrorMessage = errMsg
		}
	}
	total := 0
	for _, p := range j.photos {
		total += p.BooksFound
	}
	j.updatedAt = time.Now()
	j.version++
	final := status != PhotoQueued && status != PhotoProcessing && allPhotosDone(j.photos)
	allow := j.throttle.Allow(j.updatedAt, final)
	env := Envelope{
		Type: "progress", JobID: j.id, Pipeline: j.pipeline, Version: j.version, Timestamp: j.updatedAt,
		Payload: photoProgressPayload{Photos: append([]Photo{}, j.photos...), TotalBooksFound: total},
	}
	if allow {
		j.lastProgress = &env
	}
	state := j.snapshotLocked()
	j.mu.Unlock()

	if !allow {
		return
	}
	j.persistBestEffort(ctx, state)
	j.broadcast(env)
}

type photoProgressPayload struct {
	Photos          []Photo `json:"photos"`
	TotalBooksFound int     `json:"totalBooksFound"`
}

func allPhotosDone(photos []Photo) bool {
	for _, p := range photos {
		if p.Status == PhotoQueued || p.Status == PhotoProcessing {
			return false
		}
	}
	return true
}

// SetPhotos seeds the batch-scan photo list before processing begins.
func (j *Job) SetPhotos(photos []Photo) {
	j.mu.Lock()
	j.photos = photos
	j.mu.Unlock()
}

// SetTotal records the item count for pipelines that only learn it after
// acceptance (CSV import discovers its row count at parse time).
func (j *Job) SetTotal(ctx context.Context, total int) {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return
	}
	j.total = total
	j.updatedAt = time.Now()
	j.version++
	state := j.snapshotLocked()
	j.mu.Unlock()
	j.persistBestEffort(ctx, state)
}

// StageInput parks raw pipeline input (the uploaded CSV bytes) on the
// coordinator so the HTTP handler can return 202 immediately and the
// staged bytes survive a restart until the pipeline consumes them.
func (j *Job) StageInput(ctx context.Context, data []byte) {
	j.mu.Lock()
	j.stagedInput = data
	j.updatedAt = time.Now()
	j.version++
	state := j.snapshotLocked()
	j.mu.Unlock()
	j.persistBestEffort(ctx, state)
}

// StagedInput returns the bytes parked by StageInput.
func (j *Job) StagedInput() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stagedInput
}

// Complete transitions the job to its terminal success state. Idempotent:
// calling it again on an already-terminal job is a no-op.
func (j *Job) Complete(ctx context.Context, result any) {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return
	}
	j.status = JobComplete
	j.processed = j.total
	j.result = result
	j.stagedInput = nil // Terminal state never re-persists staged input.
	j.updatedAt = time.Now()
	j.version++
	env := Envelope{Type: "complete", JobID: j.id, Pipeline: j.pipeline, Version: j.version, Timestamp: j.updatedAt, Payload: result}
	j.terminalEnvelope = &env
	state := j.snapshotLocked()
	j.mu.Unlock()

	j.persistTerminalWithRetry(state)
	j.broadcast(env)
	j.closeOut()
	j.scheduleCleanup()
	if j.metrics != nil {
		j.metrics.terminalInc(j.pipeline, JobComplete)
	}
}

type failurePayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Fail transitions the job to its terminal failure state.
func (j *Job) Fail(ctx context.Context, code, message string) {
	j.mu.Lock()
	if j.status.Terminal() {
		j.mu.Unlock()
		return
	}
	j.status = JobFailed
	j.stagedInput = nil
	j.updatedAt = time.Now()
	j.version++
	env := Envelope{
		Type: "failed", JobID: j.id, Pipeline: j.pipeline, Version: j.version, Timestamp: j.updatedAt,
		Payload: failurePayload{Code: code, Message: message},
	}
	j.terminalEnvelope = &env
	state := j.snapshotLocked()
	j.mu.Unlock()

	j.persistTerminalWithRetry(state)
	j.broadcast(env)
	j.closeOut()
	j.scheduleCleanup()
	if j.metrics != nil {
		j.metrics.terminalInc(j.pipeline, JobFailed)
	}
}

// Cancel requests cancellation. It transitions straight to the terminal
// canceled state: pipelines observe the request cooperatively via
// IsCanceled and stop at their next checkpoint without calling Complete.
// Safe to call more than once.
func (j *Job) Cancel(ctx context.Context, reason string) {
	j.mu.Lock()
	j.cancelRequested = true
	if j.status.Terminal() {
		j.mu.Unlock()
		return
	}
	j.status = JobCanceled
	j.stagedInput = nil
	j.updatedAt = time.Now()
	j.version++
	env := Envelope{
		Type: "canceled", JobID: j.id, Pipeline: j.pipeline, Version: j.version, Timestamp: j.updatedAt,
		Payload: failurePayload{Code: "CANCELED", Message: reason},
	}
	j.terminalEnvelope = &env
	state := j.snapshotLocked()
	j.mu.Unlock()

	j.persistTerminalWithRetry(state)
	j.broadcast(env)
	j.closeOut()
	j.scheduleCleanup()
	if j.metrics != nil {
		j.metrics.terminalInc(j.pipeline, JobCanceled)
	}
}

// IsCanceled reports whether a pipeline should stop at its next checkpoint.
func (j *Job) IsCanceled() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cancelRequested || j.status == JobCanceled
}

// RefreshAuthToken rotates the job's WebSocket credential. Only one refresh
// may be in flight per job; a concurrent attempt observes
// ErrRefreshInProgress rather than blocking.
func (j *Job) RefreshAuthToken(ctx context.Context, old string, now time.Time) (string, error) {
	j.mu.Lock()
	if j.refreshing {
		j.mu.Unlock()
		return "", Wrap(KindAuth, "REFRESH_IN_PROGRESS", "a refresh is already in flight", ErrRefreshInProgress)
	}
	if old == "" || old != j.token {
		j.mu.Unlock()
		return "", Wrap(KindAuth, "INVALID_TOKEN", "token does not match this job", ErrInvalidToken)
	}
	if now.Before(j.tokenExpiresAt.Add(-authRefreshWindow)) {
		j.mu.Unlock()
		return "", Wrap(KindValidation, "REFRESH_TOO_EARLY", "refresh window has not opened yet", ErrRefreshTooEarly)
	}
	if now.After(j.tokenExpiresAt) {
		j.mu.Unlock()
		return "", Wrap(KindAuth, "TOKEN_EXPIRED", "token has already expired", ErrTokenExpired)
	}
	j.refreshing = true
	j.mu.Unlock()

	newToken := uuid.NewString()
	newExpiry := now.Add(authTokenTTL)

	j.mu.Lock()
	j.token = newToken
	j.tokenExpiresAt = newExpiry
	j.updatedAt = now
	j.version++
	env := Envelope{
		Type: "token_rotated", JobID: j.id, Pipeline: j.pipeline, Version: j.version, Timestamp: now,
		Payload: AuthToken{Token: newToken, ExpiresAt: newExpiry},
	}
	state := j.snapshotLocked()
	j.refreshing = false
	j.mu.Unlock()

	j.persistBestEffort(ctx, state)
	j.broadcast(env)
	return newToken, nil
}

// Snapshot returns a read-only copy of the job's observable state, the
// payload for GET /api/job-state/{jobId}.
func (j *Job) Snapshot() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() JobState {
	return JobState{
		ID: j.id, Pipeline: j.pipeline, Status: j.status, Total: j.total, Processed: j.processed,
		CreatedAt: j.createdAt, UpdatedAt: j.updatedAt, Result: j.result, Version: j.version,
		Token: j.token, TokenExpiresAt: j.tokenExpiresAt, Photos: append([]Photo{}, j.photos...),
		CancelRequested: j.cancelRequested, StagedInput: j.stagedInput,
	}
}

// persistBestEffort writes non-terminal state, retrying once before giving
// up with a log line: a dropped mid-flight progress write just means a
// crash-recovery resume picks up slightly stale progress, which is
// harmless since the pipeline itself is still running in memory.
func (j *Job) persistBestEffort(ctx context.Context, state JobState) {
	if j.store == nil {
		return
	}
	if err := j.store.Save(ctx, state); err != nil {
		if err = j.store.Save(ctx, state); err != nil {
			Log(ctx).Warn("persisting job state", "job", j.id, "err", err)
		}
	}
}

// persistTerminalWithRetry persists a terminal state with unbounded
// retries on a detached goroutine: a terminal outcome must eventually
// land durably even if the database is
// briefly unreachable, but the caller (a pipeline goroutine) must not
// block on that — it broadcasts the terminal envelope right after and is
// done.
func (j *Job) persistTerminalWithRetry(state JobState) {
	if j.store == nil {
		return
	}
	go func() {
		ctx := context.Background()
		backoff := time.Second
		const maxBackoff = 30 * time.Second
		for {
			if err := j.store.Save(ctx, state); err == nil {
				return
			}
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}()
}

// scheduleCleanup arms the 24h alarm that deletes persisted terminal state.
// Triggered only on the transition into a terminal status, never
// re-armed on subsequent reads.
func (j *Job) scheduleCleanup() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cleanupTimer != nil {
		return
	}
	j.cleanupTimer = time.AfterFunc(j.cleanupAfter, func() {
		j.OnAlarm(context.Background())
	})
}

// OnAlarm deletes the job's persisted state and evicts it from its
// registry. Exported so tests and Registry can trigger it directly instead
// of waiting out the real timer.
func (j *Job) OnAlarm(ctx context.Context) {
	if j.store != nil {
		if err := j.store.Delete(ctx, j.id); err != nil {
			Log(ctx).Warn("deleting terminal job state", "job", j.id, "err", err)
		}
	}
	if j.onAlarm != nil {
		j.onAlarm(j.id)
	}
}

// hydrate restores a resumed job's in-memory state from a durable
// snapshot, for restart survival. Called once, before the job is made
// addressable in the registry.
func (j *Job) hydrate(state JobState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = state.Status
	j.processed = state.Processed
	j.createdAt = state.CreatedAt
	j.updatedAt = state.UpdatedAt
	j.result = state.Result
	j.version = state.Version
	j.token = state.Token
	j.tokenExpiresAt = state.TokenExpiresAt
	j.photos = state.Photos
	j.cancelRequested = state.CancelRequested
	j.stagedInput = state.StagedInput
	if state.Status != JobInitializing {
		j.readyOnce.Do(func() { close(j.readyCh) })
	}
}

// newJobID generates a job identifier. Broken out so Registry/tests can
// stub it if ever needed; today it is a direct passthrough.
func newJobID() string { return uuid.NewString() }
