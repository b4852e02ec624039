package internal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	queueFlushSize   = 10
	queueFlushWindow = 30 * time.Second
	queueConcurrency = 5
	queueMaxRetries  = 3
	markerTTL        = 90 * 24 * time.Hour
)

// warmMessage is one author cache-warming request on the wire.
type warmMessage struct {
	Author  string `json:"author"`
	Retries int    `json:"retries"`
}

// QueueConsumer drains author cache-warming requests (§4.9), coalescing
// duplicates that arrive inside one flush window into a single upstream
// round trip — the same shape as a worker pool draining a bounded job
// queue, adapted here to poll Redis instead of an in-process channel since
// the producer (the HTTP layer, enqueuing on cache-miss) lives in a
// different process.
type QueueConsumer struct {
	client        *redis.Client
	engine        *Engine
	cache         *UnifiedCache
	queueKey      string
	deadLetterKey string
	metrics       *queueMetrics
}

func NewQueueConsumer(client *redis.Client, engine *Engine, cache *UnifiedCache, queueKey, deadLetterKey string, reg *prometheus.Registry) *QueueConsumer {
	if queueKey == "" {
		queueKey = "rgbooks:warm"
	}
	if deadLetterKey == "" {
		deadLetterKey = "rgbooks:warm:dead"
	}
	return &QueueConsumer{client: client, engine: engine, cache: cache, queueKey: queueKey, deadLetterKey: deadLetterKey, metrics: newQueueMetrics(reg)}
}

// Enqueue pushes an author-warming request, called from the request path
// on a cache miss that looks worth pre-warming.
func (q *QueueConsumer) Enqueue(ctx context.Context, author string) error {
	payload, err := sonic.Marshal(warmMessage{Author: author})
	if err != nil {
		return Wrap(KindInternal, "INTERNAL", "encoding warm message", err)
	}
	if err := q.client.LPush(ctx, q.queueKey, payload).Err(); err != nil {
		return Wrap(KindInternal, "INTERNAL", "enqueuing warm message", err)
	}
	return nil
}

// Run polls the queue until ctx is canceled, draining up to
// queueFlushSize messages (or queueFlushWindow, whichever comes first)
// per batch and dispatching the coalesced set with queueConcurrency
// workers in flight.
func (q *QueueConsumer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		batch := q.pollBatch(ctx)
		if len(batch) == 0 {
			continue
		}

		coalesced := coalesceByAuthor(batch)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(queueConcurrency)
		for author, msg := range coalesced {
			author, msg := author, msg
			g.Go(func() error {
				q.process(gctx, author, msg)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// pollBatch reads up to queueFlushSize messages, waiting at most
// queueFlushWindow for the batch as a whole.
func (q *QueueConsumer) pollBatch(ctx context.Context) []warmMessage {
	var batch []warmMessage

	deadline := time.Now().Add(queueFlushWindow)
	for len(batch) < queueFlushSize && time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		result, err := q.client.BRPop(ctx, remaining, q.queueKey).Result()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return batch
			}
			Log(ctx).Warn("polling warm queue", "err", err)
			time.Sleep(time.Second)
			continue
		}
		var msg warmMessage
		if len(result) == 2 && sonic.Unmarshal([]byte(result[1]), &msg) == nil {
			batch = append(batch, msg)
		}
	}
	return batch
}

// coalesceByAuthor collapses duplicate requests for the same author
// within one batch into a single message, keeping the highest retry
// count seen so a previously-retried message is not silently reset.
func coalesceByAuthor(batch []warmMessage) map[string]warmMessage {
	out := make(map[string]warmMessage, len(batch))
	for _, msg := range batch {
		existing, ok := out[msg.Author]
		if !ok || msg.Retries > existing.Retries {
			out[msg.Author] = msg
		}
	}
	return out
}

func (q *QueueConsumer) process(ctx context.Context, author string, msg warmMessage) {
	markerKey := "warm_marker:" + FoldKey(author)
	if _, _, ok := q.cache.Get(ctx, markerKey); ok {
		q.metrics.outcomeInc("skipped")
		return
	}

	resp, err := q.engine.EnrichFromAll(ctx, EnrichQuery{Author: author, Max: 20})
	if err != nil {
		typed := AsTyped(err)
		if typed.Kind.retryable() && msg.Retries < queueMaxRetries {
			q.requeue(ctx, author, msg.Retries+1)
			q.metrics.outcomeInc("retried")
			return
		}
		q.deadLetter(ctx, author, msg.Retries, typed.Message)
		q.metrics.outcomeInc("dead_lettered")
		return
	}

	q.warmTitles(ctx, resp)

	if err := q.cache.Put(ctx, markerKey, []byte("1"), markerTTL, 1.0, "queue"); err != nil {
		Log(ctx).Warn("writing warm marker", "author", author, "err", err)
	}
	q.metrics.outcomeInc("warmed")
}

// warmTitles fans out a searchByTitle call per work the author lookup
// surfaced, tolerating individual title failures (§4.9).
func (q *QueueConsumer) warmTitles(ctx context.Context, resp NormalizedResponse) {
	var wg sync.WaitGroup
	for _, w := range resp.Works {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := q.engine.EnrichMany(ctx, EnrichQuery{Title: w.Title, Max: 5}); err != nil {
				Log(ctx).Warn("warming title", "title", w.Title, "err", err)
			}
		}()
	}
	wg.Wait()
}

func (q *QueueConsumer) requeue(ctx context.Context, author string, retries int) {
	payload, err := sonic.Marshal(warmMessage{Author: author, Retries: retries})
	if err != nil {
		return
	}
	if err := q.client.LPush(ctx, q.queueKey, payload).Err(); err != nil {
		Log(ctx).Warn("requeuing warm message", "author", author, "err", err)
	}
}

func (q *QueueConsumer) deadLetter(ctx context.Context, author string, retries int, reason string) {
	payload, err := sonic.Marshal(map[string]any{"author": author, "retries": retries, "reason": reason})
	if err != nil {
		return
	}
	if err := q.client.LPush(ctx, q.deadLetterKey, payload).Err(); err != nil {
		Log(ctx).Warn("dead-lettering warm message", "author", author, "err", err)
	}
}
