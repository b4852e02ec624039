package internal

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
)

const registryShards = 64

// registryShard is one of Registry's lock-striped buckets, the same
// sharding idiom ratelimit.go uses for its per-client counters.
type registryShard struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// Registry is the addressable, in-process home for every live Job
// coordinator. A job is created once per pipeline invocation and
// looked up by id for the rest of its life (HTTP status polls, WebSocket
// attach, cancellation).
type Registry struct {
	shards       []*registryShard
	store        JobStore
	cleanupAfter time.Duration
	metrics      *jobMetrics
}

func NewRegistry(store JobStore, cleanupAfter time.Duration, reg *prometheus.Registry) *Registry {
	r := &Registry{store: store, cleanupAfter: cleanupAfter, metrics: newJobMetrics(reg)}
	r.shards = make([]*registryShard, registryShards)
	for i := range r.shards {
		r.shards[i] = &registryShard{jobs: map[string]*Job{}}
	}
	return r
}

func (r *Registry) shardFor(id string) *registryShard {
	return r.shards[xxhash.Sum64String(id)%uint64(len(r.shards))]
}

// Create allocates a new Job, registers it, and persists its initial
// state.
func (r *Registry) Create(ctx context.Context, pipeline PipelineKind, total int) *Job {
	id := newJobID()
	job := newJob(id, pipeline, total, r.store, r.cleanupAfter, r.evict, r.metrics)

	shard := r.shardFor(id)
	shard.mu.Lock()
	shard.jobs[id] = job
	shard.mu.Unlock()

	job.Init(ctx)
	return job
}

// Get looks up a live job by id.
func (r *Registry) Get(id string) (*Job, bool) {
	shard := r.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	job, ok := shard.jobs[id]
	return job, ok
}

func (r *Registry) evict(id string) {
	shard := r.shardFor(id)
	shard.mu.Lock()
	delete(shard.jobs, id)
	shard.mu.Unlock()
}

// Resume reloads every non-terminal job from the durable store after a
// restart, so a client polling /api/job-state/{jobId} or reattaching a
// WebSocket does not see a spurious unknown_job. Resumed jobs carry
// no attached Conn and no in-flight pipeline goroutine: a pipeline that
// was mid-flight at crash time is not automatically restarted, so a
// resumed job effectively stalls in its last-known status until an
// operator intervenes or its cleanup alarm is manually re-armed. This
// mirrors the Open Question decision to not attempt pipeline replay.
func (r *Registry) Resume(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	states, err := r.store.LoadNonTerminal(ctx)
	if err != nil {
		return err
	}
	for _, state := range states {
		job := newJob(state.ID, state.Pipeline, state.Total, r.store, r.cleanupAfter, r.evict, r.metrics)
		job.hydrate(state)
		shard := r.shardFor(state.ID)
		shard.mu.Lock()
		shard.jobs[state.ID] = job
		shard.mu.Unlock()
	}
	return nil
}
