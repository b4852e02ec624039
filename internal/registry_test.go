package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCreateGetEvict(t *testing.T) {
	store := newMemJobStore()
	reg := NewRegistry(store, time.Hour, nil)

	job := reg.Create(context.Background(), PipelineBatchEnrichment, 5)
	require.NotEmpty(t, job.ID())

	got, ok := reg.Get(job.ID())
	require.True(t, ok)
	assert.Same(t, job, got)

	reg.evict(job.ID())
	_, ok = reg.Get(job.ID())
	assert.False(t, ok, "an evicted job must no longer be reachable")
}

func TestRegistryGetUnknownID(t *testing.T) {
	reg := NewRegistry(newMemJobStore(), time.Hour, nil)
	_, ok := reg.Get("does-not-exist")
	assert.False(t, ok)
}

func TestRegistryResumeRehydratesNonTerminalJobs(t *testing.T) {
	store := newMemJobStore()

	seed := NewRegistry(store, time.Hour, nil)
	job := seed.Create(context.Background(), PipelineBatchEnrichment, 2)
	job.ClientReady(context.Background())
	job.PushProgress(context.Background(), 1, "working", nil)
	require.Equal(t, JobProcessing, job.Snapshot().Status)

	reg := NewRegistry(store, time.Hour, nil)
	require.NoError(t, reg.Resume(context.Background()))

	resumed, ok := reg.Get(job.ID())
	require.True(t, ok, "a non-terminal job must be rehydrated from the store after resume")
	snap := resumed.Snapshot()
	assert.Equal(t, JobProcessing, snap.Status)
	assert.Equal(t, 2, snap.Total)
}

func TestRegistryResumeSkipsTerminalJobs(t *testing.T) {
	store := newMemJobStore()

	seed := NewRegistry(store, time.Hour, nil)
	job := seed.Create(context.Background(), PipelineBatchEnrichment, 1)
	job.Complete(context.Background(), "done")
	// Terminal persistence happens on a detached goroutine with retry;
	// give it a moment to land before reading the store back.
	time.Sleep(20 * time.Millisecond)

	reg := NewRegistry(store, time.Hour, nil)
	require.NoError(t, reg.Resume(context.Background()))

	_, ok := reg.Get(job.ID())
	assert.False(t, ok, "a completed job has no reason to be rehydrated into a fresh registry")
}

func TestRegistryResumeWithNilStoreIsNoop(t *testing.T) {
	reg := NewRegistry(nil, time.Hour, nil)
	assert.NoError(t, reg.Resume(context.Background()))
}
