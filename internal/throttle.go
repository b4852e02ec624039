package internal

import (
	"sync"
	"time"
)

// Envelope is the client-visible broadcast shape every WebSocket message
// uses.
type Envelope struct {
	Type      string       `json:"type"`
	JobID     string       `json:"jobId"`
	Pipeline  PipelineKind `json:"pipeline"`
	Version   int64        `json:"version"`
	Timestamp time.Time    `json:"timestamp"`
	Payload   any          `json:"payload,omitempty"`
}

// progressThrottle is the "every N updates or T seconds, whichever comes
// first" policy, expressed per pipeline.
type progressThrottle struct {
	everyN int
	everyT time.Duration
}

var throttlePolicies = map[PipelineKind]progressThrottle{
	PipelineBatchEnrichment: {everyN: 5, everyT: 10 * time.Second},
	PipelineCSVImport:       {everyN: 20, everyT: 30 * time.Second},
	PipelineAIScan:          {everyN: 1, everyT: 60 * time.Second},
	PipelineBatchAIScan:     {everyN: 1, everyT: 60 * time.Second},
}

func throttleFor(kind PipelineKind) progressThrottle {
	if p, ok := throttlePolicies[kind]; ok {
		return p
	}
	return progressThrottle{everyN: 1, everyT: 10 * time.Second}
}

// throttleGate decides, per job, whether a progress update should actually
// persist/broadcast. The final update of a pipeline always bypasses the
// gate.
type throttleGate struct {
	mu          sync.Mutex
	policy      progressThrottle
	sinceEmit   int
	lastEmitted time.Time
}

func newThrottleGate(kind PipelineKind) *throttleGate {
	return &throttleGate{policy: throttleFor(kind)}
}

// Allow reports whether this update should be emitted, and records the
// emission if so. final always allows and resets the gate.
func (g *throttleGate) Allow(now time.Time, final bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if final {
		g.sinceEmit = 0
		g.lastEmitted = now
		return true
	}

	if g.lastEmitted.IsZero() {
		// The interval clock starts at the gate's first update.
		g.lastEmitted = now
	}
	g.sinceEmit++
	if g.sinceEmit >= g.policy.everyN || now.Sub(g.lastEmitted) >= g.policy.everyT {
		g.sinceEmit = 0
		g.lastEmitted = now
		return true
	}
	return false
}

// envelopeBuffer is a FIFO bbuffer[Envelope] for accumulate(), so a job's
// outbound WebSocket writer never backs up an unbounded number of idle
// goroutines behind a slow client (adapted from buffer.go's slicebuffer,
// which is untyped for this purpose — a job's broadcast queue carries
// Envelope values, not edges).
type envelopeBuffer struct {
	mu    sync.Mutex
	items []Envelope
}

func (b *envelopeBuffer) push(e Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, e)
}

func (b *envelopeBuffer) pop() Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	e := b.items[0]
	b.items = b.items[1:]
	return e
}

func (b *envelopeBuffer) peek() (Envelope, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return Envelope{}, false
	}
	return b.items[0], true
}

func (b *envelopeBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

var _ bbuffer[Envelope] = (*envelopeBuffer)(nil)

// newBroadcastQueue wraps accumulate() around a fresh envelopeBuffer,
// giving a job's writer goroutine a channel that coalesces bursts of
// PushProgress calls instead of spawning per-message sends. push becomes a
// no-op once the queue is closed, so a late ready handshake on an
// already-terminal job cannot panic the coordinator.
func newBroadcastQueue() (push func(Envelope), out <-chan Envelope, closeQueue func()) {
	producer := make(chan Envelope)
	out = accumulate(producer, &envelopeBuffer{})

	var mu sync.Mutex
	closed := false
	push = func(e Envelope) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		producer <- e
	}
	closeQueue = func() {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		closed = true
		close(producer)
	}
	return push, out, closeQueue
}
