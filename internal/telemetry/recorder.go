// Package telemetry decouples API call logging from the request path.
//
// Producers hand records to a [Recorder], which never blocks and drops the
// oldest record when full. A single [Writer] drains the recorder in small
// batches and persists each batch in one transaction, so bursts of requests
// never become bursts of concurrent SQLite writers.
package telemetry

import (
	"sync"

	"github.com/bft-labs/claimship/internal/domain"
	"github.com/bft-labs/claimship/internal/metrics"
)

// DefaultQueueSize is the number of records held before the oldest is dropped.
const DefaultQueueSize = 1000

// Recorder is a bounded in-memory queue of API call records.
type Recorder struct {
	mu      sync.Mutex
	buf     []domain.APICall
	head    int
	size    int
	dropped uint64
	closed  bool

	// notify has capacity 1 and signals that records are waiting.
	notify chan struct{}
}

// NewRecorder creates a recorder holding at most capacity records.
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &Recorder{
		buf:    make([]domain.APICall, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Record enqueues c without blocking. When the queue is full the oldest
// record is dropped. Records arriving after Close are dropped.
func (r *Recorder) Record(c domain.APICall) {
	r.mu.Lock()
	if r.closed {
		r.dropped++
		r.mu.Unlock()
		metrics.APICallsDropped.Inc()
		return
	}

	dropped := false
	if r.size == len(r.buf) {
		r.head = (r.head + 1) % len(r.buf)
		r.size--
		r.dropped++
		dropped = true
	}
	r.buf[(r.head+r.size)%len(r.buf)] = c
	r.size++
	r.mu.Unlock()

	if dropped {
		metrics.APICallsDropped.Inc()
	}
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns up to max records in arrival order.
func (r *Recorder) Drain(max int) []domain.APICall {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.size
	if max > 0 && n > max {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]domain.APICall, n)
	for i := 0; i < n; i++ {
		idx := (r.head + i) % len(r.buf)
		out[i] = r.buf[idx]
		r.buf[idx] = domain.APICall{}
	}
	r.head = (r.head + n) % len(r.buf)
	r.size -= n
	return out
}

// Len returns the number of queued records.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Dropped returns how many records were discarded.
func (r *Recorder) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Close stops accepting records. Queued records can still be drained.
func (r *Recorder) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Ready signals that records may be waiting.
func (r *Recorder) Ready() <-chan struct{} {
	return r.notify
}
