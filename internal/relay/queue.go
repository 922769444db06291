// Package relay carries room deltas to the lobby registry in order.
//
// Rooms publish without blocking; a single consumer goroutine applies the
// deltas to a Sink in publish order.
package relay

import (
	"context"
	"log/slog"
	"sync"

	"roomd/internal/protocol"
)

// Sink receives deltas in publish order.
type Sink interface {
	Apply(d protocol.GameDelta)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(d protocol.GameDelta)

// Apply calls f(d).
func (f SinkFunc) Apply(d protocol.GameDelta) { f(d) }

// Queue is an unbounded FIFO between rooms and a Sink.
type Queue struct {
	sink    Sink
	applyMu sync.Mutex

	mu      sync.Mutex
	pending []protocol.GameDelta
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

// NewQueue returns a queue feeding sink. Nothing is applied until Run.
func NewQueue(sink Sink) *Queue {
	return &Queue{
		sink: sink,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Publish enqueues d. It never blocks; deltas published after Run returned
// are dropped.
func (q *Queue) Publish(d protocol.GameDelta) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		slog.Debug("delta after relay shutdown dropped", "room_id", d.GameID)
		return
	}
	q.pending = append(q.pending, d)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of deltas waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run applies deltas until ctx is done, then drains what is left.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	for {
		q.flush()
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.closed = true
			q.mu.Unlock()
			q.flush()
			return
		case <-q.wake:
		}
	}
}

// Done is closed when Run has returned.
func (q *Queue) Done() <-chan struct{} { return q.done }

// Flush applies everything pending on the caller's goroutine.
func (q *Queue) Flush() { q.flush() }

func (q *Queue) flush() {
	q.applyMu.Lock()
	defer q.applyMu.Unlock()
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		q.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, d := range batch {
			q.sink.Apply(d)
		}
	}
}
