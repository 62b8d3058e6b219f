package client

import (
	"sync"

	"github.com/roach88/syncreducer/internal/protocol"
)

// eventKind distinguishes the events handled by the loop.
type eventKind int

const (
	// eventPoke carries actions from the notification channel.
	eventPoke eventKind = iota + 1
	// eventPulled carries actions from a catch-up pull.
	eventPulled
	// eventSnapshot carries a snapshot fetched at startup.
	eventSnapshot
	// eventTick is the periodic sync tick.
	eventTick
)

func (k eventKind) String() string {
	switch k {
	case eventPoke:
		return "poke"
	case eventPulled:
		return "pulled"
	case eventSnapshot:
		return "snapshot"
	case eventTick:
		return "tick"
	default:
		return "unknown"
	}
}

type event struct {
	kind     eventKind
	actions  []protocol.ConfirmedAction
	snapshot protocol.SnapshotResponse

	// result receives the outcome of an eventSnapshot. Buffered, size 1.
	result chan error
}

// eventQueue is a thread-safe unbounded FIFO feeding the client loop.
//
// Pokes arrive on transport goroutines and must never block them, so the
// queue grows instead of applying backpressure.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the loop.
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}

	e := q.events[0]
	q.events[0] = event{} // release references held by the backing array
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that signals when events may be available. It is
// closed when the queue closes.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Drained reports whether the queue is closed and empty.
func (q *eventQueue) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.events) == 0
}

// Close stops further enqueues and wakes the waiter.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
