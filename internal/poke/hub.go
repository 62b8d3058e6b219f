package poke

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/syncreducer/internal/protocol"
)

// ErrClosed is returned by Publish after the hub is closed.
var ErrClosed = errors.New("poke hub closed")

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Publisher delivers a poke to the subscribers of a space.
type Publisher interface {
	Publish(ctx context.Context, spaceID string, msg protocol.PokeMessage) error
}

// Handler receives pokes for one subscription. Calls for a subscription are
// sequential and in publish order.
type Handler func(protocol.PokeMessage)

// Hub is an in-process pub/sub of pokes keyed by space.
//
// Each subscriber owns a bounded queue drained by its own goroutine, so a
// slow subscriber never blocks Publish or other subscribers. When the queue
// is full the poke is dropped for that subscriber.
type Hub struct {
	mu     sync.Mutex
	spaces map[string]map[*subscriber]struct{}
	closed bool
	done   chan struct{}

	buffer  int
	dropped atomic.Int64
	onDrop  func(spaceID string)
	logger  *slog.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithDropHook registers fn to be called for every dropped poke.
func WithDropHook(fn func(spaceID string)) HubOption {
	return func(h *Hub) { h.onDrop = fn }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		spaces: make(map[string]map[*subscriber]struct{}),
		done:   make(chan struct{}),
		buffer: DefaultBuffer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type subscriber struct {
	queue chan protocol.PokeMessage
	done  chan struct{}
	once  sync.Once
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Subscribe registers fn for pokes of spaceID. The returned func removes
// the subscription; it is safe to call more than once. fn is never called
// after unsubscribe returns, except for a call already in progress.
func (h *Hub) Subscribe(spaceID string, fn Handler) (unsubscribe func()) {
	sub := &subscriber{
		queue: make(chan protocol.PokeMessage, h.buffer),
		done:  make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return func() {}
	}
	subs, ok := h.spaces[spaceID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.spaces[spaceID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		for {
			select {
			case msg := <-sub.queue:
				select {
				case <-sub.done:
					return
				default:
				}
				fn(msg)
			case <-sub.done:
				return
			}
		}
	}()

	return func() {
		h.mu.Lock()
		if subs, ok := h.spaces[spaceID]; ok {
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.spaces, spaceID)
			}
		}
		h.mu.Unlock()
		sub.stop()
	}
}

// Publish queues msg for every current subscriber of spaceID. It never
// blocks on a subscriber.
func (h *Hub) Publish(ctx context.Context, spaceID string, msg protocol.PokeMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}

	for sub := range h.spaces[spaceID] {
		select {
		case sub.queue <- msg:
		default:
			h.dropped.Add(1)
			if h.onDrop != nil {
				h.onDrop(spaceID)
			}
			h.logger.Debug("poke dropped", "space", spaceID, "count", len(msg.Actions))
		}
	}
	return nil
}

// Subscribers returns the number of subscriptions of spaceID.
func (h *Hub) Subscribers(spaceID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.spaces[spaceID])
}

// Dropped returns the number of pokes dropped because a subscriber queue
// was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Done is closed when the hub is closed.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Close stops every subscription. Publish fails with ErrClosed afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
	for _, subs := range h.spaces {
		for sub := range subs {
			sub.stop()
		}
	}
	h.spaces = nil
}
