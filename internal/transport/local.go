package transport

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/syncreducer/internal/poke"
	"github.com/roach88/syncreducer/internal/protocol"
	"github.com/roach88/syncreducer/internal/server"
)

// PokeFilter decides the fate of one poke on its way to one subscriber.
// Returning deliver false drops it; a positive delay postpones it.
type PokeFilter func(spaceID string, msg protocol.PokeMessage) (deliver bool, delay time.Duration)

// Delay returns a filter that postpones every poke by d.
func Delay(d time.Duration) PokeFilter {
	return func(string, protocol.PokeMessage) (bool, time.Duration) { return true, d }
}

// Local is a Network bound to an in-process server and poke hub.
type Local struct {
	srv    *server.Server
	hub    *poke.Hub
	filter PokeFilter

	mu     sync.Mutex
	subs   map[int]func()
	nextID int
	closed bool
}

var _ Network = (*Local)(nil)

// LocalOption configures a Local network.
type LocalOption func(*Local)

// WithPokeFilter installs a filter on every subscription.
func WithPokeFilter(f PokeFilter) LocalOption {
	return func(l *Local) { l.filter = f }
}

// NewLocal creates a network calling srv directly and subscribing to hub.
func NewLocal(srv *server.Server, hub *poke.Hub, opts ...LocalOption) *Local {
	l := &Local{
		srv:  srv,
		hub:  hub,
		subs: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SubscribeToPoke implements Network.
func (l *Local) SubscribeToPoke(_ context.Context, spaceID string, fn func(protocol.PokeMessage)) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrClosed
	}

	var stopped sync.Once
	done := make(chan struct{})
	deliver := func(msg protocol.PokeMessage) {
		ok, delay := true, time.Duration(0)
		if l.filter != nil {
			ok, delay = l.filter(spaceID, msg)
		}
		if !ok {
			return
		}
		if delay <= 0 {
			fn(msg)
			return
		}
		go func() {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
				fn(msg)
			case <-done:
			}
		}()
	}

	unsubscribeHub := l.hub.Subscribe(spaceID, deliver)
	id := l.nextID
	l.nextID++
	unsubscribe := func() {
		stopped.Do(func() {
			unsubscribeHub()
			close(done)
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
		})
	}
	l.subs[id] = unsubscribe
	return unsubscribe, nil
}

// Pull implements Network.
func (l *Local) Pull(ctx context.Context, req protocol.PullRequest) (protocol.PullResponse, error) {
	if err := l.check(); err != nil {
		return protocol.PullResponse{}, err
	}
	return l.srv.Pull(ctx, req)
}

// Push implements Network.
func (l *Local) Push(ctx context.Context, req protocol.PushRequest) (protocol.PushResponse, error) {
	if err := l.check(); err != nil {
		return protocol.PushResponse{}, err
	}
	return l.srv.Push(ctx, req)
}

// GetLatestSnapshot implements Network.
func (l *Local) GetLatestSnapshot(ctx context.Context, req protocol.SnapshotRequest) (protocol.SnapshotResponse, error) {
	if err := l.check(); err != nil {
		return protocol.SnapshotResponse{}, err
	}
	return l.srv.GetLatestSnapshot(ctx, req)
}

// CreateSnapshot implements Network.
func (l *Local) CreateSnapshot(ctx context.Context, req protocol.CreateSnapshotRequest) (protocol.CreateSnapshotResponse, error) {
	if err := l.check(); err != nil {
		return protocol.CreateSnapshotResponse{}, err
	}
	return l.srv.CreateSnapshot(ctx, req)
}

// Close ends every subscription made through l and cancels delayed pokes.
// The server and hub stay open.
func (l *Local) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	subs := make([]func(), 0, len(l.subs))
	for _, unsubscribe := range l.subs {
		subs = append(subs, unsubscribe)
	}
	l.mu.Unlock()

	for _, unsubscribe := range subs {
		unsubscribe()
	}
	return nil
}

func (l *Local) check() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return nil
}
