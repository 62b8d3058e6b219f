package throttle

import (
	"context"
	"sync"
	"time"
)

type batchCall[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Batch coalesces calls made within a window into one invocation of fn.
//
// The first call of a window starts a timer; when it fires, fn runs once
// and every call made in the window receives its result or error.
// Invocations of successive windows may overlap.
type Batch[T any] struct {
	fn     func(ctx context.Context) (T, error)
	window time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pending *batchCall[T]
	timer   *time.Timer
	open    map[*batchCall[T]]struct{}
	stopped bool
}

// NewBatch creates a batch for fn.
func NewBatch[T any](window time.Duration, fn func(ctx context.Context) (T, error)) *Batch[T] {
	ctx, cancel := context.WithCancel(context.Background())
	return &Batch[T]{
		fn:     fn,
		window: window,
		ctx:    ctx,
		cancel: cancel,
		open:   make(map[*batchCall[T]]struct{}),
	}
}

// Call joins the current window and waits for its result.
func (b *Batch[T]) Call(ctx context.Context) (T, error) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		var zero T
		return zero, ErrStopped
	}
	c := b.pending
	if c == nil {
		c = &batchCall[T]{done: make(chan struct{})}
		b.pending = c
		b.open[c] = struct{}{}
		b.timer = time.AfterFunc(b.window, b.flush)
	}
	b.mu.Unlock()

	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (b *Batch[T]) flush() {
	b.mu.Lock()
	c := b.pending
	b.pending = nil
	b.timer = nil
	b.mu.Unlock()

	if c == nil {
		return
	}

	value, err := b.fn(b.ctx)

	b.mu.Lock()
	c.value, c.err = value, err
	close(c.done)
	delete(b.open, c)
	b.mu.Unlock()
}

// Wait blocks until every call made so far has completed.
func (b *Batch[T]) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		var c *batchCall[T]
		for c = range b.open {
			break
		}
		b.mu.Unlock()

		if c == nil {
			return nil
		}
		select {
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop fails the pending window with ErrStopped and cancels the context of
// invocations in progress.
func (b *Batch[T]) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}
	b.stopped = true
	b.cancel()
	// When the timer already fired, flush owns the pending window and
	// completes it with the cancelled context.
	if b.timer != nil && b.timer.Stop() {
		c := b.pending
		c.err = ErrStopped
		close(c.done)
		delete(b.open, c)
		b.pending = nil
		b.timer = nil
	}
}
