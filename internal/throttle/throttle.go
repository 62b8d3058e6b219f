package throttle

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned for runs cancelled by Stop.
var ErrStopped = errors.New("throttle stopped")

// run is one invocation of the throttled func.
type run struct {
	started bool
	done    chan struct{}
	err     error
}

func newRun() *run {
	return &run{done: make(chan struct{})}
}

// Throttle runs fn no more than once per interval.
//
// A request made while idle and out of cooldown runs immediately. Requests
// made while a run is in progress, or within interval of the last run
// finishing, are folded into exactly one further run that starts interval
// after the previous one finished.
type Throttle struct {
	fn       func(ctx context.Context) error
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	current  *run
	next     *run
	lastDone time.Time
	stopped  bool
}

// New creates a throttle for fn.
func New(interval time.Duration, fn func(ctx context.Context) error) *Throttle {
	ctx, cancel := context.WithCancel(context.Background())
	return &Throttle{
		fn:       fn,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Trigger requests a run and returns without waiting.
func (t *Throttle) Trigger() {
	t.request()
}

// Do requests a run and waits for the run that covers the request. It
// returns that run's error, or ctx.Err() if ctx ends first.
func (t *Throttle) Do(ctx context.Context) error {
	r := t.request()
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until no run is in progress or scheduled.
func (t *Throttle) Wait(ctx context.Context) error {
	for {
		t.mu.Lock()
		r := t.next
		if r == nil {
			r = t.current
		}
		t.mu.Unlock()

		if r == nil {
			return nil
		}
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop cancels the context of a run in progress and drops the scheduled
// one. Later requests fail with ErrStopped.
func (t *Throttle) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	t.stopped = true
	t.cancel()
	if t.next != nil {
		t.finish(t.next, ErrStopped)
		t.next = nil
	}
}

func (t *Throttle) request() *run {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		r := newRun()
		t.finish(r, ErrStopped)
		return r
	}

	if t.current == nil {
		r := newRun()
		t.current = r
		var delay time.Duration
		if !t.lastDone.IsZero() {
			delay = t.interval - time.Since(t.lastDone)
		}
		go t.loop(r, delay)
		return r
	}

	// A run still waiting for its start time covers this request.
	if !t.current.started {
		return t.current
	}

	if t.next == nil {
		t.next = newRun()
	}
	return t.next
}

// loop executes r after delay, then keeps executing trailing runs until none
// is scheduled.
func (t *Throttle) loop(r *run, delay time.Duration) {
	for {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-t.ctx.Done():
				timer.Stop()
				t.mu.Lock()
				t.finish(r, ErrStopped)
				t.current = nil
				t.mu.Unlock()
				return
			}
		}

		t.mu.Lock()
		if t.stopped {
			t.finish(r, ErrStopped)
			t.current = nil
			t.mu.Unlock()
			return
		}
		r.started = true
		t.mu.Unlock()

		err := t.fn(t.ctx)

		t.mu.Lock()
		t.finish(r, err)
		t.lastDone = time.Now()
		if t.next == nil {
			t.current = nil
			t.mu.Unlock()
			return
		}
		r = t.next
		t.next = nil
		t.current = r
		t.mu.Unlock()

		delay = t.interval
	}
}

// finish completes r. Callers hold t.mu.
func (t *Throttle) finish(r *run, err error) {
	r.err = err
	close(r.done)
}
