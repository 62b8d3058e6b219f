package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/syncreducer/internal/client"
	"github.com/roach88/syncreducer/internal/protocol"
	"github.com/roach88/syncreducer/internal/store"
	"github.com/roach88/syncreducer/internal/testutil"
	"github.com/roach88/syncreducer/internal/transport"
)

// Client timings used by the harness. Short enough that a settle step
// finishes quickly, long enough that pushes still batch.
const (
	pushInterval = 2 * time.Millisecond
	pullInterval = 2 * time.Millisecond
	syncInterval = 20 * time.Millisecond
	pollInterval = 2 * time.Millisecond
)

type counterClient = client.Client[int64, testutil.Op]

// Harness executes one scenario. Use Run.
type Harness struct {
	env     *testutil.Env
	space   string
	timeout time.Duration
	clock   *testutil.StepClock
	logger  *slog.Logger

	clients map[string]*counterClient
	order   []string
}

// Option configures Run.
type Option func(*Harness)

// WithLogger routes client and server logs to logger. Logs are discarded
// by default.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// Run executes a scenario against a fresh in-memory server and returns the
// result. An error means the scenario could not be executed; failed
// assertions are reported in the result.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		space:   scenario.Space,
		timeout: scenario.Timeout,
		clock:   &testutil.StepClock{},
		logger:  testutil.DiscardLogger(),
		clients: make(map[string]*counterClient),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.space == "" {
		h.space = protocol.DefaultSpaceID(testutil.CounterSource)
	}
	if h.timeout == 0 {
		h.timeout = DefaultTimeout
	}
	h.env = testutil.NewEnvWithStore(st, h.logger)
	defer h.env.Hub.Close()
	defer h.closeAll()

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func (h *Harness) execute(ctx context.Context, step Step, result *Result) error {
	switch {
	case step.Join != "":
		if err := h.join(ctx, step); err != nil {
			return err
		}
		result.record(TraceEvent{Seq: h.clock.Next(), Step: StepJoin, Client: step.Join})

	case step.Dispatch != nil:
		d := *step.Dispatch
		if err := h.dispatch(d); err != nil {
			return err
		}
		action := d.Action
		result.record(TraceEvent{Seq: h.clock.Next(), Step: StepDispatch, Client: d.Client, Action: &action, Times: d.times()})

	case len(step.Concurrent) > 0:
		var g errgroup.Group
		total := 0
		for _, d := range step.Concurrent {
			total += d.times()
			g.Go(func() error { return h.dispatch(d) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
		result.record(TraceEvent{Seq: h.clock.Next(), Step: StepConcurrent, Count: total})

	case step.Settle:
		states, last, err := h.settle(ctx)
		if err != nil {
			return err
		}
		result.record(TraceEvent{Seq: h.clock.Next(), Step: StepSettle, States: states, LastActionID: last})

	case step.Compact != "":
		c := h.clients[step.Compact]
		cctx, cancel := context.WithTimeout(ctx, h.timeout)
		defer cancel()
		if err := c.Compact(cctx); err != nil {
			return fmt.Errorf("compact %s: %w", step.Compact, err)
		}
		last, _ := c.HighestConfirmedActionID()
		result.record(TraceEvent{Seq: h.clock.Next(), Step: StepCompact, Client: step.Compact, LastActionID: last})

	case step.Leave != "":
		if err := h.clients[step.Leave].Close(); err != nil {
			return fmt.Errorf("leave %s: %w", step.Leave, err)
		}
		delete(h.clients, step.Leave)
		h.order = remove(h.order, step.Leave)
		result.record(TraceEvent{Seq: h.clock.Next(), Step: StepLeave, Client: step.Leave})
	}
	return nil
}

func (h *Harness) join(ctx context.Context, step Step) error {
	var localOpts []transport.LocalOption
	switch {
	case step.DropPokes > 0:
		var seen atomic.Int64
		drop := int64(step.DropPokes)
		localOpts = append(localOpts, transport.WithPokeFilter(func(string, protocol.PokeMessage) (bool, time.Duration) {
			return seen.Add(1) > drop, step.PokeDelay
		}))
	case step.PokeDelay > 0:
		localOpts = append(localOpts, transport.WithPokeFilter(transport.Delay(step.PokeDelay)))
	}

	c, err := client.New(ctx, client.Options[int64, testutil.Op]{
		SpaceID:             h.space,
		Reducer:             testutil.Counter,
		Network:             transport.NewLocal(h.env.Server, h.env.Hub, localOpts...),
		PushInterval:        pushInterval,
		PullInterval:        pullInterval,
		SyncInterval:        syncInterval,
		SnapshotProbability: -1,
		IDGenerator:         testutil.NewSequenceGenerator(step.Join),
		Logger:              h.logger.With("client", step.Join),
	})
	if err != nil {
		return fmt.Errorf("join %s: %w", step.Join, err)
	}

	wctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	if err := c.WaitReady(wctx); err != nil {
		c.Close()
		return fmt.Errorf("join %s: %w", step.Join, err)
	}
	h.clients[step.Join] = c
	h.order = append(h.order, step.Join)
	return nil
}

func (h *Harness) dispatch(d DispatchStep) error {
	c := h.clients[d.Client]
	for range d.times() {
		if _, err := c.Dispatch(d.Action); err != nil {
			return fmt.Errorf("dispatch from %s: %w", d.Client, err)
		}
	}
	return nil
}

// settle flushes every client, then waits until each holds the whole log.
func (h *Harness) settle(ctx context.Context) (map[string]int64, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var g errgroup.Group
	for _, name := range h.order {
		c := h.clients[name]
		g.Go(func() error {
			if err := c.Flush(ctx); err != nil {
				return fmt.Errorf("flush %s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	last, err := h.env.Store.LastActionID(ctx, h.space)
	if err != nil {
		return nil, 0, err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if h.caughtUp(last) {
			states := make(map[string]int64, len(h.order))
			for _, name := range h.order {
				states[name] = h.clients[name].State()
			}
			return states, last, nil
		}
		select {
		case <-ctx.Done():
			return nil, 0, fmt.Errorf("settle: clients did not reach action %d: %w", last, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (h *Harness) caughtUp(last int64) bool {
	for _, name := range h.order {
		tail, _ := h.clients[name].HighestConfirmedActionID()
		if tail != last {
			return false
		}
	}
	return true
}

// collect records the final client and server state in result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	for _, name := range h.order {
		c := h.clients[name]
		tail, _ := c.HighestConfirmedActionID()
		result.States[name] = c.State()
		result.Tails[name] = tail
	}

	log, err := h.env.Store.ReadActionsSince(ctx, h.space, 0)
	if err != nil {
		return fmt.Errorf("read log: %w", err)
	}
	var state int64
	for _, a := range log {
		var op testutil.Op
		if err := json.Unmarshal(a.Action, &op); err != nil {
			return fmt.Errorf("decode action %d: %w", a.ServerActionID, err)
		}
		state = testutil.Counter(state, op)
		result.LogIDs = append(result.LogIDs, a.ServerActionID)
	}
	result.LogState = state

	snap, ok, err := h.env.Store.ReadSnapshot(ctx, h.space)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if ok {
		info := &SnapshotInfo{LastIncludedActionID: snap.LastIncludedActionID}
		if err := json.Unmarshal(snap.State, &info.State); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		result.Snapshot = info
	}
	return nil
}

func (h *Harness) closeAll() {
	var errs []error
	for _, name := range h.order {
		errs = append(errs, h.clients[name].Close())
	}
	if err := errors.Join(errs...); err != nil {
		h.logger.Warn("closing clients", "error", err)
	}
}

func remove(names []string, name string) []string {
	out := names[:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
