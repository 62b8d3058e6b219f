package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/syncreducer/internal/core"
	"github.com/roach88/syncreducer/internal/protocol"
	"github.com/roach88/syncreducer/internal/throttle"
)

var (
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("client: closed")

	// ErrNotReady is returned by Compact before the startup snapshot has
	// been merged.
	ErrNotReady = errors.New("client: not ready")

	// ErrNoSpace is returned by New when neither a space id nor a reducer
	// source is configured.
	ErrNoSpace = errors.New("client: space id or reducer source required")
)

// Status is the sync status of a dispatched action.
type Status int

const (
	// StatusWaiting actions have not been sent yet.
	StatusWaiting Status = iota + 1
	// StatusPending actions are in a push that has not failed.
	StatusPending
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusPending:
		return "pending"
	default:
		return "unknown"
	}
}

type outboxEntry struct {
	action protocol.Action
	status Status
}

// Client syncs one space. It is safe for concurrent use.
type Client[S, A any] struct {
	opts   Options[S, A]
	core   *core.Core[S, A]
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	queue  *eventQueue
	wg     sync.WaitGroup

	push    *throttle.Throttle
	pull    *throttle.Throttle
	startup *throttle.Throttle
	compact *throttle.Batch[bool]

	unsubscribePoke func()

	dispatchMu sync.Mutex // orders Dispatch calls

	mu           sync.Mutex
	outbox       []outboxEntry
	outboxSignal chan struct{} // closed and replaced when the outbox shrinks
	ready        bool
	dirty        bool
	closed       bool
	startErr     error

	readyCh      chan struct{}
	firstAttempt chan struct{}
	firstOnce    sync.Once
	closeOnce    sync.Once
	closeErr     error
}

// New starts a client: it subscribes to pokes, starts the event loop and
// begins fetching the latest snapshot in the background. Use Ready or
// WaitReady to learn when the snapshot has been merged.
//
// ctx bounds the client's lifetime in addition to Close.
func New[S, A any](ctx context.Context, opts Options[S, A]) (*Client[S, A], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &Client[S, A]{
		opts:         opts,
		core:         core.New(opts.Reducer, opts.InitialState),
		logger:       opts.Logger.With("space", opts.SpaceID),
		ctx:          cctx,
		cancel:       cancel,
		queue:        newEventQueue(),
		outboxSignal: make(chan struct{}),
		readyCh:      make(chan struct{}),
		firstAttempt: make(chan struct{}),
	}
	c.push = throttle.New(opts.PushInterval, c.pushWaiting)
	c.pull = throttle.New(opts.PullInterval, c.pullSince)
	c.startup = throttle.New(opts.PullInterval, c.fetchSnapshot)
	c.compact = throttle.NewBatch(opts.PushInterval, c.createSnapshot)

	unsubscribe, err := opts.Network.SubscribeToPoke(cctx, opts.SpaceID, c.onPoke)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("client: subscribe to pokes: %w", err)
	}
	c.unsubscribePoke = unsubscribe

	c.wg.Add(2)
	go c.run()
	go c.tick()

	c.startup.Trigger()
	return c, nil
}

// SpaceID returns the space this client syncs.
func (c *Client[S, A]) SpaceID() string {
	return c.opts.SpaceID
}

// Ready is closed once the startup snapshot has been merged.
func (c *Client[S, A]) Ready() <-chan struct{} {
	return c.readyCh
}

// WaitReady blocks until the client is ready or its first startup attempt
// failed. On failure it returns the startup error; the client keeps
// retrying in the background and dispatch keeps working offline.
func (c *Client[S, A]) WaitReady(ctx context.Context) error {
	select {
	case <-c.readyCh:
		return nil
	case <-c.firstAttempt:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}

	select {
	case <-c.readyCh:
		return nil
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startErr
}

// Dispatch applies action optimistically and schedules it for push. It
// returns the action's client id.
func (c *Client[S, A]) Dispatch(action A) (string, error) {
	raw, err := json.Marshal(action)
	if err != nil {
		return "", fmt.Errorf("client: encode action: %w", err)
	}

	// Id generation and both appends form one step so the outbox pushes
	// actions in the order the core applies them.
	c.dispatchMu.Lock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.dispatchMu.Unlock()
		return "", ErrClosed
	}
	id := c.opts.IDGenerator.Generate()
	c.mu.Unlock()

	// The core is updated before the outbox so a confirmation can never
	// find an outbox entry without its unconfirmed action.
	publish := c.core.StageUnconfirmedAction(core.PendingAction[A]{ClientActionID: id, Action: action})

	c.mu.Lock()
	c.outbox = append(c.outbox, outboxEntry{
		action: protocol.Action{ClientActionID: id, Action: raw},
		status: StatusWaiting,
	})
	c.mu.Unlock()
	c.dispatchMu.Unlock()

	publish()
	c.push.Trigger()
	return id, nil
}

// State returns the confirmed state with unconfirmed actions applied.
func (c *Client[S, A]) State() S {
	return c.core.EffectiveState()
}

// ConfirmedState returns the state reduced from confirmed actions only.
func (c *Client[S, A]) ConfirmedState() S {
	return c.core.ConfirmedState()
}

// HighestConfirmedActionID returns the tail of the confirmed log.
func (c *Client[S, A]) HighestConfirmedActionID() (int64, bool) {
	return c.core.HighestConfirmedActionID()
}

// Subscribe registers fn for effective state changes. Observers see
// states in order and may call back into the client.
func (c *Client[S, A]) Subscribe(fn func(S)) (unsubscribe func()) {
	return c.core.Subscribe(fn)
}

// Outbox returns the sync status of every dispatched action not yet
// confirmed, keyed by client action id.
func (c *Client[S, A]) Outbox() map[string]Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Status, len(c.outbox))
	for _, e := range c.outbox {
		out[e.action.ClientActionID] = e.status
	}
	return out
}

// Compact stores the confirmed state as the space snapshot now, ignoring
// the snapshot threshold. Calls close together share one request.
func (c *Client[S, A]) Compact(ctx context.Context) error {
	select {
	case <-c.readyCh:
	default:
		return ErrNotReady
	}
	_, err := c.compact.Call(ctx)
	return err
}

// Flush blocks until every dispatched action is confirmed or ctx ends.
func (c *Client[S, A]) Flush(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.PushInterval)
	defer ticker.Stop()

	for {
		c.mu.Lock()
		n := len(c.outbox)
		waiting := c.hasWaitingLocked()
		signal := c.outboxSignal
		c.mu.Unlock()

		if n == 0 {
			return nil
		}
		if waiting {
			c.push.Trigger()
		} else {
			c.pull.Trigger()
		}

		select {
		case <-signal:
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ctx.Done():
			return ErrClosed
		}
	}
}

// Close stops the client, unsubscribes from pokes and closes the network.
// Unconfirmed actions are dropped.
func (c *Client[S, A]) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		if c.unsubscribePoke != nil {
			c.unsubscribePoke()
		}
		c.cancel()
		c.push.Stop()
		c.pull.Stop()
		c.startup.Stop()
		c.compact.Stop()
		c.queue.Close()
		c.wg.Wait()

		c.closeErr = c.opts.Network.Close()
	})
	return c.closeErr
}

// run is the single writer of the confirmed log.
func (c *Client[S, A]) run() {
	defer c.wg.Done()

	for {
		if ev, ok := c.queue.TryDequeue(); ok {
			c.handle(ev)
			continue
		}

		select {
		case <-c.ctx.Done():
			return
		case <-c.queue.Wait():
			if c.queue.Drained() {
				return
			}
		}
	}
}

func (c *Client[S, A]) handle(ev event) {
	switch ev.kind {
	case eventPoke:
		c.handlePoke(ev.actions)
	case eventPulled:
		c.handlePulled(ev.actions)
	case eventSnapshot:
		ev.result <- c.handleSnapshot(ev.snapshot)
	case eventTick:
		c.handleTick()
	default:
		c.logger.Warn("unknown client event", "kind", ev.kind)
	}
}

func (c *Client[S, A]) tick() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.opts.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.queue.Enqueue(event{kind: eventTick})
		}
	}
}

func (c *Client[S, A]) onPoke(msg protocol.PokeMessage) {
	if msg.Type != protocol.PokeTypeActions || len(msg.Actions) == 0 {
		return
	}
	c.queue.Enqueue(event{kind: eventPoke, actions: msg.Actions})
}

func (c *Client[S, A]) handlePoke(raw []protocol.ConfirmedAction) {
	c.mu.Lock()
	ready := c.ready
	if !ready {
		c.dirty = true
	}
	c.mu.Unlock()
	if !ready {
		c.logger.Debug("poke before ready, deferring", "actions", len(raw))
		return
	}

	actions, err := decodeActions[A](raw)
	if err != nil {
		c.logger.Error("dropping undecodable poke", "error", err)
		return
	}

	switch cont := c.core.Classify(actions); cont {
	case core.Duplicate:
		c.logger.Debug("ignoring duplicate poke", "first", actions[0].ServerActionID)
		return
	case core.Gap:
		c.logger.Debug("gap in poke, pulling", "first", actions[0].ServerActionID)
		c.pull.Trigger()
		return
	}

	c.apply(actions)
	c.maybeCompact()
}

func (c *Client[S, A]) handlePulled(raw []protocol.ConfirmedAction) {
	actions, err := decodeActions[A](raw)
	if err != nil {
		c.logger.Error("dropping undecodable pull", "error", err)
		return
	}
	c.apply(actions)
}

func (c *Client[S, A]) apply(actions []core.ConfirmedAction[A]) {
	err := c.core.ProcessConfirmedActions(actions)
	switch {
	case core.IsGap(err):
		c.logger.Debug("gap while applying, pulling", "error", err)
		c.pull.Trigger()
	case err != nil:
		c.logger.Error("apply confirmed actions", "error", err)
	}
	c.settle(actions)
}

func (c *Client[S, A]) handleSnapshot(resp protocol.SnapshotResponse) error {
	snap, err := decodeSnapshot[S, A](resp)
	if err != nil {
		return err
	}

	err = c.core.ProcessSnapshot(snap)
	if errors.Is(err, core.ErrStaleSnapshot) {
		c.logger.Debug("snapshot behind local log, keeping local state")
		err = nil
	}
	if err != nil {
		return err
	}
	c.settle(snap.Actions)

	c.mu.Lock()
	wasReady := c.ready
	c.ready = true
	dirty := c.dirty
	c.dirty = false
	c.startErr = nil
	c.mu.Unlock()

	if !wasReady {
		close(c.readyCh)
		c.logger.Info("client ready", "last_included", snap.LastIncludedActionID, "actions", len(snap.Actions))
	}
	if dirty {
		c.pull.Trigger()
	}
	c.push.Trigger()
	return nil
}

func (c *Client[S, A]) handleTick() {
	c.mu.Lock()
	ready := c.ready
	waiting := c.hasWaitingLocked()
	c.mu.Unlock()

	if !ready {
		c.startup.Trigger()
		return
	}
	c.pull.Trigger()
	if waiting {
		c.push.Trigger()
	}
}

// settle drops outbox entries for actions in batch that the core no
// longer holds as unconfirmed.
func (c *Client[S, A]) settle(batch []core.ConfirmedAction[A]) {
	if len(batch) == 0 {
		return
	}
	ids := make(map[string]struct{}, len(batch))
	for _, a := range batch {
		ids[a.ClientActionID] = struct{}{}
	}
	for _, p := range c.core.UnconfirmedActions() {
		delete(ids, p.ClientActionID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.outbox[:0]
	for _, e := range c.outbox {
		if _, done := ids[e.action.ClientActionID]; !done {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(c.outbox) {
		return
	}
	for i := len(kept); i < len(c.outbox); i++ {
		c.outbox[i] = outboxEntry{}
	}
	c.outbox = kept
	close(c.outboxSignal)
	c.outboxSignal = make(chan struct{})
}

func (c *Client[S, A]) hasWaitingLocked() bool {
	for _, e := range c.outbox {
		if e.status == StatusWaiting {
			return true
		}
	}
	return false
}

func (c *Client[S, A]) maybeCompact() {
	id, ok := c.core.HighestConfirmedActionID()
	if !ok || id <= c.opts.SnapshotThreshold || c.opts.SnapshotProbability < 0 {
		return
	}
	if c.opts.Rand() >= c.opts.SnapshotProbability {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.compact.Call(c.ctx); err != nil && c.ctx.Err() == nil {
			c.logger.Warn("create snapshot failed", "error", err)
		}
	}()
}

// fetchSnapshot is the startup attempt. It hands the snapshot to the loop
// and waits for the merge.
func (c *Client[S, A]) fetchSnapshot(ctx context.Context) error {
	resp, err := c.opts.Network.GetLatestSnapshot(ctx, protocol.SnapshotRequest{SpaceID: c.opts.SpaceID})
	if err == nil {
		result := make(chan error, 1)
		if !c.queue.Enqueue(event{kind: eventSnapshot, snapshot: resp, result: result}) {
			err = ErrClosed
		} else {
			select {
			case err = <-result:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
	}

	if err != nil {
		c.mu.Lock()
		c.startErr = err
		c.mu.Unlock()
		c.logger.Warn("startup snapshot failed, will retry", "error", err)
	}
	c.firstOnce.Do(func() { close(c.firstAttempt) })
	return err
}

func (c *Client[S, A]) pushWaiting(ctx context.Context) error {
	c.mu.Lock()
	if !c.ready {
		c.mu.Unlock()
		return nil
	}
	var batch []protocol.Action
	for i := range c.outbox {
		if c.outbox[i].status == StatusWaiting {
			c.outbox[i].status = StatusPending
			batch = append(batch, c.outbox[i].action)
		}
	}
	c.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	resp, err := c.opts.Network.Push(ctx, protocol.PushRequest{SpaceID: c.opts.SpaceID, Actions: batch})
	if err != nil {
		sent := make(map[string]struct{}, len(batch))
		for _, a := range batch {
			sent[a.ClientActionID] = struct{}{}
		}
		c.mu.Lock()
		for i := range c.outbox {
			if _, ok := sent[c.outbox[i].action.ClientActionID]; ok && c.outbox[i].status == StatusPending {
				c.outbox[i].status = StatusWaiting
			}
		}
		c.mu.Unlock()
		c.logger.Warn("push failed, will retry", "actions", len(batch), "error", err)
		return err
	}

	c.logger.Debug("pushed actions", "actions", len(batch), "last_action_id", protocol.LastID(resp.Actions, 0))
	return nil
}

func (c *Client[S, A]) pullSince(ctx context.Context) error {
	c.mu.Lock()
	ready := c.ready
	c.mu.Unlock()
	if !ready {
		return nil
	}

	last := int64(-1)
	if id, ok := c.core.HighestConfirmedActionID(); ok {
		last = id
	}
	resp, err := c.opts.Network.Pull(ctx, protocol.PullRequest{SpaceID: c.opts.SpaceID, LastActionID: last})
	if err != nil {
		c.logger.Warn("pull failed", "last_action_id", last, "error", err)
		return err
	}
	if len(resp.Actions) > 0 {
		c.queue.Enqueue(event{kind: eventPulled, actions: resp.Actions})
	}
	return nil
}

func (c *Client[S, A]) createSnapshot(ctx context.Context) (bool, error) {
	state, last := c.core.Checkpoint()
	raw, err := json.Marshal(state)
	if err != nil {
		return false, fmt.Errorf("client: encode state: %w", err)
	}
	resp, err := c.opts.Network.CreateSnapshot(ctx, protocol.CreateSnapshotRequest{
		SpaceID:      c.opts.SpaceID,
		LastActionID: last,
		State:        raw,
	})
	if err != nil {
		return false, err
	}
	c.logger.Debug("created snapshot", "last_action_id", last)
	return resp.Success, nil
}
