package core

import "sync"

// Core reconciles optimistic local actions with the confirmed log of one
// space. It is safe for concurrent use.
type Core[S, A any] struct {
	reducer Reducer[S, A]
	initial S

	mu          sync.Mutex
	confirmed   S
	base        int64 // last action folded in by a snapshot merge
	history     []ConfirmedAction[A]
	unconfirmed []PendingAction[A]

	versions versionClock
	notify   *notifier[S]
}

// New creates a core starting from initial with an empty log.
func New[S, A any](reducer Reducer[S, A], initial S) *Core[S, A] {
	return &Core[S, A]{
		reducer:   reducer,
		initial:   initial,
		confirmed: initial,
		notify:    newNotifier[S](),
	}
}

// ProcessConfirmedActions applies actions in order. Each one that continues
// the log is appended to the history, removes the first unconfirmed action
// with the same client action id, and advances the confirmed state.
//
// Actions at or below the tail are skipped. The first action past tail+1
// stops processing with a *GapError; actions before it stay applied.
// Observers are notified once if anything was applied.
func (c *Core[S, A]) ProcessConfirmedActions(actions []ConfirmedAction[A]) error {
	c.mu.Lock()
	applied, err := c.applyLocked(actions)
	var version int64
	var state S
	if applied > 0 {
		version, state = c.versions.Next(), c.effectiveLocked()
	}
	c.mu.Unlock()

	if applied > 0 {
		c.notify.publish(version, state)
	}
	return err
}

// applyLocked applies actions to the confirmed state. Callers hold c.mu.
func (c *Core[S, A]) applyLocked(actions []ConfirmedAction[A]) (int, error) {
	applied := 0
	for _, a := range actions {
		tail := c.tailLocked()
		if a.ServerActionID <= tail {
			continue
		}
		if a.ServerActionID != tail+1 {
			return applied, &GapError{After: tail, Got: a.ServerActionID}
		}

		c.history = append(c.history, a)
		c.removeUnconfirmedLocked(a.ClientActionID)
		c.confirmed = c.reducer(c.confirmed, a.Action)
		applied++
	}
	return applied, nil
}

// ProcessSnapshot replaces the confirmed state with a server snapshot.
//
// The authoritative continuation is snap.Actions. Locally known confirmed
// actions that directly extend it are kept, which covers a snapshot fetched
// before pokes this core already applied. Every other local history entry
// is dropped.
//
// A snapshot whose merged tail is below the highest id already known is
// rejected with ErrStaleSnapshot, leaving the core unchanged. A gap inside
// snap.Actions also leaves the core unchanged and returns a *GapError.
func (c *Core[S, A]) ProcessSnapshot(snap SnapshotResult[S, A]) error {
	c.mu.Lock()

	merged := make([]ConfirmedAction[A], 0, len(snap.Actions)+len(c.history))
	merged = append(merged, snap.Actions...)
	tail := snap.LastIncludedActionID
	if len(merged) > 0 {
		tail = merged[len(merged)-1].ServerActionID
	}
	for _, a := range c.history {
		if a.ServerActionID == tail+1 {
			merged = append(merged, a)
			tail = a.ServerActionID
		}
	}

	if known := c.tailLocked(); tail < known {
		c.mu.Unlock()
		return ErrStaleSnapshot
	}

	// Without a stored snapshot the merged sequence is the full log.
	state := c.initial
	if snap.HasState {
		state = snap.State
	}

	// Stage the merge so a gap leaves the core as it was.
	staged := &Core[S, A]{
		reducer:     c.reducer,
		confirmed:   state,
		base:        snap.LastIncludedActionID,
		unconfirmed: append([]PendingAction[A](nil), c.unconfirmed...),
	}
	if _, err := staged.applyLocked(merged); err != nil {
		c.mu.Unlock()
		return err
	}

	c.confirmed = staged.confirmed
	c.base = staged.base
	c.history = staged.history
	c.unconfirmed = staged.unconfirmed
	version, effective := c.versions.Next(), c.effectiveLocked()
	c.mu.Unlock()

	c.notify.publish(version, effective)
	return nil
}

// AddUnconfirmedAction appends a locally dispatched action and notifies
// observers with the new effective state.
func (c *Core[S, A]) AddUnconfirmedAction(action PendingAction[A]) {
	c.StageUnconfirmedAction(action)()
}

// StageUnconfirmedAction appends a locally dispatched action and returns
// the notification for it. Callers that order dispatch under their own lock
// call publish after releasing it, since observers may dispatch again.
func (c *Core[S, A]) StageUnconfirmedAction(action PendingAction[A]) (publish func()) {
	c.mu.Lock()
	c.unconfirmed = append(c.unconfirmed, action)
	version, state := c.versions.Next(), c.effectiveLocked()
	c.mu.Unlock()

	return func() { c.notify.publish(version, state) }
}

// EffectiveState returns the confirmed state reduced through the
// unconfirmed actions in dispatch order.
func (c *Core[S, A]) EffectiveState() S {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effectiveLocked()
}

// ConfirmedState returns the state reduced through confirmed actions only.
func (c *Core[S, A]) ConfirmedState() S {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmed
}

// HighestConfirmedActionID returns the id of the last confirmed action
// known. ok is false while no action has been confirmed and no snapshot
// position is known.
func (c *Core[S, A]) HighestConfirmedActionID() (id int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id = c.tailLocked()
	return id, id > 0
}

// Checkpoint returns the confirmed state together with the id of the last
// action folded into it, read atomically.
func (c *Core[S, A]) Checkpoint() (state S, lastActionID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmed, c.tailLocked()
}

// Classify reports how actions relate to the tail of the known log.
// An empty batch is Duplicate.
func (c *Core[S, A]) Classify(actions []ConfirmedAction[A]) Continuity {
	if len(actions) == 0 {
		return Duplicate
	}
	c.mu.Lock()
	tail := c.tailLocked()
	c.mu.Unlock()

	first, last := actions[0].ServerActionID, actions[len(actions)-1].ServerActionID
	switch {
	case last <= tail:
		return Duplicate
	case first == tail+1:
		return Contiguous
	case first <= tail:
		return Overlapping
	default:
		return Gap
	}
}

// UnconfirmedActions returns a copy of the unconfirmed actions in dispatch
// order.
func (c *Core[S, A]) UnconfirmedActions() []PendingAction[A] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PendingAction[A](nil), c.unconfirmed...)
}

// ConfirmedActions returns a copy of the confirmed history since the last
// snapshot merge.
func (c *Core[S, A]) ConfirmedActions() []ConfirmedAction[A] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ConfirmedAction[A](nil), c.history...)
}

// Subscribe registers fn for effective state changes and returns the
// unsubscribe func. fn may call back into the core.
func (c *Core[S, A]) Subscribe(fn func(S)) (unsubscribe func()) {
	return c.notify.subscribe(fn)
}

func (c *Core[S, A]) tailLocked() int64 {
	if n := len(c.history); n > 0 {
		return c.history[n-1].ServerActionID
	}
	return c.base
}

func (c *Core[S, A]) effectiveLocked() S {
	state := c.confirmed
	for _, a := range c.unconfirmed {
		state = c.reducer(state, a.Action)
	}
	return state
}

func (c *Core[S, A]) removeUnconfirmedLocked(clientActionID string) {
	for i, u := range c.unconfirmed {
		if u.ClientActionID == clientActionID {
			c.unconfirmed = append(c.unconfirmed[:i:i], c.unconfirmed[i+1:]...)
			return
		}
	}
}
