package space

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/syncreducer/internal/protocol"
	"github.com/roach88/syncreducer/internal/store"
)

// LogStore is the persistence the coordinator needs. *store.Store satisfies it.
type LogStore interface {
	AppendActionsAfter(ctx context.Context, spaceID string, after int64, actions []protocol.Action) ([]protocol.ConfirmedAction, error)
	ReadActionsSince(ctx context.Context, spaceID string, afterID int64) ([]protocol.ConfirmedAction, error)
	LastActionID(ctx context.Context, spaceID string) (int64, error)
	WriteSnapshot(ctx context.Context, spaceID string, lastIncludedActionID int64, state []byte) error
	ReadSnapshot(ctx context.Context, spaceID string) (protocol.Snapshot, bool, error)
}

var _ LogStore = (*store.Store)(nil)

// Coordinator serializes appends per space and exposes the server-side
// operations on a space.
type Coordinator struct {
	store  LogStore
	locks  *lockTable
	logger *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCoordinator creates a coordinator over s.
func NewCoordinator(s LogStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  s,
		locks:  newLockTable(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Push appends actions to the space in request order and returns them with
// their assigned server action ids. Appends to the same space never
// interleave; the returned ids always continue the log without a gap.
//
// Empty input returns an empty slice and assigns nothing.
func (c *Coordinator) Push(ctx context.Context, spaceID string, actions []protocol.Action) ([]protocol.ConfirmedAction, error) {
	if spaceID == "" {
		return nil, fmt.Errorf("push: %w", ErrInvalidSpace)
	}
	for i, a := range actions {
		if a.ClientActionID == "" {
			return nil, fmt.Errorf("push: action %d: %w: missing clientActionId", i, ErrInvalidAction)
		}
	}
	if len(actions) == 0 {
		return []protocol.ConfirmedAction{}, nil
	}

	unlock := c.locks.Lock(spaceID)
	defer unlock()

	prev, err := c.store.LastActionID(ctx, spaceID)
	if err != nil {
		return nil, &StorageError{Op: "push", SpaceID: spaceID, Err: err}
	}

	// The store rejects the batch before commit if the counter moved since
	// prev was read, so a contiguity failure never consumes ids.
	confirmed, err := c.store.AppendActionsAfter(ctx, spaceID, prev, actions)
	var conflict *store.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.logger.Error("space counter moved outside the space lock",
			"space", spaceID, "expected", conflict.Expected, "actual", conflict.Actual)
		return nil, &ContiguityError{SpaceID: spaceID, Expected: prev + 1, Got: conflict.Actual + 1}
	case errors.Is(err, store.ErrInvalidPayload):
		return nil, fmt.Errorf("push: %w: %v", ErrInvalidPayload, err)
	case err != nil:
		return nil, &StorageError{Op: "push", SpaceID: spaceID, Err: err}
	}

	c.logger.Debug("actions appended",
		"space", spaceID,
		"count", len(confirmed),
		"action_id", confirmed[len(confirmed)-1].ServerActionID,
	)
	return confirmed, nil
}

// Pull returns the actions of the space after lastActionID in ascending
// order. lastActionID -1 returns the full log; smaller values are treated
// as -1.
func (c *Coordinator) Pull(ctx context.Context, spaceID string, lastActionID int64) ([]protocol.ConfirmedAction, error) {
	if spaceID == "" {
		return nil, fmt.Errorf("pull: %w", ErrInvalidSpace)
	}
	if lastActionID < -1 {
		lastActionID = -1
	}

	actions, err := c.store.ReadActionsSince(ctx, spaceID, lastActionID)
	if err != nil {
		return nil, &StorageError{Op: "pull", SpaceID: spaceID, Err: err}
	}
	return actions, nil
}

// LatestSnapshot returns the stored snapshot of the space together with
// every action after it. Without a snapshot, the state is absent
// (HasState false), LastIncludedActionID is 0 and the actions are the full
// log.
func (c *Coordinator) LatestSnapshot(ctx context.Context, spaceID string) (protocol.SnapshotResponse, error) {
	if spaceID == "" {
		return protocol.SnapshotResponse{}, fmt.Errorf("snapshot: %w", ErrInvalidSpace)
	}

	snap, ok, err := c.store.ReadSnapshot(ctx, spaceID)
	if err != nil {
		return protocol.SnapshotResponse{}, &StorageError{Op: "snapshot", SpaceID: spaceID, Err: err}
	}

	after := int64(-1)
	var resp protocol.SnapshotResponse
	if ok {
		after = snap.LastIncludedActionID
		resp.State = snap.State
		resp.LastIncludedActionID = snap.LastIncludedActionID
	}

	actions, err := c.store.ReadActionsSince(ctx, spaceID, after)
	if err != nil {
		return protocol.SnapshotResponse{}, &StorageError{Op: "snapshot", SpaceID: spaceID, Err: err}
	}
	resp.ActionsSinceLastSnapshot = actions
	return resp, nil
}

// CreateSnapshot stores state as the snapshot of the space covering actions
// through lastActionID, replacing any previous snapshot. The state is
// trusted to be the reduction through lastActionID.
func (c *Coordinator) CreateSnapshot(ctx context.Context, spaceID string, lastActionID int64, state []byte) error {
	if spaceID == "" {
		return fmt.Errorf("create snapshot: %w", ErrInvalidSpace)
	}

	if err := c.store.WriteSnapshot(ctx, spaceID, lastActionID, state); err != nil {
		if errors.Is(err, store.ErrInvalidPayload) {
			return fmt.Errorf("create snapshot: %w: %v", ErrInvalidPayload, err)
		}
		return &StorageError{Op: "create_snapshot", SpaceID: spaceID, Err: err}
	}

	c.logger.Debug("snapshot stored", "space", spaceID, "action_id", lastActionID)
	return nil
}
