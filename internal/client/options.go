package client

import (
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/roach88/syncreducer/internal/core"
	"github.com/roach88/syncreducer/internal/protocol"
	"github.com/roach88/syncreducer/internal/transport"
)

// Defaults applied by New when an option is left zero.
const (
	DefaultPushInterval        = 100 * time.Millisecond
	DefaultPullInterval        = 100 * time.Millisecond
	DefaultSyncInterval        = 5 * time.Second
	DefaultSnapshotThreshold   = 50
	DefaultSnapshotProbability = 0.01
)

// Options configures a Client.
type Options[S, A any] struct {
	// SpaceID names the space to sync. When empty, a stable id is derived
	// from ReducerSource.
	SpaceID string

	// ReducerSource is any text identifying the reducer's behavior. It is
	// hashed into a default space id so clients running the same reducer
	// meet in the same space.
	ReducerSource string

	Reducer      core.Reducer[S, A]
	InitialState S

	// Network is owned by the client and closed by Close.
	Network transport.Network

	// PushInterval is the minimum gap between push batches.
	PushInterval time.Duration

	// PullInterval is the minimum gap between catch-up pulls.
	PullInterval time.Duration

	// SyncInterval is the period of the background tick that retries
	// startup and runs catch-up pulls.
	SyncInterval time.Duration

	// SnapshotThreshold is the log length after which the client starts
	// offering snapshots.
	SnapshotThreshold int64

	// SnapshotProbability is the chance that applying a poke triggers a
	// snapshot. Negative disables compaction.
	SnapshotProbability float64

	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64

	// IDGenerator creates client action ids. Defaults to UUIDv7Generator.
	IDGenerator IDGenerator

	Logger *slog.Logger
}

func (o *Options[S, A]) validate() error {
	if o.Reducer == nil {
		return errors.New("client: reducer is required")
	}
	if o.Network == nil {
		return errors.New("client: network is required")
	}
	if o.SpaceID == "" {
		if o.ReducerSource == "" {
			return ErrNoSpace
		}
		o.SpaceID = protocol.DefaultSpaceID(o.ReducerSource)
	}
	if o.PushInterval <= 0 {
		o.PushInterval = DefaultPushInterval
	}
	if o.PullInterval <= 0 {
		o.PullInterval = DefaultPullInterval
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = DefaultSyncInterval
	}
	if o.SnapshotThreshold <= 0 {
		o.SnapshotThreshold = DefaultSnapshotThreshold
	}
	if o.SnapshotProbability == 0 {
		o.SnapshotProbability = DefaultSnapshotProbability
	}
	if o.Rand == nil {
		o.Rand = rand.Float64
	}
	if o.IDGenerator == nil {
		o.IDGenerator = UUIDv7Generator{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return nil
}
