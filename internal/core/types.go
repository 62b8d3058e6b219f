package core

// Reducer is a pure state transition. It must not retain or mutate state.
type Reducer[S, A any] func(state S, action A) S

// PendingAction is a locally dispatched action awaiting confirmation.
type PendingAction[A any] struct {
	ClientActionID string
	Action         A
}

// ConfirmedAction is an action with its position in the space log.
type ConfirmedAction[A any] struct {
	ClientActionID string
	ServerActionID int64
	Action         A
}

// SnapshotResult is a server snapshot and the authoritative actions after
// it.
type SnapshotResult[S, A any] struct {
	// HasState is false when the space has no stored snapshot. The merge
	// then starts from the initial state.
	HasState bool
	State    S

	// LastIncludedActionID is the last action folded into State, 0 when
	// the space has no snapshot.
	LastIncludedActionID int64

	// Actions are the confirmed actions after LastIncludedActionID in
	// ascending order.
	Actions []ConfirmedAction[A]
}

// Continuity classifies a batch of confirmed actions against the tail of
// the known log.
type Continuity int

const (
	// Contiguous batches start exactly one past the tail.
	Contiguous Continuity = iota + 1
	// Duplicate batches end at or below the tail; everything in them is
	// already applied.
	Duplicate
	// Overlapping batches start at or below the tail and end past it.
	Overlapping
	// Gap batches start more than one past the tail.
	Gap
)

// String returns the continuity name.
func (c Continuity) String() string {
	switch c {
	case Contiguous:
		return "contiguous"
	case Duplicate:
		return "duplicate"
	case Overlapping:
		return "overlapping"
	case Gap:
		return "gap"
	default:
		return "unknown"
	}
}
