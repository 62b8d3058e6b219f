package protocol

import "encoding/json"

// PokeTypeActions is the only poke message type currently broadcast.
const PokeTypeActions = "actions"

// Action is a client-originated intent that has not been ordered yet.
type Action struct {
	ClientActionID string          `json:"clientActionId"`
	Action         json.RawMessage `json:"action"`
}

// ConfirmedAction is an Action after the server assigned its position in the
// space log. Once assigned it never changes.
type ConfirmedAction struct {
	ClientActionID string          `json:"clientActionId"`
	ServerActionID int64           `json:"serverActionId"`
	Action         json.RawMessage `json:"action"`
}

// Unconfirmed strips the server position.
func (c ConfirmedAction) Unconfirmed() Action {
	return Action{ClientActionID: c.ClientActionID, Action: c.Action}
}

// Snapshot pairs a reduced state with the last action folded into it.
type Snapshot struct {
	State                json.RawMessage `json:"state"`
	LastIncludedActionID int64           `json:"lastIncludedActionId"`
}

// PullRequest asks for every action after LastActionID. -1 means the full log.
type PullRequest struct {
	SpaceID      string `json:"spaceId"`
	LastActionID int64  `json:"lastActionId"`
}

// PullResponse carries actions in ascending serverActionId order.
type PullResponse struct {
	Actions []ConfirmedAction `json:"actions"`
}

// PushRequest submits a batch of actions to be ordered together.
type PushRequest struct {
	SpaceID string   `json:"spaceId"`
	Actions []Action `json:"actions"`
}

// PushResponse echoes the pushed batch with its assigned ids.
type PushResponse struct {
	Actions []ConfirmedAction `json:"actions"`
}

// SnapshotRequest asks for the latest compaction snapshot of a space.
type SnapshotRequest struct {
	SpaceID string `json:"spaceId"`
}

// SnapshotResponse is the stored snapshot state (null when the space has
// none) plus every action after it.
//
// LastIncludedActionID is 0 when no snapshot exists. It lets a client place
// the snapshot in the log even when no action follows it.
type SnapshotResponse struct {
	State                    json.RawMessage   `json:"state"`
	ActionsSinceLastSnapshot []ConfirmedAction `json:"actionsSinceLastSnapshot"`
	LastIncludedActionID     int64             `json:"lastIncludedActionId"`
}

// HasState reports whether the response carries a stored snapshot state.
func (r SnapshotResponse) HasState() bool {
	return len(r.State) > 0 && string(r.State) != "null"
}

// CreateSnapshotRequest overwrites the space snapshot. The server trusts the
// caller that State is the reduction through LastActionID.
type CreateSnapshotRequest struct {
	SpaceID      string          `json:"spaceId"`
	LastActionID int64           `json:"lastActionId"`
	State        json.RawMessage `json:"state"`
}

// CreateSnapshotResponse acknowledges a snapshot write.
type CreateSnapshotResponse struct {
	Success bool `json:"success"`
}

// PokeMessage is the best-effort notification broadcast after every
// successful push.
type PokeMessage struct {
	Type    string            `json:"type"`
	Actions []ConfirmedAction `json:"actions"`
}

// NewPoke builds an actions poke.
func NewPoke(actions []ConfirmedAction) PokeMessage {
	return PokeMessage{Type: PokeTypeActions, Actions: NonNil(actions)}
}

// ErrorResponse is the body of every non-2xx HTTP response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NonNil returns actions, or an empty slice when actions is nil, so that it
// encodes as [].
func NonNil(actions []ConfirmedAction) []ConfirmedAction {
	if actions == nil {
		return []ConfirmedAction{}
	}
	return actions
}

// LastID returns the serverActionId of the final action, or fallback when
// actions is empty.
func LastID(actions []ConfirmedAction, fallback int64) int64 {
	if len(actions) == 0 {
		return fallback
	}
	return actions[len(actions)-1].ServerActionID
}
