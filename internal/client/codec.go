package client

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/syncreducer/internal/core"
	"github.com/roach88/syncreducer/internal/protocol"
)

func decodeActions[A any](raw []protocol.ConfirmedAction) ([]core.ConfirmedAction[A], error) {
	out := make([]core.ConfirmedAction[A], 0, len(raw))
	for _, r := range raw {
		var a A
		if err := json.Unmarshal(r.Action, &a); err != nil {
			return nil, fmt.Errorf("client: decode action %d: %w", r.ServerActionID, err)
		}
		out = append(out, core.ConfirmedAction[A]{
			ClientActionID: r.ClientActionID,
			ServerActionID: r.ServerActionID,
			Action:         a,
		})
	}
	return out, nil
}

func decodeSnapshot[S, A any](resp protocol.SnapshotResponse) (core.SnapshotResult[S, A], error) {
	snap := core.SnapshotResult[S, A]{LastIncludedActionID: resp.LastIncludedActionID}
	if resp.HasState() {
		if err := json.Unmarshal(resp.State, &snap.State); err != nil {
			return snap, fmt.Errorf("client: decode snapshot state: %w", err)
		}
		snap.HasState = true
	}

	actions, err := decodeActions[A](resp.ActionsSinceLastSnapshot)
	if err != nil {
		return snap, err
	}
	snap.Actions = actions
	return snap, nil
}
