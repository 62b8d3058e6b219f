package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/syncreducer/internal/protocol"
)

// WriteSnapshot stores state as the snapshot of the space, overwriting any
// previous one. The store does not check that state is really the reduction
// through lastIncludedActionID.
func (s *Store) WriteSnapshot(ctx context.Context, spaceID string, lastIncludedActionID int64, state []byte) error {
	canonical, err := protocol.Canonicalize(state)
	if err != nil {
		return fmt.Errorf("write snapshot: %w: %v", ErrInvalidPayload, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO space_snapshot (space_id, state, last_included_action_id)
		VALUES (?, ?, ?)
		ON CONFLICT(space_id) DO UPDATE SET
			state = excluded.state,
			last_included_action_id = excluded.last_included_action_id,
			created_at = CURRENT_TIMESTAMP
	`, spaceID, string(canonical), lastIncludedActionID)
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// ReadSnapshot returns the snapshot of the space. ok is false when the space
// has no snapshot.
func (s *Store) ReadSnapshot(ctx context.Context, spaceID string) (snap protocol.Snapshot, ok bool, err error) {
	var state string
	err = s.db.QueryRowContext(ctx, `
		SELECT state, last_included_action_id
		FROM space_snapshot
		WHERE space_id = ?
	`, spaceID).Scan(&state, &snap.LastIncludedActionID)
	if errors.Is(err, sql.ErrNoRows) {
		return protocol.Snapshot{}, false, nil
	}
	if err != nil {
		return protocol.Snapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	snap.State = []byte(state)
	return snap, true, nil
}

// SpaceInfo summarizes one space for operators.
type SpaceInfo struct {
	SpaceID      string `json:"space_id"`
	LastActionID int64  `json:"last_action_id"`
	// SnapshotActionID is -1 when the space has no snapshot.
	SnapshotActionID int64 `json:"snapshot_action_id"`
}

// ListSpaces returns every space that has been written, ordered by id.
func (s *Store) ListSpaces(ctx context.Context) ([]SpaceInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.space_id, c.counter, COALESCE(sn.last_included_action_id, -1)
		FROM space_action_counter c
		LEFT JOIN space_snapshot sn ON sn.space_id = c.space_id
		UNION
		SELECT sn.space_id, 0, sn.last_included_action_id
		FROM space_snapshot sn
		WHERE sn.space_id NOT IN (SELECT space_id FROM space_action_counter)
		ORDER BY 1 ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list spaces: %w", err)
	}
	defer rows.Close()

	spaces := []SpaceInfo{}
	for rows.Next() {
		var info SpaceInfo
		if err := rows.Scan(&info.SpaceID, &info.LastActionID, &info.SnapshotActionID); err != nil {
			return nil, fmt.Errorf("scan space: %w", err)
		}
		spaces = append(spaces, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spaces: %w", err)
	}
	return spaces, nil
}
