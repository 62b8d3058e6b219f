package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/syncreducer/internal/protocol"
)

// ErrInvalidPayload is returned when an action payload or snapshot state is
// not valid JSON. Nothing is written when it is returned.
var ErrInvalidPayload = errors.New("invalid payload")

// ConflictError is returned by AppendActionsAfter when the space counter
// no longer matches the caller's last action id. Nothing is written.
type ConflictError struct {
	SpaceID  string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("append actions: space %s: counter is %d, expected %d", e.SpaceID, e.Actual, e.Expected)
}

// AppendActions assigns the next len(actions) server action ids of the space
// to actions, in input order, and persists them.
//
// Counter read, inserts and counter advance share one transaction, so
// concurrent callers never observe or assign the same id and ids never skip.
// On any error the transaction rolls back and no id is consumed.
//
// An empty input returns an empty slice without touching the database.
func (s *Store) AppendActions(ctx context.Context, spaceID string, actions []protocol.Action) ([]protocol.ConfirmedAction, error) {
	return s.appendActions(ctx, spaceID, -1, actions)
}

// AppendActionsAfter is AppendActions with a precondition: the counter read
// inside the transaction must equal after. Otherwise it rolls back and
// returns a *ConflictError.
func (s *Store) AppendActionsAfter(ctx context.Context, spaceID string, after int64, actions []protocol.Action) ([]protocol.ConfirmedAction, error) {
	if after < 0 {
		return nil, fmt.Errorf("append actions: negative last action id %d", after)
	}
	return s.appendActions(ctx, spaceID, after, actions)
}

// appendActions skips the counter check when after is negative.
func (s *Store) appendActions(ctx context.Context, spaceID string, after int64, actions []protocol.Action) ([]protocol.ConfirmedAction, error) {
	if len(actions) == 0 {
		return []protocol.ConfirmedAction{}, nil
	}

	// Validate all payloads before opening a transaction.
	payloads := make([]string, len(actions))
	for i, a := range actions {
		canonical, err := protocol.Canonicalize(a.Action)
		if err != nil {
			return nil, fmt.Errorf("append actions: action %d: %w: %v", i, ErrInvalidPayload, err)
		}
		payloads[i] = string(canonical)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("append actions: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO space_action_counter (space_id, counter)
		VALUES (?, 0)
		ON CONFLICT(space_id) DO NOTHING
	`, spaceID); err != nil {
		return nil, fmt.Errorf("append actions: init counter: %w", err)
	}

	var base int64
	if err := tx.QueryRowContext(ctx,
		`SELECT counter FROM space_action_counter WHERE space_id = ?`, spaceID,
	).Scan(&base); err != nil {
		return nil, fmt.Errorf("append actions: read counter: %w", err)
	}
	if after >= 0 && base != after {
		return nil, &ConflictError{SpaceID: spaceID, Expected: after, Actual: base}
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO actions (space_id, server_action_id, client_action_id, action)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("append actions: prepare insert: %w", err)
	}
	defer stmt.Close()

	confirmed := make([]protocol.ConfirmedAction, len(actions))
	for i, a := range actions {
		id := base + int64(i) + 1
		if _, err := stmt.ExecContext(ctx, spaceID, id, a.ClientActionID, payloads[i]); err != nil {
			return nil, fmt.Errorf("append actions: insert %d: %w", id, err)
		}
		confirmed[i] = protocol.ConfirmedAction{
			ClientActionID: a.ClientActionID,
			ServerActionID: id,
			Action:         []byte(payloads[i]),
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE space_action_counter SET counter = ? WHERE space_id = ?`,
		base+int64(len(actions)), spaceID,
	); err != nil {
		return nil, fmt.Errorf("append actions: advance counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("append actions: commit: %w", err)
	}

	return confirmed, nil
}

// ReadActionsSince returns every action of the space with
// server_action_id > afterID in ascending order. afterID -1 (or any negative
// value) returns the full log.
//
// Returns an empty slice (not nil) if there are no such actions.
func (s *Store) ReadActionsSince(ctx context.Context, spaceID string, afterID int64) ([]protocol.ConfirmedAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_action_id, server_action_id, action
		FROM actions
		WHERE space_id = ? AND server_action_id > ?
		ORDER BY server_action_id ASC
	`, spaceID, afterID)
	if err != nil {
		return nil, fmt.Errorf("read actions: %w", err)
	}
	defer rows.Close()

	actions := []protocol.ConfirmedAction{}
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}

	return actions, nil
}

// FindAction returns the confirmed action with the given client action id.
// Returns sql.ErrNoRows if the action was never confirmed.
func (s *Store) FindAction(ctx context.Context, spaceID, clientActionID string) (protocol.ConfirmedAction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT client_action_id, server_action_id, action
		FROM actions
		WHERE space_id = ? AND client_action_id = ?
		ORDER BY server_action_id ASC
		LIMIT 1
	`, spaceID, clientActionID)
	return scanAction(row)
}

// LastActionID returns the last server action id assigned in the space, or 0
// for a space that has never been written.
func (s *Store) LastActionID(ctx context.Context, spaceID string) (int64, error) {
	var counter int64
	err := s.db.QueryRowContext(ctx,
		`SELECT counter FROM space_action_counter WHERE space_id = ?`, spaceID,
	).Scan(&counter)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("last action id: %w", err)
	}
	return counter, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (protocol.ConfirmedAction, error) {
	var a protocol.ConfirmedAction
	var payload string
	if err := row.Scan(&a.ClientActionID, &a.ServerActionID, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return protocol.ConfirmedAction{}, err
		}
		return protocol.ConfirmedAction{}, fmt.Errorf("scan action: %w", err)
	}
	a.Action = []byte(payload)
	return a, nil
}
