package space

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncreducer/internal/protocol"
	"github.com/roach88/syncreducer/internal/store"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "space.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewCoordinator(s)
}

func actions(prefix string, n int) []protocol.Action {
	out := make([]protocol.Action, n)
	for i := range out {
		out[i] = protocol.Action{
			ClientActionID: fmt.Sprintf("%s-%d", prefix, i+1),
			Action:         json.RawMessage(`{"type":"add","amount":1}`),
		}
	}
	return out
}

func ids(actions []protocol.ConfirmedAction) []int64 {
	out := make([]int64, len(actions))
	for i, a := range actions {
		out[i] = a.ServerActionID
	}
	return out
}

func TestCoordinator_PushAssignsContiguousIDs(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	first, err := c.Push(ctx, "s", actions("a", 2))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(first))
	assert.Equal(t, "a-1", first[0].ClientActionID)

	second, err := c.Push(ctx, "s", actions("b", 1))
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, ids(second))
}

func TestCoordinator_PushEmpty(t *testing.T) {
	c := newTestCoordinator(t)

	got, err := c.Push(context.Background(), "s", nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCoordinator_PushValidation(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Push(ctx, "", actions("a", 1))
	assert.ErrorIs(t, err, ErrInvalidSpace)

	_, err = c.Push(ctx, "s", []protocol.Action{{Action: json.RawMessage(`1`)}})
	assert.ErrorIs(t, err, ErrInvalidAction)
	assert.True(t, IsInvalidRequest(err))

	_, err = c.Push(ctx, "s", []protocol.Action{{ClientActionID: "x", Action: json.RawMessage(`{`)}})
	assert.ErrorIs(t, err, ErrInvalidPayload)
	assert.False(t, IsRetryable(err))

	// Nothing was consumed by the rejected requests.
	got, err := c.Push(ctx, "s", actions("ok", 1))
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(got))
}

func TestCoordinator_ConcurrentPushesToOneSpace(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	const clients = 10
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := c.Push(ctx, "s", actions(fmt.Sprintf("c%d", i), 2))
			assert.NoError(t, err)
			if assert.Len(t, got, 2) {
				assert.Equal(t, got[0].ServerActionID+1, got[1].ServerActionID)
			}
		}(i)
	}
	wg.Wait()

	all, err := c.Pull(ctx, "s", -1)
	require.NoError(t, err)
	require.Len(t, all, clients*2)
	for i, a := range all {
		assert.Equal(t, int64(i+1), a.ServerActionID)
	}
	assert.Zero(t, c.locks.size(), "idle space locks must be released")
}

func TestCoordinator_Pull(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Push(ctx, "s", actions("a", 3))
	require.NoError(t, err)

	got, err := c.Pull(ctx, "s", 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids(got))

	got, err = c.Pull(ctx, "s", -7)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids(got), "ids below -1 are treated as -1")

	got, err = c.Pull(ctx, "other", -1)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	_, err = c.Pull(ctx, "", 0)
	assert.ErrorIs(t, err, ErrInvalidSpace)
}

func TestCoordinator_LatestSnapshot(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	_, err := c.Push(ctx, "s", actions("a", 4))
	require.NoError(t, err)

	resp, err := c.LatestSnapshot(ctx, "s")
	require.NoError(t, err)
	assert.False(t, resp.HasState())
	assert.Equal(t, int64(0), resp.LastIncludedActionID)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(resp.ActionsSinceLastSnapshot))

	require.NoError(t, c.CreateSnapshot(ctx, "s", 2, []byte(`{"count":2}`)))

	resp, err = c.LatestSnapshot(ctx, "s")
	require.NoError(t, err)
	assert.True(t, resp.HasState())
	assert.JSONEq(t, `{"count":2}`, string(resp.State))
	assert.Equal(t, int64(2), resp.LastIncludedActionID)
	assert.Equal(t, []int64{3, 4}, ids(resp.ActionsSinceLastSnapshot))
}

func TestCoordinator_CreateSnapshotValidation(t *testing.T) {
	c := newTestCoordinator(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.CreateSnapshot(ctx, "", 0, []byte(`0`)), ErrInvalidSpace)
	assert.ErrorIs(t, c.CreateSnapshot(ctx, "s", 0, []byte(`nope`)), ErrInvalidPayload)
}

// failingStore fails every call with err.
type failingStore struct {
	err error
}

func (f failingStore) AppendActionsAfter(context.Context, string, int64, []protocol.Action) ([]protocol.ConfirmedAction, error) {
	return nil, f.err
}

func (f failingStore) ReadActionsSince(context.Context, string, int64) ([]protocol.ConfirmedAction, error) {
	return nil, f.err
}

func (f failingStore) LastActionID(context.Context, string) (int64, error) { return 0, nil }

func (f failingStore) WriteSnapshot(context.Context, string, int64, []byte) error { return f.err }

func (f failingStore) ReadSnapshot(context.Context, string) (protocol.Snapshot, bool, error) {
	return protocol.Snapshot{}, false, f.err
}

func TestCoordinator_StorageErrorsAreRetryable(t *testing.T) {
	boom := errors.New("disk I/O error")
	c := NewCoordinator(failingStore{err: boom})
	ctx := context.Background()

	_, err := c.Push(ctx, "s", actions("a", 1))
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.ErrorIs(t, err, boom)

	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "push", se.Op)
	assert.Equal(t, "s", se.SpaceID)

	_, err = c.Pull(ctx, "s", -1)
	assert.True(t, IsRetryable(err))

	_, err = c.LatestSnapshot(ctx, "s")
	assert.True(t, IsRetryable(err))

	assert.True(t, IsRetryable(c.CreateSnapshot(ctx, "s", 1, []byte(`1`))))
}

// movedStore reports a counter one past what the coordinator read.
type movedStore struct {
	failingStore
}

func (movedStore) AppendActionsAfter(_ context.Context, spaceID string, after int64, _ []protocol.Action) ([]protocol.ConfirmedAction, error) {
	return nil, &store.ConflictError{SpaceID: spaceID, Expected: after, Actual: after + 1}
}

func TestCoordinator_DetectsNonContiguousAppend(t *testing.T) {
	c := NewCoordinator(movedStore{})

	_, err := c.Push(context.Background(), "s", actions("a", 1))

	var ce *ContiguityError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, int64(1), ce.Expected)
	assert.Equal(t, int64(2), ce.Got)
	assert.False(t, IsRetryable(err))
}
