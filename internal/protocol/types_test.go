package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPokeMessage_JSONShape(t *testing.T) {
	poke := NewPoke([]ConfirmedAction{
		{ClientActionID: "c1", ServerActionID: 1, Action: json.RawMessage(`{"type":"increment"}`)},
	})

	data, err := json.Marshal(poke)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"type":"actions","actions":[{"clientActionId":"c1","serverActionId":1,"action":{"type":"increment"}}]}`,
		string(data))
}

func TestNewPoke_EmptyEncodesAsArray(t *testing.T) {
	data, err := json.Marshal(NewPoke(nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"actions","actions":[]}`, string(data))
}

func TestSnapshotResponse_HasState(t *testing.T) {
	assert.False(t, SnapshotResponse{}.HasState())
	assert.False(t, SnapshotResponse{State: json.RawMessage("null")}.HasState())
	assert.True(t, SnapshotResponse{State: json.RawMessage("0")}.HasState())
}

func TestSnapshotResponse_DecodesNullState(t *testing.T) {
	var resp SnapshotResponse
	err := json.Unmarshal([]byte(`{"state":null,"actionsSinceLastSnapshot":[]}`), &resp)
	require.NoError(t, err)
	assert.False(t, resp.HasState())
	assert.Empty(t, resp.ActionsSinceLastSnapshot)
	assert.Equal(t, int64(0), resp.LastIncludedActionID)
}

func TestLastID(t *testing.T) {
	assert.Equal(t, int64(7), LastID(nil, 7))
	assert.Equal(t, int64(3), LastID([]ConfirmedAction{{ServerActionID: 2}, {ServerActionID: 3}}, 7))
}

func TestConfirmedAction_Unconfirmed(t *testing.T) {
	c := ConfirmedAction{ClientActionID: "x", ServerActionID: 9, Action: json.RawMessage(`1`)}
	assert.Equal(t, Action{ClientActionID: "x", Action: json.RawMessage(`1`)}, c.Unconfirmed())
}
