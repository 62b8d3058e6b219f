package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			if scenario.Name == "scenario_c" && testing.Short() {
				t.Skip("2000 actions")
			}
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_LeaveAndFailedAssertions(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: leave
description: A client leaves; later actions do not reach it.
steps:
  - join: c1
  - join: c2
  - dispatch: {client: c1, action: {type: increment}}
  - settle: true
  - leave: c2
  - dispatch: {client: c1, action: {type: add, amount: 2}}
  - settle: true
assertions:
  - type: state
    client: c1
    equals: 3
  - type: log
    count: 3
  - type: snapshot
    last_included: 0
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "3 entries")
	assert.Contains(t, result.Errors[1], "a stored snapshot")

	assert.Equal(t, map[string]int64{"c1": 3}, result.States)
	assert.Equal(t, []int64{1, 2}, result.LogIDs)
	assert.Equal(t, StepLeave, result.Trace[4].Step)
}

func TestCanonicalTrace(t *testing.T) {
	r := NewResult()
	r.record(TraceEvent{Seq: 1, Step: StepSettle, States: map[string]int64{"b": 1, "a": 1}, LastActionID: 1})

	got, err := CanonicalTrace("x", r)
	require.NoError(t, err)
	assert.Equal(t, `{"scenario_name":"x","trace":[{"last_action_id":1,"seq":1,"states":{"a":1,"b":1},"step":"settle"}]}`, string(got))
}
