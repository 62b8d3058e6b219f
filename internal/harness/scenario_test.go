package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncreducer/internal/testutil"
)

func TestParseScenario(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: s
description: d
space: todo
timeout: 3s
steps:
  - join: c1
    drop_pokes: 2
  - dispatch: {client: c1, action: {type: add, amount: 4}, times: 3}
  - concurrent:
      - {client: c1, action: {type: increment}}
  - settle: true
  - compact: c1
  - leave: c1
assertions:
  - type: converged
`))
	require.NoError(t, err)

	assert.Equal(t, "todo", scenario.Space)
	assert.Equal(t, 3*time.Second, scenario.Timeout)
	require.Len(t, scenario.Steps, 6)
	assert.Equal(t, 2, scenario.Steps[0].DropPokes)
	assert.Equal(t, testutil.Op{Type: "add", Amount: 4}, scenario.Steps[1].Dispatch.Action)
	assert.Equal(t, 3, scenario.Steps[1].Dispatch.times())
	assert.Equal(t, 1, scenario.Steps[2].Concurrent[0].times())
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: d\nsteps: [{join: c1}]\nassertions: [{type: converged}]\n",
			want: "name is required",
		},
		{
			name: "unknown field",
			yaml: "name: n\ndescription: d\nstep: []\n",
			want: "failed to parse YAML",
		},
		{
			name: "no steps",
			yaml: "name: n\ndescription: d\nassertions: [{type: converged}]\n",
			want: "steps list is required",
		},
		{
			name: "two kinds in one step",
			yaml: "name: n\ndescription: d\nsteps: [{join: c1, settle: true}]\nassertions: [{type: converged}]\n",
			want: "exactly one step kind",
		},
		{
			name: "dispatch before join",
			yaml: "name: n\ndescription: d\nsteps: [{dispatch: {client: c1, action: {type: increment}}}]\nassertions: [{type: converged}]\n",
			want: `client "c1" has not joined`,
		},
		{
			name: "duplicate join",
			yaml: "name: n\ndescription: d\nsteps: [{join: c1}, {join: c1}]\nassertions: [{type: converged}]\n",
			want: "already joined",
		},
		{
			name: "drop_pokes without join",
			yaml: "name: n\ndescription: d\nsteps: [{settle: true, drop_pokes: 1}]\nassertions: [{type: converged}]\n",
			want: "only apply to join",
		},
		{
			name: "state of departed client",
			yaml: "name: n\ndescription: d\nsteps: [{join: c1}, {leave: c1}]\nassertions: [{type: state, client: c1, equals: 1}]\n",
			want: "not live at the end",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\nsteps: [{join: c1}]\nassertions: [{type: trace_order}]\n",
			want: "unknown assertion type",
		},
		{
			name: "log without count",
			yaml: "name: n\ndescription: d\nsteps: [{join: c1}]\nassertions: [{type: log}]\n",
			want: "count is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "none.yaml"))
	assert.Error(t, err)
}

func TestLoadScenario_Testdata(t *testing.T) {
	entries, err := os.ReadDir("testdata/scenarios")
	require.NoError(t, err)
	for _, e := range entries {
		_, err := LoadScenario(filepath.Join("testdata/scenarios", e.Name()))
		assert.NoError(t, err, e.Name())
	}
}
