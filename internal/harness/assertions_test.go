package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestEvaluateAssertions(t *testing.T) {
	result := &Result{
		States:   map[string]int64{"c1": 3, "c2": 3},
		Tails:    map[string]int64{"c1": 3, "c2": 3},
		LogIDs:   []int64{1, 2, 3},
		LogState: 3,
		Snapshot: &SnapshotInfo{LastIncludedActionID: 2, State: 2},
	}

	tests := []struct {
		name      string
		assertion Assertion
		wantErr   string
	}{
		{"state ok", Assertion{Type: AssertState, Client: "c1", Equals: ptr(int64(3))}, ""},
		{"state mismatch", Assertion{Type: AssertState, Client: "c1", Equals: ptr(int64(4))}, "c1 state 4"},
		{"state unknown client", Assertion{Type: AssertState, Client: "c9", Equals: ptr(int64(3))}, "not live"},
		{"converged", Assertion{Type: AssertConverged}, ""},
		{"log ok", Assertion{Type: AssertLog, Count: ptr(3)}, ""},
		{"log length", Assertion{Type: AssertLog, Count: ptr(2)}, "2 entries"},
		{"snapshot ok", Assertion{Type: AssertSnapshot, LastIncluded: ptr(int64(2)), Equals: ptr(int64(2))}, ""},
		{"snapshot position", Assertion{Type: AssertSnapshot, LastIncluded: ptr(int64(3))}, "last included 3"},
		{"snapshot state", Assertion{Type: AssertSnapshot, LastIncluded: ptr(int64(2)), Equals: ptr(int64(5))}, "state 5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			failures := EvaluateAssertions(result, []Assertion{tt.assertion})
			if tt.wantErr == "" {
				assert.Empty(t, failures)
				return
			}
			if assert.Len(t, failures, 1) {
				assert.Contains(t, failures[0], tt.wantErr)
			}
		})
	}
}

func TestAssertConverged_Diverged(t *testing.T) {
	result := &Result{
		States:   map[string]int64{"c1": 3, "c2": 2},
		Tails:    map[string]int64{"c1": 3, "c2": 2},
		LogIDs:   []int64{1, 2, 3},
		LogState: 3,
	}
	failures := EvaluateAssertions(result, []Assertion{{Type: AssertConverged}})
	if assert.Len(t, failures, 1) {
		assert.Contains(t, failures[0], "c2=2@2")
		assert.NotContains(t, failures[0], "c1=")
	}
}

func TestAssertLog_Holes(t *testing.T) {
	result := &Result{LogIDs: []int64{1, 3}}
	failures := EvaluateAssertions(result, []Assertion{{Type: AssertLog, Count: ptr(2)}})
	if assert.Len(t, failures, 1) {
		assert.Contains(t, failures[0], "id 2 at position 1")
	}
}
