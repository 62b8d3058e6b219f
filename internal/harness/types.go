package harness

import "github.com/roach88/syncreducer/internal/testutil"

// Trace step names.
const (
	StepJoin       = "join"
	StepDispatch   = "dispatch"
	StepConcurrent = "concurrent"
	StepSettle     = "settle"
	StepCompact    = "compact"
	StepLeave      = "leave"
)

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq          int64            `json:"seq"`
	Step         string           `json:"step"`
	Client       string           `json:"client,omitempty"`
	Action       *testutil.Op     `json:"action,omitempty"`
	Times        int              `json:"times,omitempty"`
	Count        int              `json:"count,omitempty"`
	LastActionID int64            `json:"last_action_id,omitempty"`
	States       map[string]int64 `json:"states,omitempty"`
}

// SnapshotInfo is the stored snapshot at the end of a run.
type SnapshotInfo struct {
	LastIncludedActionID int64 `json:"last_included_action_id"`
	State                int64 `json:"state"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// States and Tails hold each live client's effective state and highest
	// confirmed action id when the run ended.
	States map[string]int64 `json:"states"`
	Tails  map[string]int64 `json:"tails"`

	// LogIDs are the server action ids in the space log, ascending.
	LogIDs []int64 `json:"-"`

	// LogState is the log reduced from the initial state.
	LogState int64 `json:"log_state"`

	Snapshot *SnapshotInfo `json:"snapshot,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		States: make(map[string]int64),
		Tails:  make(map[string]int64),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) record(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
