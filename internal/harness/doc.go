// Package harness runs sync scenarios end to end.
//
// A scenario starts a sync server on an in-memory SQLite store, joins
// clients running the testutil.Counter reducer over in-process networks,
// drives them through steps and checks the outcome.
//
// # Scenario Format
//
//	name: scenario_a
//	description: "Two clients converge"
//	space: counter            # optional
//	timeout: 10s              # optional, per settle
//	steps:
//	  - join: c1
//	  - join: c2
//	    drop_pokes: 1         # lose the first poke
//	  - dispatch: {client: c1, action: {type: increment}, times: 2}
//	  - concurrent:
//	      - {client: c1, action: {type: increment}, times: 1000}
//	      - {client: c2, action: {type: decrement}, times: 1000}
//	  - settle: true
//	  - compact: c1
//	  - leave: c2
//	assertions:
//	  - type: state
//	    client: c1
//	    equals: 2
//	  - type: converged
//	  - type: log
//	    count: 2
//	  - type: snapshot
//	    last_included: 2
//	    equals: 2
//
// # Assertion Types
//
//   - state: a client's effective state equals a value
//   - converged: every live client holds the full log and its reduction
//   - log: the log has exactly count entries with ids 1..count
//   - snapshot: the stored snapshot covers last_included (and equals)
//
// # Deterministic Traces
//
// Steps are recorded in a trace numbered by testutil.StepClock. Settle
// events carry the converged states, so the trace is identical across runs
// regardless of push and poke timing. RunWithGolden compares it to
// testdata/golden/<name>.golden.
package harness
