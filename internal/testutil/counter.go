package testutil

// Op is the action type of the Counter reducer.
type Op struct {
	Type   string `json:"type" yaml:"type"`
	Amount int64  `json:"amount,omitempty" yaml:"amount,omitempty"`
}

// Counter op types.
const (
	OpIncrement = "increment"
	OpDecrement = "decrement"
	OpAdd       = "add"
)

// Counter is the reducer used by tests, the harness and `syncreducer
// test`. Unknown op types leave the state unchanged.
func Counter(state int64, op Op) int64 {
	switch op.Type {
	case OpIncrement:
		return state + 1
	case OpDecrement:
		return state - 1
	case OpAdd:
		return state + op.Amount
	default:
		return state
	}
}

// CounterSource identifies the Counter reducer when deriving a default
// space id.
const CounterSource = "testutil.Counter v1: increment, decrement, add"
