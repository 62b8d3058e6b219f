package harness

import (
	"fmt"
	"sort"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion against result and returns the
// failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertState:
		return assertState(result, a)
	case AssertConverged:
		return assertConverged(result)
	case AssertLog:
		return assertLog(result, a)
	case AssertSnapshot:
		return assertSnapshot(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertState(result *Result, a Assertion) error {
	got, ok := result.States[a.Client]
	if !ok {
		return &AssertionError{Type: AssertState, Expected: fmt.Sprintf("client %s live", a.Client), Actual: "not live"}
	}
	if got != *a.Equals {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("%s state %d", a.Client, *a.Equals),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}

// assertConverged checks that every live client holds the full log and
// its reduction.
func assertConverged(result *Result) error {
	var last int64
	if n := len(result.LogIDs); n > 0 {
		last = result.LogIDs[n-1]
	}

	names := make([]string, 0, len(result.States))
	for name := range result.States {
		names = append(names, name)
	}
	sort.Strings(names)

	var diverged []string
	for _, name := range names {
		if result.States[name] != result.LogState || result.Tails[name] != last {
			diverged = append(diverged, fmt.Sprintf("%s=%d@%d", name, result.States[name], result.Tails[name]))
		}
	}
	if len(diverged) > 0 {
		return &AssertionError{
			Type:     AssertConverged,
			Expected: fmt.Sprintf("every client at state %d@%d", result.LogState, last),
			Actual:   strings.Join(diverged, ", "),
		}
	}
	return nil
}

func assertLog(result *Result, a Assertion) error {
	if len(result.LogIDs) != *a.Count {
		return &AssertionError{
			Type:     AssertLog,
			Expected: fmt.Sprintf("%d entries", *a.Count),
			Actual:   fmt.Sprintf("%d entries", len(result.LogIDs)),
		}
	}
	for i, id := range result.LogIDs {
		if id != int64(i+1) {
			return &AssertionError{
				Type:     AssertLog,
				Expected: fmt.Sprintf("id %d at position %d", i+1, i),
				Actual:   fmt.Sprintf("id %d", id),
			}
		}
	}
	return nil
}

func assertSnapshot(result *Result, a Assertion) error {
	if result.Snapshot == nil {
		return &AssertionError{Type: AssertSnapshot, Expected: "a stored snapshot", Actual: "none"}
	}
	if result.Snapshot.LastIncludedActionID != *a.LastIncluded {
		return &AssertionError{
			Type:     AssertSnapshot,
			Expected: fmt.Sprintf("last included %d", *a.LastIncluded),
			Actual:   fmt.Sprintf("%d", result.Snapshot.LastIncludedActionID),
		}
	}
	if a.Equals != nil && result.Snapshot.State != *a.Equals {
		return &AssertionError{
			Type:     AssertSnapshot,
			Expected: fmt.Sprintf("state %d", *a.Equals),
			Actual:   fmt.Sprintf("%d", result.Snapshot.State),
		}
	}
	return nil
}
