package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/syncreducer/internal/testutil"
)

// DefaultTimeout bounds each settle step.
const DefaultTimeout = 10 * time.Second

// Scenario is a scripted multi-client sync run.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Space defaults to the id derived from testutil.CounterSource.
	Space string `yaml:"space,omitempty"`

	// Timeout bounds each settle step. Defaults to DefaultTimeout.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario step. Exactly one of the step kinds is set.
type Step struct {
	// Join starts a client with this name and waits until it is ready.
	Join string `yaml:"join,omitempty"`
	// DropPokes discards the joining client's first N pokes.
	DropPokes int `yaml:"drop_pokes,omitempty"`
	// PokeDelay delays every poke to the joining client.
	PokeDelay time.Duration `yaml:"poke_delay,omitempty"`

	Dispatch   *DispatchStep  `yaml:"dispatch,omitempty"`
	Concurrent []DispatchStep `yaml:"concurrent,omitempty"`

	// Settle flushes every client and waits until all hold the full log.
	Settle bool `yaml:"settle,omitempty"`

	// Compact stores the named client's confirmed state as the snapshot.
	Compact string `yaml:"compact,omitempty"`

	// Leave closes the named client.
	Leave string `yaml:"leave,omitempty"`
}

// DispatchStep dispatches Action Times times from Client.
type DispatchStep struct {
	Client string      `yaml:"client"`
	Action testutil.Op `yaml:"action"`
	Times  int         `yaml:"times,omitempty"`
}

func (d DispatchStep) times() int {
	if d.Times <= 0 {
		return 1
	}
	return d.Times
}

// Assertion checks the final result.
type Assertion struct {
	Type string `yaml:"type"`

	// Client is used by state.
	Client string `yaml:"client,omitempty"`

	// Equals is the expected state (state, snapshot).
	Equals *int64 `yaml:"equals,omitempty"`

	// Count is the expected log length (log).
	Count *int `yaml:"count,omitempty"`

	// LastIncluded is the expected snapshot position (snapshot).
	LastIncluded *int64 `yaml:"last_included,omitempty"`
}

// Assertion type constants.
const (
	AssertState     = "state"
	AssertConverged = "converged"
	AssertLog       = "log"
	AssertSnapshot  = "snapshot"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and that steps
// only reference clients that have joined.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("timeout must be positive")
	}

	live := make(map[string]bool)
	requireLive := func(i int, name string) error {
		if !live[name] {
			return fmt.Errorf("steps[%d]: client %q has not joined", i, name)
		}
		return nil
	}

	for i, step := range s.Steps {
		if n := step.kinds(); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one step kind required, got %d", i, n)
		}
		if (step.DropPokes != 0 || step.PokeDelay != 0) && step.Join == "" {
			return fmt.Errorf("steps[%d]: drop_pokes and poke_delay only apply to join", i)
		}

		switch {
		case step.Join != "":
			if live[step.Join] {
				return fmt.Errorf("steps[%d]: client %q already joined", i, step.Join)
			}
			live[step.Join] = true
		case step.Dispatch != nil:
			if err := requireLive(i, step.Dispatch.Client); err != nil {
				return err
			}
		case len(step.Concurrent) > 0:
			for _, d := range step.Concurrent {
				if err := requireLive(i, d.Client); err != nil {
					return err
				}
			}
		case step.Compact != "":
			if err := requireLive(i, step.Compact); err != nil {
				return err
			}
		case step.Leave != "":
			if err := requireLive(i, step.Leave); err != nil {
				return err
			}
			delete(live, step.Leave)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a, live); err != nil {
			return err
		}
	}
	return nil
}

func (s Step) kinds() int {
	n := 0
	for _, set := range []bool{s.Join != "", s.Dispatch != nil, len(s.Concurrent) > 0, s.Settle, s.Compact != "", s.Leave != ""} {
		if set {
			n++
		}
	}
	return n
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a Assertion, live map[string]bool) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertState:
		if a.Client == "" || a.Equals == nil {
			return fmt.Errorf("assertions[%d]: client and equals are required for state", index)
		}
		if !live[a.Client] {
			return fmt.Errorf("assertions[%d]: client %q is not live at the end", index, a.Client)
		}
	case AssertConverged:
	case AssertLog:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for log", index)
		}
	case AssertSnapshot:
		if a.LastIncluded == nil {
			return fmt.Errorf("assertions[%d]: last_included is required for snapshot", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
