package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tracestore/internal/lattice"
	"github.com/roach88/tracestore/internal/testutil"
)

// Scenario is one scripted run against a fresh trace.
type Scenario struct {
	// Name identifies the scenario and its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Limits overrides the store's write limits for this scenario.
	Limits *Limits `yaml:"limits,omitempty"`

	Steps []Step `yaml:"steps"`

	Assertions []Assertion `yaml:"assertions"`
}

// Limits are per-write size bounds in bytes. Zero keeps the store default.
type Limits struct {
	MaxKeySize   int `yaml:"max_key_size,omitempty"`
	MaxValueSize int `yaml:"max_value_size,omitempty"`
}

// Time is an [epoch, round] pair.
type Time [2]uint64

// Product converts to the trace's time type.
func (t Time) Product() lattice.Product {
	return lattice.Product{Epoch: t[0], Round: t[1]}
}

// Update is one (key, value, time, weight) tuple.
type Update struct {
	Key    int64  `yaml:"key"`
	Val    string `yaml:"val"`
	Time   Time   `yaml:"time"`
	Weight int64  `yaml:"weight"`
}

func (u Update) update() testutil.Update {
	return testutil.U(u.Key, u.Val, u.Time.Product(), u.Weight)
}

func toUpdates(in []Update) []testutil.Update {
	out := make([]testutil.Update, len(in))
	for i, u := range in {
		out[i] = u.update()
	}
	return out
}

// Step is one operation. Exactly one field is set.
type Step struct {
	Insert              *InsertStep `yaml:"insert,omitempty"`
	RecedeTo            *Time       `yaml:"recede_to,omitempty"`
	TruncateKeysBelow   *int64      `yaml:"truncate_keys_below,omitempty"`
	TruncateValuesBelow *string     `yaml:"truncate_values_below,omitempty"`
	Compact             bool        `yaml:"compact,omitempty"`
	Snapshot            string      `yaml:"snapshot,omitempty"`
}

// InsertStep describes one batch.
type InsertStep struct {
	Lower   *Time    `yaml:"lower,omitempty"`
	Upper   *Time    `yaml:"upper"`
	Updates []Update `yaml:"updates"`

	// ExpectError names the error class the insert must fail with.
	// Only "capacity" is recognised.
	ExpectError string `yaml:"expect_error,omitempty"`
}

func (s Step) op() string {
	var ops []string
	if s.Insert != nil {
		ops = append(ops, OpInsert)
	}
	if s.RecedeTo != nil {
		ops = append(ops, OpRecedeTo)
	}
	if s.TruncateKeysBelow != nil {
		ops = append(ops, OpTruncateKeys)
	}
	if s.TruncateValuesBelow != nil {
		ops = append(ops, OpTruncateValues)
	}
	if s.Compact {
		ops = append(ops, OpCompact)
	}
	if s.Snapshot != "" {
		ops = append(ops, OpSnapshot)
	}
	if len(ops) != 1 {
		return ""
	}
	return ops[0]
}

// Step operation names, as recorded in results.
const (
	OpInsert         = "insert"
	OpRecedeTo       = "recede_to"
	OpTruncateKeys   = "truncate_keys_below"
	OpTruncateValues = "truncate_values_below"
	OpCompact        = "compact"
	OpSnapshot       = "snapshot"
)

// Assertion checks the trace after the last step.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Updates is the expected content (updates, consolidated).
	Updates []Update `yaml:"updates,omitempty"`

	// Keys is the expected key order (keys, keys_reverse).
	Keys []int64 `yaml:"keys,omitempty"`

	// Count is the expected estimate (len).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertUpdates      = "updates"
	AssertConsolidated = "consolidated"
	AssertKeys         = "keys"
	AssertKeysReverse  = "keys_reverse"
	AssertLen          = "len"
)

// ErrorCapacity is the only ExpectError class.
const ErrorCapacity = "capacity"

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
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
	if s.Limits != nil && (s.Limits.MaxKeySize < 0 || s.Limits.MaxValueSize < 0) {
		return fmt.Errorf("limits must not be negative")
	}

	for i, step := range s.Steps {
		op := step.op()
		if op == "" {
			return fmt.Errorf("steps[%d]: exactly one operation is required", i)
		}
		if op != OpInsert {
			continue
		}
		ins := step.Insert
		if ins.Upper == nil {
			return fmt.Errorf("steps[%d]: insert upper is required", i)
		}
		lower := lattice.Minimum[lattice.Product]()
		if ins.Lower != nil {
			lower = ins.Lower.Product()
		}
		if lower == ins.Upper.Product() {
			return fmt.Errorf("steps[%d]: insert lower and upper must differ", i)
		}
		if ins.ExpectError != "" && ins.ExpectError != ErrorCapacity {
			return fmt.Errorf("steps[%d]: unknown expect_error %q", i, ins.ExpectError)
		}
	}

	for i, a := range s.Assertions {
		switch a.Type {
		case AssertUpdates, AssertConsolidated, AssertKeys, AssertKeysReverse, AssertLen:
		default:
			return fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type)
		}
	}
	return nil
}
