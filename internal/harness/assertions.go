package harness

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/tracestore/internal/testutil"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. An empty result means all passed.
func EvaluateAssertions(tr *scenarioTrace, assertions []Assertion) []string {
	var failures []string
	for _, a := range assertions {
		if err := evaluate(tr, a); err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func evaluate(tr *scenarioTrace, a Assertion) error {
	switch a.Type {
	case AssertUpdates:
		got, err := collectUpdates(tr)
		if err != nil {
			return err
		}
		return compareUpdates(a.Type, toUpdates(a.Updates), got)

	case AssertConsolidated:
		b, err := tr.Consolidate()
		if err != nil {
			return err
		}
		return compareUpdates(a.Type, toUpdates(a.Updates), b.Updates())

	case AssertKeys, AssertKeysReverse:
		got, err := traceKeys(tr, a.Type == AssertKeysReverse)
		if err != nil {
			return err
		}
		if !reflect.DeepEqual(nonNil(a.Keys), nonNil(got)) {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprint(a.Keys), Actual: fmt.Sprint(got)}
		}
		return nil

	case AssertLen:
		if got := tr.Len(); got != a.Count {
			return &AssertionError{Type: a.Type, Expected: fmt.Sprint(a.Count), Actual: fmt.Sprint(got)}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func compareUpdates(kind string, want, got []testutil.Update) error {
	if reflect.DeepEqual(nonNil(want), nonNil(got)) {
		return nil
	}
	return &AssertionError{Type: kind, Expected: fmt.Sprint(want), Actual: fmt.Sprint(got)}
}

func traceKeys(tr *scenarioTrace, reverse bool) ([]int64, error) {
	c, err := tr.Cursor()
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var keys []int64
	if reverse {
		for c.FastForwardKeys(); c.KeyValid(); c.StepKeyReverse() {
			keys = append(keys, c.Key())
		}
		return keys, nil
	}
	for ; c.KeyValid(); c.StepKey() {
		keys = append(keys, c.Key())
	}
	return keys, nil
}

func nonNil[E any](s []E) []E {
	if s == nil {
		return []E{}
	}
	return s
}
