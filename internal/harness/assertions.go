package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Outputs  []string // Full output for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Outputs) > 0 {
		fmt.Fprintf(&buf, "\nFull output:\n")
		for i, out := range e.Outputs {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, out)
		}
	}

	return buf.String()
}

// assertOutputContains checks that some output matches the pattern.
func assertOutputContains(outputs []string, assertion Assertion) error {
	for _, out := range outputs {
		if MatchOutput(assertion.Output, out) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertOutputContains,
		Expected: assertion.Output,
		Actual:   "not found in output",
		Outputs:  outputs,
	}
}

// assertOutputOrder checks that the patterns match outputs in order.
// Outputs don't need to be consecutive (intervening outputs are allowed).
func assertOutputOrder(outputs []string, assertion Assertion) error {
	next := 0
	for _, out := range outputs {
		if next < len(assertion.Outputs) && MatchOutput(assertion.Outputs[next], out) {
			next++
		}
	}
	if next == len(assertion.Outputs) {
		return nil
	}
	return &AssertionError{
		Type:     AssertOutputOrder,
		Expected: fmt.Sprintf("outputs in order: %q", assertion.Outputs),
		Actual:   fmt.Sprintf("no match for %q after %d matched", assertion.Outputs[next], next),
		Outputs:  outputs,
	}
}

// assertOutputCount checks that the pattern matches exactly Count outputs.
func assertOutputCount(outputs []string, assertion Assertion) error {
	count := 0
	for _, out := range outputs {
		if MatchOutput(assertion.Output, out) {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertOutputCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Output),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Outputs:  outputs,
		}
	}
	return nil
}

// assertOutputExact checks the complete output, position by position.
func assertOutputExact(outputs []string, assertion Assertion) error {
	if err := checkExpect(0, assertion.Outputs, outputs); err != nil {
		return &AssertionError{
			Type:     AssertOutputExact,
			Expected: fmt.Sprintf("%q", assertion.Outputs),
			Actual:   fmt.Sprintf("%q", outputs),
		}
	}
	return nil
}

// assertFinalState checks the set fields of the assertion against the
// state after the last step.
func assertFinalState(result *Result, assertion Assertion) error {
	st := result.State

	check := func(field string, want []int, got []int) error {
		if want == nil || slices.Equal(want, got) {
			return nil
		}
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s = %v", field, want),
			Actual:   fmt.Sprintf("%s = %v", field, got),
		}
	}

	layers := make([]int, len(st.Layers))
	for i, l := range st.Layers {
		layers[i] = int(l)
	}
	if err := check("layers", assertion.Layers, layers); err != nil {
		return err
	}
	if err := check("modifiers", assertion.Modifiers, toInts(st.Modifiers)); err != nil {
		return err
	}
	if err := check("locks", assertion.Locks, toInts(st.Locks)); err != nil {
		return err
	}
	if assertion.Pending != nil && *assertion.Pending != st.Pending {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("pending = %d", *assertion.Pending),
			Actual:   fmt.Sprintf("pending = %d", st.Pending),
		}
	}
	return nil
}

func toInts(ids []uint8) []int {
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string
	outputs := result.OutputTexts()

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertOutputContains:
			err = assertOutputContains(outputs, assertion)
		case AssertOutputOrder:
			err = assertOutputOrder(outputs, assertion)
		case AssertOutputCount:
			err = assertOutputCount(outputs, assertion)
		case AssertOutputExact:
			err = assertOutputExact(outputs, assertion)
		case AssertFinalState:
			err = assertFinalState(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
