package harness

import (
	"fmt"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Calls    []string // Full call log for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nCall log:\n")
	for i, call := range e.Calls {
		fmt.Fprintf(&buf, "  [%d] %s\n", i+1, call)
	}

	return buf.String()
}

// assertCallSequence checks that the calls appear in the given order.
// Calls don't need to be consecutive.
func assertCallSequence(calls []string, assertion Assertion) error {
	next := 0
	for _, call := range calls {
		if next < len(assertion.Calls) && call == assertion.Calls[next] {
			next++
		}
	}
	if next == len(assertion.Calls) {
		return nil
	}

	return &AssertionError{
		Type:     AssertCallSequence,
		Expected: fmt.Sprintf("calls in order: %v", assertion.Calls),
		Actual:   fmt.Sprintf("sequence broken at %q (position %d)", assertion.Calls[next], next+1),
		Calls:    calls,
	}
}

// assertCallCount checks that op was called exactly the specified number of
// times.
func assertCallCount(calls []string, assertion Assertion) error {
	count := countCalls(calls, assertion.Call)
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertCallCount,
			Expected: fmt.Sprintf("%d calls to %s", assertion.Count, assertion.Call),
			Actual:   fmt.Sprintf("%d calls", count),
			Calls:    calls,
		}
	}
	return nil
}

// assertCallAbsent checks that op was never called.
func assertCallAbsent(calls []string, assertion Assertion) error {
	if count := countCalls(calls, assertion.Call); count > 0 {
		return &AssertionError{
			Type:     AssertCallAbsent,
			Expected: fmt.Sprintf("no calls to %s", assertion.Call),
			Actual:   fmt.Sprintf("%d calls", count),
			Calls:    calls,
		}
	}
	return nil
}

func countCalls(calls []string, op string) int {
	n := 0
	for _, call := range calls {
		if strings.HasPrefix(call, op+"(") {
			n++
		}
	}
	return n
}

// EvaluateAssertions runs all assertions against the call log and returns
// the failure messages.
func EvaluateAssertions(calls []string, assertions []Assertion) []string {
	var errs []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertCallSequence:
			err = assertCallSequence(calls, assertion)
		case AssertCallCount:
			err = assertCallCount(calls, assertion)
		case AssertCallAbsent:
			err = assertCallAbsent(calls, assertion)
		default:
			err = fmt.Errorf("unknown assertion type: %s", assertion.Type)
		}

		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}

	return errs
}
