package harness

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/roach88/draftkeep/internal/canonical"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  %s\n", event)
	}
	return buf.String()
}

// matches reports whether event has the given type and, when key is not
// empty, the given key.
func matches(event TraceEvent, typ, key string) bool {
	return event.Type == typ && (key == "" || event.Key == key)
}

// assertTraceContains checks that some event of the given type and key
// carries a document matching assertion.Doc (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matches(event, assertion.Event, assertion.Key) && matchDoc(event.Doc, assertion.Doc) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s event for key %q with doc %v", assertion.Event, assertion.Key, assertion.Doc),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the event tokens appear in the given order.
// Tokens don't need to be consecutive, and each is matched after the
// previous match.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for _, want := range assertion.Events {
		found := false
		for pos < len(trace) {
			tok := trace[pos].Token()
			pos++
			if tok == want {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", assertion.Events),
				Actual:   fmt.Sprintf("%s not found after the preceding events", want),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that exactly Count events match.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matches(event, assertion.Event, assertion.Key) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d %s events for key %q", assertion.Count, assertion.Event, assertion.Key),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// matchDoc checks that actual is an object containing every member of
// expected with an equal value. Extra members in actual are ignored.
func matchDoc(actual any, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}

	actualMap, ok := actual.(map[string]any)
	if !ok {
		return false
	}
	for key, want := range expected {
		got, exists := actualMap[key]
		if !exists || !sameJSON(got, want) {
			return false
		}
	}
	return true
}

// sameJSON compares two values by their canonical JSON form, so 12 and
// json.Number("12") are equal.
func sameJSON(a, b any) bool {
	ca, err := canonical.Marshal(a)
	if err != nil {
		return false
	}
	cb, err := canonical.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
