package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
	Events   []EventTrace
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Events) > 0 {
		fmt.Fprintf(&buf, "\nEvents:\n")
		for _, ev := range e.Events {
			fmt.Fprintf(&buf, "  [%d] %s %v\n", ev.Seq, ev.Type, ev.Key)
		}
	}
	return buf.String()
}

// checkExpect compares a step's output with its expect clause.
func checkExpect(exp *Expect, output any) []string {
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if exp.Key != nil && !valuesEqual(output, exp.Key) {
		fail("expected key %v, got %v", exp.Key, output)
	}
	if exp.Keys != nil && !valuesEqual(output, exp.Keys) {
		fail("expected keys %v, got %v", exp.Keys, output)
	}

	found, _ := output.(map[string]any)
	if exp.Found != nil {
		if got, _ := found["found"].(bool); got != *exp.Found {
			fail("expected found=%t, got %t", *exp.Found, got)
		}
	}
	if exp.Value != nil {
		if !matchSubset(found["value"], exp.Value) {
			fail("expected value matching %v, got %v", exp.Value, found["value"])
		}
	}

	if exp.Values != nil {
		values, _ := output.([]Doc)
		if len(values) != len(exp.Values) {
			fail("expected %d values, got %d", len(exp.Values), len(values))
		} else {
			for i := range values {
				if !matchSubset(values[i], exp.Values[i]) {
					fail("values[%d]: expected %v, got %v", i, exp.Values[i], values[i])
				}
			}
		}
	}

	if exp.Count != nil {
		var n int
		switch out := output.(type) {
		case int:
			n = out
		case []Doc:
			n = len(out)
		case []any:
			n = len(out)
		default:
			fail("count expected but step returned %T", output)
			return errs
		}
		if n != *exp.Count {
			fail("expected count %d, got %d", *exp.Count, n)
		}
	}
	return errs
}

// evaluateStateAssertions checks final_count and final_state against the
// stored rows.
func evaluateStateAssertions(ctx context.Context, r *repo, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertFinalCount:
			err = assertFinalCount(ctx, r, a)
		case AssertFinalState:
			err = assertFinalState(ctx, r, a)
		default:
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

// evaluateEventAssertions checks event_count and event_order.
func evaluateEventAssertions(events []EventTrace, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertEventCount:
			err = assertEventCount(events, a)
		case AssertEventOrder:
			err = assertEventOrder(events, a)
		default:
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func assertFinalCount(ctx context.Context, r *repo, a Assertion) error {
	n, err := r.Count(ctx)
	if err != nil {
		return fmt.Errorf("final_count: %w", err)
	}
	if n != a.Count {
		return &AssertionError{
			Type:     AssertFinalCount,
			Expected: fmt.Sprintf("%d rows", a.Count),
			Actual:   fmt.Sprintf("%d rows", n),
		}
	}
	return nil
}

func assertFinalState(ctx context.Context, r *repo, a Assertion) error {
	v, found, err := r.FindByID(ctx, a.Key)
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}
	switch {
	case a.Absent && found:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("no row for key %v", a.Key),
			Actual:   fmt.Sprintf("%v", v),
		}
	case a.Absent:
		return nil
	case !found:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row for key %v matching %v", a.Key, a.Expect),
			Actual:   "not found",
		}
	case !matchSubset(v, a.Expect):
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row matching %v", a.Expect),
			Actual:   fmt.Sprintf("%v", v),
		}
	}
	return nil
}

func assertEventCount(events []EventTrace, a Assertion) error {
	n := 0
	for _, ev := range events {
		if a.Event == "" || ev.Type == a.Event {
			n++
		}
	}
	if n == a.Count {
		return nil
	}
	what := "events"
	if a.Event != "" {
		what = a.Event + " events"
	}
	return &AssertionError{
		Type:     AssertEventCount,
		Expected: fmt.Sprintf("%d %s", a.Count, what),
		Actual:   fmt.Sprintf("%d %s", n, what),
		Events:   events,
	}
}

// assertEventOrder checks that the listed types occur in order. Other
// events may appear in between.
func assertEventOrder(events []EventTrace, a Assertion) error {
	next := 0
	for _, ev := range events {
		if next < len(a.Events) && ev.Type == a.Events[next] {
			next++
		}
	}
	if next == len(a.Events) {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventOrder,
		Expected: fmt.Sprintf("events in order: %v", a.Events),
		Actual:   fmt.Sprintf("stopped matching at %s (position %d)", a.Events[next], next+1),
		Events:   events,
	}
}

// matchSubset reports whether actual is an object holding every key of
// expected with an equal value. Extra keys in actual are ignored.
func matchSubset(actual any, expected map[string]any) bool {
	actualMap, ok := normalize(actual).(map[string]any)
	if !ok {
		return false
	}
	for key, want := range expected {
		got, exists := actualMap[key]
		if !exists || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares two values after a JSON round trip, so YAML integers
// and decoded JSON numbers compare equal.
func valuesEqual(actual, expected any) bool {
	return reflect.DeepEqual(normalize(actual), normalize(expected))
}

func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
