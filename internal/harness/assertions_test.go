package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestCheckExpect(t *testing.T) {
	tests := []struct {
		name   string
		expect Expect
		output any
		errs   int
	}{
		{"key matches across number types", Expect{Key: 4}, float64(4), 0},
		{"key mismatch", Expect{Key: "gandalf"}, "gimli", 1},
		{"keys", Expect{Keys: []any{1, 2}}, []any{float64(1), float64(2)}, 0},
		{"compound keys", Expect{Keys: []any{[]any{"a", "b"}}}, []any{[]any{"a", "b"}}, 0},
		{"found", Expect{Found: ptr(true)}, map[string]any{"found": true, "value": Doc{}}, 0},
		{"not found", Expect{Found: ptr(true)}, map[string]any{"found": false}, 1},
		{"value subset", Expect{Value: Doc{"salary": 42}}, map[string]any{"found": true, "value": Doc{"name": "gandalf", "salary": float64(42)}}, 0},
		{"value missing key", Expect{Value: Doc{"age": 1}}, map[string]any{"found": true, "value": Doc{"name": "gandalf"}}, 1},
		{"values", Expect{Values: []map[string]any{{"id": 1}, {"id": 2}}}, []Doc{{"id": float64(1)}, {"id": float64(2)}}, 0},
		{"values length", Expect{Values: []map[string]any{{"id": 1}}}, []Doc{}, 1},
		{"values order", Expect{Values: []map[string]any{{"id": 2}, {"id": 1}}}, []Doc{{"id": float64(1)}, {"id": float64(2)}}, 2},
		{"count int", Expect{Count: ptr(3)}, 3, 0},
		{"count of values", Expect{Count: ptr(2)}, []Doc{{}, {}}, 0},
		{"count of keys", Expect{Count: ptr(1)}, []any{"a"}, 0},
		{"count wrong shape", Expect{Count: ptr(1)}, "gandalf", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exp := tt.expect
			assert.Len(t, checkExpect(&exp, tt.output), tt.errs)
		})
	}
}

func events(types ...string) []EventTrace {
	out := make([]EventTrace, len(types))
	for i, typ := range types {
		out[i] = EventTrace{Seq: i + 1, Type: typ, Key: float64(i + 1)}
	}
	return out
}

func TestAssertEventCount(t *testing.T) {
	evs := events("create", "create", "update", "delete")

	assert.NoError(t, assertEventCount(evs, Assertion{Type: AssertEventCount, Count: 4}))
	assert.NoError(t, assertEventCount(evs, Assertion{Type: AssertEventCount, Event: "create", Count: 2}))
	assert.NoError(t, assertEventCount(nil, Assertion{Type: AssertEventCount, Count: 0}))

	err := assertEventCount(evs, Assertion{Type: AssertEventCount, Event: "delete", Count: 2})
	require.Error(t, err)
	var assertErr *AssertionError
	require.ErrorAs(t, err, &assertErr)
	assert.Equal(t, "2 delete events", assertErr.Expected)
	assert.Equal(t, "1 delete events", assertErr.Actual)
}

func TestAssertEventOrder(t *testing.T) {
	evs := events("create", "update", "create", "delete")

	assert.NoError(t, assertEventOrder(evs, Assertion{Events: []string{"create", "delete"}}))
	assert.NoError(t, assertEventOrder(evs, Assertion{Events: []string{"create", "update", "create", "delete"}}))

	err := assertEventOrder(evs, Assertion{Events: []string{"delete", "create"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped matching at create (position 2)")

	err = assertEventOrder(evs, Assertion{Events: []string{"update", "update"}})
	assert.Error(t, err)
}

func TestAssertionErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertEventCount,
		Expected: "1 events",
		Actual:   "2 events",
		Events:   events("create", "delete"),
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: event_count")
	assert.Contains(t, msg, "Expected: 1 events")
	assert.Contains(t, msg, "Actual: 2 events")
	assert.Contains(t, msg, "[1] create 1")
	assert.Contains(t, msg, "[2] delete 2")
}

func TestMatchSubset(t *testing.T) {
	actual := Doc{"name": "gandalf", "address": map[string]any{"city": "Valinor"}, "salary": float64(42)}

	assert.True(t, matchSubset(actual, map[string]any{}))
	assert.True(t, matchSubset(actual, map[string]any{"salary": 42}))
	assert.True(t, matchSubset(actual, map[string]any{"address": map[string]any{"city": "Valinor"}}))
	assert.False(t, matchSubset(actual, map[string]any{"salary": 43}))
	assert.False(t, matchSubset("gandalf", map[string]any{"name": "gandalf"}))
	assert.False(t, matchSubset(nil, map[string]any{"name": "gandalf"}))
}

func TestContainsFold(t *testing.T) {
	assert.True(t, containsFold("find: NOT_INDEXED: nickname", "not_indexed"))
	assert.False(t, containsFold("CONSTRAINT", "not_indexed"))
}
