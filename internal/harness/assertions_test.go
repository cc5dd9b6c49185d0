package harness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Type: EventState, From: "initializing", To: "clean"},
		{Seq: 2, Type: EventPublish, Message: "OPENED", Origin: "session"},
		{Seq: 3, Type: EventState, From: "clean", To: "dirty"},
		{Seq: 4, Type: EventState, From: "dirty", To: "saving"},
		{Seq: 5, Type: EventWrite, Key: "draft:1", Doc: map[string]any{
			"name": "Soup",
			"cost": json.Number("11"),
		}},
		{Seq: 6, Type: EventState, From: "saving", To: "saved"},
		{Seq: 7, Type: EventPublish, Message: "SAVED", Origin: "session"},
		{Seq: 8, Type: EventDelete, Key: "draft:9"},
	}
}

func TestAssertTraceContains_Found(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{
		Type:  AssertTraceContains,
		Event: EventWrite,
		Key:   "draft:1",
	})
	assert.NoError(t, err)
}

func TestAssertTraceContains_NotFound(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{
		Type:  AssertTraceContains,
		Event: EventWrite,
		Key:   "draft:2",
	})
	require.Error(t, err)

	var assertErr *AssertionError
	require.ErrorAs(t, err, &assertErr)
	assert.Equal(t, AssertTraceContains, assertErr.Type)
	assert.Equal(t, "not found in trace", assertErr.Actual)
	assert.Len(t, assertErr.Trace, 8)
}

func TestAssertTraceContains_SubsetMatch(t *testing.T) {
	tests := []struct {
		name string
		doc  map[string]any
		want bool
	}{
		{"empty doc matches", nil, true},
		{"one member", map[string]any{"cost": 11}, true},
		{"all members", map[string]any{"cost": 11, "name": "Soup"}, true},
		{"wrong value", map[string]any{"cost": 12}, false},
		{"missing member", map[string]any{"tags": []any{}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceContains(sampleTrace(), Assertion{
				Type:  AssertTraceContains,
				Event: EventWrite,
				Doc:   tt.doc,
			})
			if tt.want {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestAssertTraceOrder_Correct(t *testing.T) {
	err := assertTraceOrder(sampleTrace(), Assertion{
		Type:   AssertTraceOrder,
		Events: []string{"state:clean", "write:draft:1", "publish:SAVED"},
	})
	assert.NoError(t, err)
}

func TestAssertTraceOrder_WrongOrder(t *testing.T) {
	err := assertTraceOrder(sampleTrace(), Assertion{
		Type:   AssertTraceOrder,
		Events: []string{"publish:SAVED", "write:draft:1"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write:draft:1 not found after the preceding events")
}

func TestAssertTraceOrder_MissingEvent(t *testing.T) {
	err := assertTraceOrder(sampleTrace(), Assertion{
		Type:   AssertTraceOrder,
		Events: []string{"state:clean", "state:conflict"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state:conflict")
}

func TestAssertTraceOrder_RepeatedTokens(t *testing.T) {
	trace := []TraceEvent{
		{Seq: 1, Type: EventWrite, Key: "draft:1"},
		{Seq: 2, Type: EventPublish, Message: "SAVED"},
	}

	// Each token consumes a distinct event.
	err := assertTraceOrder(trace, Assertion{
		Type:   AssertTraceOrder,
		Events: []string{"write:draft:1", "write:draft:1"},
	})
	assert.Error(t, err)
}

func TestAssertTraceCount(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		key     string
		count   int
		wantErr bool
	}{
		{"exact", EventState, "", 4, false},
		{"by key", EventWrite, "draft:1", 1, false},
		{"zero", EventWriteRejected, "", 0, false},
		{"too few", EventPublish, "", 3, true},
		{"too many", EventState, "", 1, true},
		{"other key", EventDelete, "draft:1", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertTraceCount(sampleTrace(), Assertion{
				Type:  AssertTraceCount,
				Event: tt.event,
				Key:   tt.key,
				Count: tt.count,
			})
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "occurrences")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSameJSON(t *testing.T) {
	assert.True(t, sameJSON(json.Number("12"), 12))
	assert.True(t, sameJSON(map[string]any{"a": 1, "b": "x"}, map[string]any{"b": "x", "a": json.Number("1")}))
	assert.True(t, sameJSON([]any{"a", "b"}, []string{"a", "b"}))
	assert.False(t, sameJSON("12", 12))
	assert.False(t, sameJSON([]any{"a", "b"}, []any{"b", "a"}))
}

func TestTraceEventToken(t *testing.T) {
	tests := []struct {
		event TraceEvent
		want  string
	}{
		{TraceEvent{Type: EventState, From: "dirty", To: "saving"}, "state:saving"},
		{TraceEvent{Type: EventWrite, Key: "draft:1"}, "write:draft:1"},
		{TraceEvent{Type: EventWriteRejected, Key: "draft:1"}, "write_rejected:draft:1"},
		{TraceEvent{Type: EventDelete, Key: "draft:1"}, "delete:draft:1"},
		{TraceEvent{Type: EventPublish, Message: "OPENED"}, "publish:OPENED"},
		{TraceEvent{Type: EventWarning, Message: "SAVED"}, "warning:SAVED"},
		{TraceEvent{Type: EventSaveError, Key: "draft:1"}, "save_error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.Token())
		})
	}
	assert.Equal(t, "#3 +250ms delete:draft:1", TraceEvent{Seq: 3, AtMs: 250, Type: EventDelete, Key: "draft:1"}.String())
}

func TestEvaluateAssertions_AllPass(t *testing.T) {
	result := &Result{Trace: sampleTrace()}
	errors := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Event: EventDelete, Key: "draft:9"},
		{Type: AssertTraceOrder, Events: []string{"publish:OPENED", "publish:SAVED"}},
		{Type: AssertTraceCount, Event: EventWrite, Count: 1},
	})
	assert.Empty(t, errors)
}

func TestEvaluateAssertions_SomeFail(t *testing.T) {
	result := &Result{Trace: sampleTrace()}
	errors := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Event: EventDelete, Key: "draft:9"},
		{Type: AssertTraceCount, Event: EventWrite, Count: 2},
		{Type: AssertTraceContains, Event: EventSaveError},
	})
	require.Len(t, errors, 2)
	assert.Contains(t, errors[0], "trace_count")
	assert.Contains(t, errors[1], "trace_contains")
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	result := &Result{Trace: sampleTrace()}
	errors := EvaluateAssertions(result, []Assertion{{Type: "final_state"}})
	require.Len(t, errors, 1)
	assert.Contains(t, errors[0], "unknown assertion type")
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     AssertTraceContains,
		Expected: `write event for key "draft:2" with doc map[]`,
		Actual:   "not found in trace",
		Trace:    sampleTrace()[:2],
	}

	errorStr := err.Error()
	assert.Contains(t, errorStr, "Assertion failed: trace_contains")
	assert.Contains(t, errorStr, `Expected: write event for key "draft:2"`)
	assert.Contains(t, errorStr, "Actual: not found in trace")
	assert.Contains(t, errorStr, "Full trace:")
	assert.Contains(t, errorStr, "#2 +0ms publish:OPENED")
}
