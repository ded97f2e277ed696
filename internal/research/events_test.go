package research

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitterAssignsMonotonicSeq(t *testing.T) {
	e := NewEmitter(64)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Emit(ResearchStarted{Objective: "o"})
		}()
	}
	wg.Wait()
	e.Close()

	seen := make(map[int]bool)
	count := 0
	for env := range e.Events() {
		assert.False(t, seen[env.Seq], "seq %d delivered twice", env.Seq)
		seen[env.Seq] = true
		count++
	}
	assert.Equal(t, n, count)
	for i := 1; i <= n; i++ {
		assert.True(t, seen[i], "seq %d missing", i)
	}
}

func TestEnvelopeJSONFlattens(t *testing.T) {
	env := Envelope{Seq: 7, Event: NodeStart{NodeID: "n1", Question: "why?"}}

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.EqualValues(t, 7, fields["seq"])
	assert.Equal(t, string(EventNodeStart), fields["type"])
	assert.Equal(t, "n1", fields["node_id"])
	assert.Equal(t, "why?", fields["question"])
	assert.Contains(t, fields, "ts")
}

func TestEmitAfterCloseIsNoop(t *testing.T) {
	e := NewEmitter(4)
	e.Emit(ResearchStarted{Objective: "o"})
	e.Close()

	assert.NotPanics(t, func() {
		e.Emit(Complete{FinalAnswer: "late"})
	})

	var got []Envelope
	for env := range e.Events() {
		got = append(got, env)
	}
	require.Len(t, got, 1)
	assert.Equal(t, EventResearchStarted, got[0].Event.Type())
}

func TestEmitterCloseIdempotent(t *testing.T) {
	e := NewEmitter(4)
	assert.NotPanics(t, func() {
		e.Close()
		e.Close()
	})
}

func TestEventTypesAreStable(t *testing.T) {
	cases := []struct {
		ev   Event
		want EventType
	}{
		{ResearchStarted{}, EventResearchStarted},
		{NodeStart{}, EventNodeStart},
		{SearchStarted{}, EventSearchStarted},
		{SearchCompleted{}, EventSearchCompleted},
		{ExtractStarted{}, EventExtractStarted},
		{ExtractCompleted{}, EventExtractCompleted},
		{ReflectionStarted{}, EventReflectionStarted},
		{ReflectionCompleted{}, EventReflectionCompleted},
		{BrainDecision{}, EventBrainDecision},
		{NodeComplete{}, EventNodeComplete},
		{DocUpdated{}, EventDocUpdated},
		{Complete{}, EventComplete},
		{ErrorEvent{}, EventError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.ev.Type())
	}
}
