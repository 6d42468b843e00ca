package observer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-forge/artemis/pkg/observer"
)

type recordingObserver struct {
	events []observer.Event
}

func (r *recordingObserver) Handle(e observer.Event) {
	r.events = append(r.events, e)
}

func TestHubDispatchesInRegistrationOrder(t *testing.T) {
	hub := observer.NewHub()
	var first, second recordingObserver
	hub.Register(&first)
	hub.Register(&second)

	hub.Publish(observer.Event{Type: observer.EventPipelineStarted, CardID: "card-1"})

	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	assert.Equal(t, observer.EventPipelineStarted, first.events[0].Type)
	assert.False(t, first.events[0].Timestamp.IsZero())
}

func TestStateTrackingObserverTracksLifecycle(t *testing.T) {
	st := observer.NewStateTrackingObserver()

	st.Handle(observer.Event{Type: observer.EventPipelineStarted, CardID: "card-1"})
	st.Handle(observer.Event{Type: observer.EventStageStarted, CardID: "card-1", StageName: "architecture"})
	st.Handle(observer.Event{Type: observer.EventStageCompleted, CardID: "card-1", StageName: "architecture"})
	st.Handle(observer.Event{Type: observer.EventPipelineCompleted, CardID: "card-1"})

	state, ok := st.GetState("card-1")
	require.True(t, ok)
	assert.Equal(t, "completed", state.Status)
	assert.Equal(t, "completed", state.StageStatus["architecture"])
}

func TestStateTrackingObserverUnknownCard(t *testing.T) {
	st := observer.NewStateTrackingObserver()
	_, ok := st.GetState("missing")
	assert.False(t, ok)
}
