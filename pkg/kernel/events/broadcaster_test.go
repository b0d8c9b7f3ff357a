package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesBroadcastEvent(t *testing.T) {
	bc := New()
	sub := bc.Subscribe()
	defer sub.Close()

	assert.Equal(t, 1, bc.SubscriberCount())

	bc.BroadcastStepStarted("wf-1", "greeting", "start")

	select {
	case ev := <-sub.Events():
		assert.Equal(t, TypeStepStarted, ev.EventType)
		assert.Equal(t, "wf-1", ev.WorkflowID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	bc := New()
	sub1 := bc.Subscribe()
	sub2 := bc.Subscribe()
	defer sub1.Close()
	defer sub2.Close()

	bc.BroadcastWorkflowCompleted("wf-1", "greeting", []byte("done"))

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, TypeWorkflowCompleted, ev.EventType)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	bc := New()
	sub := bc.Subscribe()
	sub.Close()

	assert.Equal(t, 0, bc.SubscriberCount())
}

func TestEventJSONRoundTrip(t *testing.T) {
	bc := New()
	sub := bc.Subscribe()
	defer sub.Close()

	bc.BroadcastStepFailed("wf-1", "greeting", "start", "boom", 1)

	ev := <-sub.Events()
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "step_failed", decoded["event_type"])
	assert.Equal(t, "wf-1", decoded["workflow_id"])
	assert.Equal(t, "boom", decoded["error"])
	assert.Equal(t, float64(1), decoded["attempt"])
}

func TestSinceReturnsOnlyEventsAfterTimestamp(t *testing.T) {
	bc := New()
	bc.BroadcastStepStarted("wf-1", "greeting", "start")
	cutoff := time.Now().UTC()
	time.Sleep(time.Millisecond)
	bc.BroadcastStepCompleted("wf-1", "greeting", "start", nil)

	since := bc.Since(cutoff)
	require.Len(t, since, 1)
	assert.Equal(t, TypeStepCompleted, since[0].EventType)
}

func TestLaggedSubscriberDropsOldestRatherThanBlocking(t *testing.T) {
	bc := New()
	sub := bc.Subscribe()
	defer sub.Close()

	for i := 0; i < Capacity+10; i++ {
		bc.BroadcastStepStarted("wf-1", "greeting", "start")
	}

	assert.Greater(t, sub.Lagged(), 0)
}
