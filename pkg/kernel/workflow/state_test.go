package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleHappyPath(t *testing.T) {
	wf := New("wf-1", "greeting", []byte(`{"name":"ada"}`))
	require.Equal(t, StatusPending, wf.State.Status)

	running, ok := wf.State.Start()
	require.True(t, ok)
	wf.State = running
	require.Equal(t, StatusRunning, wf.State.Status)
	require.Nil(t, wf.State.CurrentStep)

	started, ok := wf.State.StepStarted("start")
	require.True(t, ok)
	wf.State = started
	require.Equal(t, "start", *wf.State.CurrentStep)

	completed, ok := wf.State.StepCompleted()
	require.True(t, ok)
	wf.State = completed
	assert.Nil(t, wf.State.CurrentStep)
	assert.Equal(t, StatusRunning, wf.State.Status)

	final, ok := wf.State.Complete([]byte(`"hello ada"`))
	require.True(t, ok)
	wf.State = final
	assert.Equal(t, StatusCompleted, wf.State.Status)
	assert.Equal(t, []byte(`"hello ada"`), wf.State.Result)
	assert.True(t, wf.IsComplete())
	assert.True(t, wf.State.IsTerminal())
}

func TestStartOnlyLegalFromPending(t *testing.T) {
	wf := New("wf-2", "t", nil)
	running, _ := wf.State.Start()
	wf.State = running

	_, ok := wf.State.Start()
	assert.False(t, ok, "starting an already-running workflow must be rejected")
}

func TestFailRequiresRunning(t *testing.T) {
	wf := New("wf-3", "t", nil)
	_, ok := wf.State.Fail("boom")
	assert.False(t, ok)

	running, _ := wf.State.Start()
	wf.State = running
	failed, ok := wf.State.Fail("boom")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "boom", failed.Error)
}

func TestCancelFromPendingAndRunningOnly(t *testing.T) {
	pending := Pending()
	cancelled, ok := pending.Cancel()
	require.True(t, ok)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	completed := State{Status: StatusCompleted}
	_, ok = completed.Cancel()
	assert.False(t, ok, "terminal states cannot be cancelled")
}

func TestCanRetry(t *testing.T) {
	wf := New("wf-4", "t", nil)
	assert.True(t, wf.CanRetry("start", 0, 3))
	assert.False(t, wf.CanRetry("start", 3, 3))

	wf.StepsCompleted["start"] = []byte("done")
	assert.False(t, wf.CanRetry("start", 0, 3), "a completed step is never retried")
}
