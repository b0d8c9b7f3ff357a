package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelflow/kerneld/pkg/kernel/workflow"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndGetWorkflowRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	wf := workflow.New("wf-1", "greeting", []byte("input"))
	require.NoError(t, store.SaveWorkflow(ctx, wf))

	got, err := store.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "wf-1", got.ID)
	assert.Equal(t, "greeting", got.Type)
	assert.Equal(t, workflow.StatusPending, got.State.Status)
}

func TestUpdateWorkflowStatePersists(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	wf := workflow.New("wf-1", "greeting", nil)
	require.NoError(t, store.SaveWorkflow(ctx, wf))

	running, ok := wf.State.Start()
	require.True(t, ok)
	require.NoError(t, store.UpdateWorkflowState(ctx, "wf-1", running))

	got, err := store.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusRunning, got.State.Status)
}

func TestSaveStepResultPersistsAndProjects(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	wf := workflow.New("wf-1", "greeting", nil)
	require.NoError(t, store.SaveWorkflow(ctx, wf))
	require.NoError(t, store.SaveStepResult(ctx, "wf-1", "start", []byte("hello")))

	result, err := store.GetStepResult(ctx, "wf-1", "start")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), result)

	got, err := store.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.StepsCompleted["start"])
}

func TestListWorkflowsFiltersByType(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	require.NoError(t, store.SaveWorkflow(ctx, workflow.New("wf-1", "greeting", nil)))
	require.NoError(t, store.SaveWorkflow(ctx, workflow.New("wf-2", "billing", nil)))

	greetings, err := store.ListWorkflows(ctx, "greeting")
	require.NoError(t, err)
	require.Len(t, greetings, 1)
	assert.Equal(t, "wf-1", greetings[0].ID)
}

func TestGetWorkflowUnknownReturnsNilNil(t *testing.T) {
	store := openTestStore(t)
	got, err := store.GetWorkflow(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}
