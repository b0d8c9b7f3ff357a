package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelflow/kerneld/pkg/kernel/workflow"
)

func TestSaveAndGetWorkflowRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New()

	wf := workflow.New("wf-1", "greeting", []byte("input"))
	require.NoError(t, store.SaveWorkflow(ctx, wf))

	got, err := store.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "wf-1", got.ID)
	assert.Equal(t, "greeting", got.Type)
}

func TestGetWorkflowUnknownIDReturnsNilNil(t *testing.T) {
	store := New()
	got, err := store.GetWorkflow(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestListWorkflowsFiltersByType(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.SaveWorkflow(ctx, workflow.New("wf-1", "greeting", nil)))
	require.NoError(t, store.SaveWorkflow(ctx, workflow.New("wf-2", "billing", nil)))
	require.NoError(t, store.SaveWorkflow(ctx, workflow.New("wf-3", "greeting", nil)))

	greetings, err := store.ListWorkflows(ctx, "greeting")
	require.NoError(t, err)
	assert.Len(t, greetings, 2)

	all, err := store.ListWorkflows(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestUpdateWorkflowStateNoOpOnUnknownID(t *testing.T) {
	store := New()
	err := store.UpdateWorkflowState(context.Background(), "missing", workflow.State{Status: workflow.StatusRunning})
	assert.NoError(t, err)
}

func TestSaveStepResultRoundTripAndProjection(t *testing.T) {
	ctx := context.Background()
	store := New()
	wf := workflow.New("wf-1", "greeting", nil)
	require.NoError(t, store.SaveWorkflow(ctx, wf))

	require.NoError(t, store.SaveStepResult(ctx, "wf-1", "start", []byte("hello")))

	result, err := store.GetStepResult(ctx, "wf-1", "start")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), result)

	updated, err := store.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), updated.StepsCompleted["start"])
}

func TestGetStepResultUnknownReturnsNilNil(t *testing.T) {
	store := New()
	result, err := store.GetStepResult(context.Background(), "wf-1", "start")
	require.NoError(t, err)
	assert.Nil(t, result)
}
