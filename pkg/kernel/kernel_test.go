package kernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelflow/kerneld/pkg/kernel/persistence/memory"
	"github.com/kernelflow/kerneld/pkg/kernel/scheduler"
	"github.com/kernelflow/kerneld/pkg/kernel/task"
	"github.com/kernelflow/kerneld/pkg/kernel/workflow"
)

func newTestKernel() *Kernel {
	return New(memory.New(), scheduler.DefaultConfig())
}

// TestEndToEndSingleStepWorkflow exercises the full happy path: start
// a workflow, have a worker poll it, complete the step, and await the
// result — mirroring the reference end-to-end scenario for a
// single-step workflow.
func TestEndToEndSingleStepWorkflow(t *testing.T) {
	k := newTestKernel()
	ctx := context.Background()

	wf, err := k.StartWorkflow(ctx, "greeting", []byte(`{"name":"ada"}`), StartWorkflowOptions{})
	require.NoError(t, err)
	require.Equal(t, workflow.StatusRunning, wf.State.Status)

	workerID := k.RegisterWorker("", "default", []string{"greeting"}, nil)

	tasks, err := k.PollTasks(ctx, workerID, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, wf.ID, tasks[0].WorkflowID)

	require.NoError(t, k.CompleteStep(ctx, tasks[0].ID, []byte(`"hello ada"`)))

	result, err := k.AwaitResult(ctx, wf.ID, time.Second)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, result.State.Status)
	assert.Equal(t, []byte(`"hello ada"`), result.State.Result)
}

func TestAwaitResultTimesOutOnNonTerminalWorkflow(t *testing.T) {
	k := newTestKernel()
	ctx := context.Background()

	wf, err := k.StartWorkflow(ctx, "greeting", nil, StartWorkflowOptions{})
	require.NoError(t, err)

	_, err = k.AwaitResult(ctx, wf.ID, 50*time.Millisecond)
	assert.Error(t, err)
}

func TestCancelWorkflowRejectsTerminalWorkflow(t *testing.T) {
	k := newTestKernel()
	ctx := context.Background()

	wf, err := k.StartWorkflow(ctx, "greeting", nil, StartWorkflowOptions{})
	require.NoError(t, err)

	workerID := k.RegisterWorker("", "default", []string{"greeting"}, nil)
	tasks, err := k.PollTasks(ctx, workerID, 10)
	require.NoError(t, err)
	require.NoError(t, k.CompleteStep(ctx, tasks[0].ID, []byte("null")))

	err = k.CancelWorkflow(ctx, wf.ID)
	assert.Error(t, err)
}

func TestGetWorkflowStatusUnknownIsNotFound(t *testing.T) {
	k := newTestKernel()
	_, err := k.GetWorkflowStatus(context.Background(), "missing")
	assert.Error(t, err)
}

func TestGetMetricsCountsByStatus(t *testing.T) {
	k := newTestKernel()
	ctx := context.Background()

	completedWf, err := k.StartWorkflow(ctx, "greeting", nil, StartWorkflowOptions{})
	require.NoError(t, err)
	workerID := k.RegisterWorker("", "default", []string{"greeting"}, nil)
	tasks, err := k.PollTasks(ctx, workerID, 10)
	require.NoError(t, err)
	require.NoError(t, k.CompleteStep(ctx, tasks[0].ID, nil))

	_, err = k.StartWorkflow(ctx, "greeting", nil, StartWorkflowOptions{})
	require.NoError(t, err)

	cancelled, err := k.StartWorkflow(ctx, "greeting", nil, StartWorkflowOptions{})
	require.NoError(t, err)
	require.NoError(t, k.CancelWorkflow(ctx, cancelled.ID))

	m, err := k.GetMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.CompletedWorkflows)
	assert.Equal(t, uint64(1), m.ActiveWorkflows)
	assert.Equal(t, uint64(1), m.CancelledWorkflows)
	_ = completedWf
}

func TestRegisterWorkerAlsoRegistersServiceResources(t *testing.T) {
	k := newTestKernel()
	workerID := k.RegisterWorker("billing", "default", nil, []task.ResourceMetadata{
		{Name: "charge", Type: task.ResourceTypeActivity},
	})
	require.NotEmpty(t, workerID)

	svc := k.Registry.Get("billing")
	require.NotNil(t, svc)
	assert.Equal(t, "charge", svc.Resources[0].Name)
}
