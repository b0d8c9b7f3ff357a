// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kernel composes the state machine, persistence, tracker,
// broadcaster, registry and dispatcher into the single client- and
// worker-facing API surface adapters call into. Nothing in this
// package talks a wire protocol; that is every adapter's job.
package kernel

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kernelflow/kerneld/internal/auth"
	"github.com/kernelflow/kerneld/internal/metrics"
	"github.com/kernelflow/kerneld/internal/tracing"
	kerrors "github.com/kernelflow/kerneld/pkg/errors"
	"github.com/kernelflow/kerneld/pkg/kernel/events"
	"github.com/kernelflow/kerneld/pkg/kernel/persistence"
	"github.com/kernelflow/kerneld/pkg/kernel/registry"
	"github.com/kernelflow/kerneld/pkg/kernel/scheduler"
	"github.com/kernelflow/kerneld/pkg/kernel/task"
	"github.com/kernelflow/kerneld/pkg/kernel/tracker"
	"github.com/kernelflow/kerneld/pkg/kernel/workflow"
)

// Kernel is the orchestration server's core, independent of any
// transport.
type Kernel struct {
	Store       persistence.Store
	Tracker     *tracker.Tracker
	Broadcaster *events.Broadcaster
	Registry    *registry.Registry
	Dispatcher  *scheduler.Dispatcher

	// Auth configures worker session token issuance. Zero value
	// disables token minting/verification; adapters should treat
	// every worker as authenticated in that case (development only).
	Auth auth.Config
}

// New wires a Kernel from its collaborators. Callers choose the
// persistence.Store implementation (memory, snapshot, or sqlite) and
// pass it in; the kernel itself is storage-agnostic.
func New(store persistence.Store, cfg scheduler.Config) *Kernel {
	trk := tracker.New()
	bc := events.New()
	reg := registry.New()
	return &Kernel{
		Store:       store,
		Tracker:     trk,
		Broadcaster: bc,
		Registry:    reg,
		Dispatcher:  scheduler.New(cfg, store, trk, bc, reg),
	}
}

// WithAuth sets the session token configuration and returns the
// Kernel for chaining.
func (k *Kernel) WithAuth(cfg auth.Config) *Kernel {
	k.Auth = cfg
	return k
}

// StartWorkflowOptions carries the optional fields a caller may
// supply on workflow creation.
type StartWorkflowOptions struct {
	// WorkflowID, if set, is used instead of a generated uuid.
	WorkflowID string
}

// StartWorkflow creates and persists a new workflow in the Pending
// state and immediately transitions it to Running, mirroring the
// reference create-then-start flow: a workflow becomes schedulable as
// soon as it exists, there is no separate explicit "start" call in
// the external contract.
func (k *Kernel) StartWorkflow(ctx context.Context, workflowType string, input []byte, opts StartWorkflowOptions) (wf *workflow.Workflow, err error) {
	id := opts.WorkflowID
	if id == "" {
		id = uuid.NewString()
	}

	ctx, span := tracing.StartWorkflow(ctx, id, workflowType)
	defer func() { tracing.EndWithError(span, err) }()

	wf = workflow.New(id, workflowType, input)
	running, ok := wf.State.Start()
	if !ok {
		return nil, &kerrors.PreconditionError{Subject: id, Reason: "new workflow could not start"}
	}
	wf.State = running

	if err := k.Store.SaveWorkflow(ctx, wf); err != nil {
		return nil, &kerrors.PersistenceError{Op: "save_workflow", Cause: err}
	}
	k.Tracker.StartWorkflow(id, workflowType)
	return wf, nil
}

// GetWorkflowStatus returns the current workflow record.
func (k *Kernel) GetWorkflowStatus(ctx context.Context, workflowID string) (*workflow.Workflow, error) {
	wf, err := k.Store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, &kerrors.PersistenceError{Op: "get_workflow", Cause: err}
	}
	if wf == nil {
		return nil, &kerrors.NotFoundError{Resource: "workflow", ID: workflowID}
	}
	return wf, nil
}

// AwaitResult polls the workflow until it reaches a terminal state or
// timeout elapses, returning a TimeoutError in the latter case.
func (k *Kernel) AwaitResult(ctx context.Context, workflowID string, timeout time.Duration) (*workflow.Workflow, error) {
	deadline := time.Now().Add(timeout)
	const pollInterval = 100 * time.Millisecond

	for {
		wf, err := k.GetWorkflowStatus(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		if wf.State.IsTerminal() {
			return wf, nil
		}

		if time.Now().After(deadline) {
			return nil, &kerrors.TimeoutError{Operation: "await_result", Duration: timeout}
		}

		select {
		case <-ctx.Done():
			return nil, &kerrors.TimeoutError{Operation: "await_result", Duration: timeout, Cause: ctx.Err()}
		case <-time.After(pollInterval):
		}
	}
}

// CancelWorkflow transitions a non-terminal workflow to Cancelled.
func (k *Kernel) CancelWorkflow(ctx context.Context, workflowID string) error {
	wf, err := k.GetWorkflowStatus(ctx, workflowID)
	if err != nil {
		return err
	}

	cancelled, ok := wf.State.Cancel()
	if !ok {
		return &kerrors.PreconditionError{Subject: workflowID, Reason: "workflow cannot be cancelled in its current state"}
	}
	if err := k.Store.UpdateWorkflowState(ctx, workflowID, cancelled); err != nil {
		return &kerrors.PersistenceError{Op: "update_workflow_state", Cause: err}
	}
	k.Tracker.WorkflowCancelled(workflowID)
	k.Broadcaster.BroadcastWorkflowCancelled(workflowID, wf.Type)
	return nil
}

// RegisterWorker registers a worker in the dispatcher and as a
// service (so its advertised resources are visible to FindResource).
func (k *Kernel) RegisterWorker(serviceName, group string, workflowTypes []string, resources []task.ResourceMetadata) string {
	workerID := uuid.NewString()
	k.Dispatcher.RegisterWorker(workerID, serviceName, group, workflowTypes, resources)
	if serviceName != "" {
		k.Registry.Register(serviceName, resources)
	}
	return workerID
}

// RegisterWorkerSession registers a worker exactly as RegisterWorker
// does, additionally minting a session token for it when k.Auth
// carries a signing secret. Adapters that expose worker registration
// over the wire should call this instead of RegisterWorker so callers
// receive a token to present on every subsequent request.
func (k *Kernel) RegisterWorkerSession(serviceName, group string, workflowTypes []string, resources []task.ResourceMetadata) (workerID, sessionToken string, err error) {
	workerID = k.RegisterWorker(serviceName, group, workflowTypes, resources)
	if len(k.Auth.Secret) == 0 {
		return workerID, "", nil
	}
	sessionToken, err = auth.MintWorkerToken(workerID, serviceName, k.Auth)
	if err != nil {
		return workerID, "", err
	}
	return workerID, sessionToken, nil
}

// VerifySession validates a worker session token and returns the
// worker id it was minted for. Callers must invoke this before acting
// on any worker-facing request when k.Auth carries a signing secret;
// with no secret configured, verification is skipped entirely (local
// development via auth.insecure).
func (k *Kernel) VerifySession(sessionToken string) (string, error) {
	if len(k.Auth.Secret) == 0 {
		return "", nil
	}
	claims, err := auth.VerifyWorkerToken(sessionToken, k.Auth)
	if err != nil {
		return "", err
	}
	return claims.WorkerID, nil
}

// PollTasks delegates to the dispatcher.
func (k *Kernel) PollTasks(ctx context.Context, workerID string, maxTasks int) ([]task.Task, error) {
	return k.Dispatcher.PollTasks(ctx, workerID, maxTasks)
}

// Heartbeat delegates to the dispatcher.
func (k *Kernel) Heartbeat(workerID string) error {
	return k.Dispatcher.Heartbeat(workerID)
}

// CompleteStep delegates to the dispatcher's task completion path.
func (k *Kernel) CompleteStep(ctx context.Context, taskID string, output []byte) error {
	return k.Dispatcher.CompleteTask(ctx, taskID, output)
}

// FailStep delegates to the dispatcher's task failure path.
func (k *Kernel) FailStep(ctx context.Context, taskID, reason string) error {
	return k.Dispatcher.FailTask(ctx, taskID, reason)
}

// ReportStep delegates to the dispatcher's advisory progress path.
func (k *Kernel) ReportStep(ctx context.Context, taskID string, status task.ReportStatus, output []byte, errMsg string) error {
	return k.Dispatcher.ReportStep(ctx, taskID, status, output, errMsg)
}

// Metrics summarizes workflow counts by terminal/non-terminal status,
// mirroring the reference admin metrics endpoint.
type Metrics struct {
	ActiveWorkflows    uint64
	CompletedWorkflows uint64
	FailedWorkflows    uint64
	CancelledWorkflows uint64
}

// GetMetrics computes workflow counts by status across the whole
// store.
func (k *Kernel) GetMetrics(ctx context.Context) (Metrics, error) {
	workflows, err := k.Store.ListWorkflows(ctx, "")
	if err != nil {
		return Metrics{}, &kerrors.PersistenceError{Op: "list_workflows", Cause: err}
	}

	queueDepth := map[string]int{}
	var m Metrics
	for _, wf := range workflows {
		switch wf.State.Status {
		case workflow.StatusPending, workflow.StatusRunning:
			m.ActiveWorkflows++
			queueDepth[wf.Type]++
		case workflow.StatusCompleted:
			m.CompletedWorkflows++
		case workflow.StatusFailed:
			m.FailedWorkflows++
		case workflow.StatusCancelled:
			m.CancelledWorkflows++
		}
	}
	for workflowType, depth := range queueDepth {
		metrics.SetQueueDepth(workflowType, depth)
	}
	metrics.SetActiveExecutions(len(k.Tracker.GetActiveExecutions()))
	return m, nil
}
