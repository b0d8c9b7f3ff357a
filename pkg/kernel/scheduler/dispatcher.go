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

// Package scheduler owns the worker registry and the task dispatcher:
// worker lifecycle, capability matching, task-id minting, and the
// wiring that turns a worker's completion or failure report into a
// workflow state transition plus tracker and broadcaster updates.
package scheduler

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kernelflow/kerneld/internal/metrics"
	"github.com/kernelflow/kerneld/internal/tracing"
	kerrors "github.com/kernelflow/kerneld/pkg/errors"
	"github.com/kernelflow/kerneld/pkg/kernel/events"
	"github.com/kernelflow/kerneld/pkg/kernel/persistence"
	"github.com/kernelflow/kerneld/pkg/kernel/registry"
	"github.com/kernelflow/kerneld/pkg/kernel/task"
	"github.com/kernelflow/kerneld/pkg/kernel/tracker"
	"github.com/kernelflow/kerneld/pkg/kernel/workflow"
)

// Worker is the server's record of a polling client.
type Worker struct {
	ID            string
	ServiceName   string
	Group         string
	WorkflowTypes []string
	Resources     []task.ResourceMetadata
	LastSeen      time.Time
}

// runningTask tracks who is holding a dispatched task, so a
// CompleteTask/FailTask call can be matched back to a worker.
type runningTask struct {
	workflowID  string
	stepName    string
	workerID    string
	retryPolicy task.RetryPolicy
}

// Config bounds the dispatcher's background behavior.
type Config struct {
	// HeartbeatInterval is the expected cadence of worker heartbeats.
	// A worker is evicted once it has been silent for 3x this long.
	HeartbeatInterval time.Duration

	// PollRatePerSecond caps how often a single worker id may call
	// PollTasks, guarding against a hot-loop caller. Zero disables
	// the limit.
	PollRatePerSecond float64
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		PollRatePerSecond: 20,
	}
}

// Dispatcher is the worker registry and task scheduler.
type Dispatcher struct {
	mu            sync.RWMutex
	workers       map[string]*Worker
	runningTasks  map[string]runningTask
	pollLimiters  map[string]*rate.Limiter

	cfg         Config
	store       persistence.Store
	tracker     *tracker.Tracker
	broadcaster *events.Broadcaster
	registry    *registry.Registry
	retryEval   *retryEvaluator
}

// New builds a Dispatcher wired to the given collaborators.
func New(cfg Config, store persistence.Store, trk *tracker.Tracker, bc *events.Broadcaster, reg *registry.Registry) *Dispatcher {
	return &Dispatcher{
		workers:      make(map[string]*Worker),
		runningTasks: make(map[string]runningTask),
		pollLimiters: make(map[string]*rate.Limiter),
		cfg:          cfg,
		store:        store,
		tracker:      trk,
		broadcaster:  bc,
		registry:     reg,
		retryEval:    newRetryEvaluator(),
	}
}

// RegisterWorker upserts a worker's identity and capabilities. Like
// the reference registry, this is a simple overwrite keyed by id.
func (d *Dispatcher) RegisterWorker(workerID, serviceName, group string, workflowTypes []string, resources []task.ResourceMetadata) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.workers[workerID] = &Worker{
		ID:            workerID,
		ServiceName:   serviceName,
		Group:         group,
		WorkflowTypes: append([]string(nil), workflowTypes...),
		Resources:     append([]task.ResourceMetadata(nil), resources...),
		LastSeen:      time.Now().UTC(),
	}
	if d.cfg.PollRatePerSecond > 0 {
		d.pollLimiters[workerID] = rate.NewLimiter(rate.Limit(d.cfg.PollRatePerSecond), int(d.cfg.PollRatePerSecond)+1)
	}
}

// Heartbeat refreshes a worker's last-seen timestamp. It returns a
// NotFoundError if the worker was never registered (or was already
// evicted).
func (d *Dispatcher) Heartbeat(workerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.workers[workerID]
	if !ok {
		return &kerrors.NotFoundError{Resource: "worker", ID: workerID}
	}
	w.LastSeen = time.Now().UTC()
	return nil
}

// EvictStaleWorkers drops every worker whose LastSeen is older than
// 3x the configured heartbeat interval. It returns the evicted ids.
func (d *Dispatcher) EvictStaleWorkers() []string {
	if d.cfg.HeartbeatInterval <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-3 * d.cfg.HeartbeatInterval)

	d.mu.Lock()
	defer d.mu.Unlock()

	var evicted []string
	for id, w := range d.workers {
		if w.LastSeen.Before(cutoff) {
			delete(d.workers, id)
			delete(d.pollLimiters, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

func (d *Dispatcher) allowPoll(workerID string) bool {
	d.mu.RLock()
	limiter, ok := d.pollLimiters[workerID]
	d.mu.RUnlock()
	if !ok {
		return true
	}
	return limiter.Allow()
}

// PollTasks returns up to maxTasks newly-dispatchable tasks for
// workerID. It scans every Running workflow, derives the single next
// step each one needs, and matches it against the worker's advertised
// capabilities.
func (d *Dispatcher) PollTasks(ctx context.Context, workerID string, maxTasks int) ([]task.Task, error) {
	ctx, span := tracing.StartPollTasks(ctx, workerID)
	start := time.Now()
	out, err := d.pollTasks(ctx, workerID, maxTasks)
	tracing.EndWithError(span, err)
	switch {
	case err != nil:
		metrics.ObserveDispatchLatency("error", time.Since(start))
	case len(out) == 0:
		metrics.ObserveDispatchLatency("empty", time.Since(start))
	default:
		metrics.ObserveDispatchLatency("dispatched", time.Since(start))
		for _, t := range out {
			metrics.RecordTaskDispatched(t.WorkflowType)
		}
	}
	return out, err
}

func (d *Dispatcher) pollTasks(ctx context.Context, workerID string, maxTasks int) ([]task.Task, error) {
	d.mu.RLock()
	worker, ok := d.workers[workerID]
	d.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !d.allowPoll(workerID) {
		return nil, nil
	}

	workflows, err := d.store.ListWorkflows(ctx, "")
	if err != nil {
		return nil, &kerrors.PersistenceError{Op: "list_workflows", Cause: err}
	}

	var out []task.Task
	for _, wf := range workflows {
		if len(out) >= maxTasks {
			break
		}
		if wf.State.Status != workflow.StatusRunning {
			continue
		}
		stepName, resourceName, resourceType, targetService, ok := findNextStep(wf)
		if !ok {
			continue
		}
		if !d.canWorkerHandle(worker, wf.Type, resourceType, resourceName, targetService) {
			continue
		}

		retryPolicy := resolveRetryPolicy(worker, resourceType, resourceName)

		taskID := task.NewID(wf.ID, stepName)
		out = append(out, task.Task{
			ID:           taskID,
			WorkflowID:   wf.ID,
			WorkflowType: wf.Type,
			StepName:     stepName,
			Input:        wf.Input,
			ResourceType: resourceType,
			ResourceName: resourceName,
			RetryPolicy:  retryPolicy,
		})

		d.mu.Lock()
		d.runningTasks[taskID] = runningTask{workflowID: wf.ID, stepName: stepName, workerID: workerID, retryPolicy: retryPolicy}
		d.mu.Unlock()

		newState, transitioned := wf.State.StepStarted(stepName)
		if transitioned {
			if err := d.store.UpdateWorkflowState(ctx, wf.ID, newState); err != nil {
				return nil, &kerrors.PersistenceError{Op: "update_workflow_state", Cause: err}
			}
		}
		d.tracker.StepStarted(wf.ID, stepName)
		d.broadcaster.BroadcastStepStarted(wf.ID, wf.Type, stepName)
	}
	return out, nil
}

// findNextStep derives the single implicit step a Running workflow
// with no current step needs next. This is the literal "one step
// named start" design: multi-step/DAG scheduling is not built, so
// every workflow only ever produces this one task.
func findNextStep(wf *workflow.Workflow) (stepName, resourceName string, resourceType task.ResourceType, targetService string, ok bool) {
	if wf.State.Status != workflow.StatusRunning {
		return "", "", "", "", false
	}
	if wf.State.CurrentStep != nil {
		return "", "", "", "", false
	}
	if _, done := wf.StepsCompleted["start"]; done {
		return "", "", "", "", false
	}
	return "start", "", task.ResourceTypeStep, "", true
}

// canWorkerHandle ports scheduler.rs's can_worker_handle_task exactly:
// with no target service, a worker matches by declared workflow type
// or by advertising a matching resource; a target service equal to
// the worker's own service always matches; otherwise the worker must
// advertise a matching resource regardless of workflow type.
func (d *Dispatcher) canWorkerHandle(w *Worker, workflowType string, resourceType task.ResourceType, resourceName, targetService string) bool {
	if targetService == "" {
		for _, wt := range w.WorkflowTypes {
			if wt == workflowType {
				return true
			}
		}
		return workerHasResource(w, resourceType, resourceName)
	}
	if targetService == w.ServiceName {
		return true
	}
	return workerHasResource(w, resourceType, resourceName)
}

// resolveRetryPolicy returns the first matching resource's RetryPolicy
// override the worker advertises for (resourceType, resourceName), or
// task.DefaultRetryPolicy if none overrides it.
func resolveRetryPolicy(w *Worker, resourceType task.ResourceType, resourceName string) task.RetryPolicy {
	for _, r := range w.Resources {
		if r.Type != resourceType {
			continue
		}
		if resourceName != "" && r.Name != resourceName {
			continue
		}
		if r.RetryPolicy != nil {
			return *r.RetryPolicy
		}
	}
	return task.DefaultRetryPolicy()
}

func workerHasResource(w *Worker, resourceType task.ResourceType, resourceName string) bool {
	for _, r := range w.Resources {
		if r.Type != resourceType {
			continue
		}
		if resourceName != "" && r.Name != resourceName {
			continue
		}
		return true
	}
	return false
}

// CompleteTask finalizes a dispatched task successfully. Because the
// dispatcher only ever hands out the single implicit "start" step,
// completing it completes the whole workflow: there is no further
// step for a subsequent poll to find. This differs from the literal
// reference scheduler, which only advances the step machinery and
// never itself drives the workflow to Completed, and which never
// touches the tracker or broadcaster — both gaps this port closes
// because the external contract requires observers to see every
// transition.
func (d *Dispatcher) CompleteTask(ctx context.Context, taskID string, output []byte) error {
	workflowID, stepName, err := task.ParseID(taskID)
	if err != nil {
		return err
	}

	d.mu.Lock()
	delete(d.runningTasks, taskID)
	d.mu.Unlock()

	if err := d.store.SaveStepResult(ctx, workflowID, stepName, output); err != nil {
		return &kerrors.PersistenceError{Op: "save_step_result", Cause: err}
	}

	wf, err := d.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return &kerrors.PersistenceError{Op: "get_workflow", Cause: err}
	}
	if wf == nil {
		return &kerrors.NotFoundError{Resource: "workflow", ID: workflowID}
	}

	// A workflow no longer Running (e.g. already Cancelled out from
	// under an in-flight task) makes completion a silent no-op on
	// state, per spec.md §8 scenario 4: the step result was already
	// persisted above, but there is no further transition to apply.
	afterStep, ok := wf.State.StepCompleted()
	if !ok {
		return nil
	}
	d.tracker.StepCompleted(workflowID, stepName)
	d.broadcaster.BroadcastStepCompleted(workflowID, wf.Type, stepName, output)

	final, ok := afterStep.Complete(output)
	if !ok {
		return nil
	}
	if err := d.store.UpdateWorkflowState(ctx, workflowID, final); err != nil {
		return &kerrors.PersistenceError{Op: "update_workflow_state", Cause: err}
	}
	d.tracker.WorkflowCompleted(workflowID)
	d.broadcaster.BroadcastWorkflowCompleted(workflowID, wf.Type, output)
	return nil
}

// FailTask finalizes a dispatched task as failed. If the step's
// resolved RetryPolicy still permits another attempt and, when set,
// its When predicate allows this particular failure, the workflow is
// left Running with its current step cleared so the next poll
// redispatches the same step; otherwise the workflow transitions to
// Failed and the matching tracker/broadcaster updates fire.
func (d *Dispatcher) FailTask(ctx context.Context, taskID, reason string) error {
	workflowID, stepName, err := task.ParseID(taskID)
	if err != nil {
		return err
	}

	d.mu.Lock()
	rt, dispatched := d.runningTasks[taskID]
	delete(d.runningTasks, taskID)
	d.mu.Unlock()

	wf, err := d.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return &kerrors.PersistenceError{Op: "get_workflow", Cause: err}
	}
	if wf == nil {
		return &kerrors.NotFoundError{Resource: "workflow", ID: workflowID}
	}

	attempt := d.tracker.StepFailed(workflowID, stepName, reason)
	d.broadcaster.BroadcastStepFailed(workflowID, wf.Type, stepName, reason, attempt)

	if dispatched && d.shouldRetry(wf, stepName, reason, attempt, rt.retryPolicy) {
		retried, ok := wf.State.StepCompleted()
		if !ok {
			return &kerrors.PreconditionError{Subject: workflowID, Reason: "workflow is not running"}
		}
		if err := d.store.UpdateWorkflowState(ctx, workflowID, retried); err != nil {
			return &kerrors.PersistenceError{Op: "update_workflow_state", Cause: err}
		}
		return nil
	}

	final, ok := wf.State.Fail(reason)
	if !ok {
		return &kerrors.PreconditionError{Subject: workflowID, Reason: "workflow is not running"}
	}
	if err := d.store.UpdateWorkflowState(ctx, workflowID, final); err != nil {
		return &kerrors.PersistenceError{Op: "update_workflow_state", Cause: err}
	}
	d.tracker.WorkflowFailed(workflowID)
	d.broadcaster.BroadcastWorkflowFailed(workflowID, wf.Type, reason)
	return nil
}

// shouldRetry reports whether stepName's latest failure should be
// redispatched rather than finalized, per Workflow.CanRetry and
// policy.When. attempt is the attempt number that just failed, as
// returned by Tracker.StepFailed (the counter's value before it was
// incremented) — i.e. the count of attempts already spent on this
// step, which is exactly what CanRetry compares against
// policy.MaxAttempts.
func (d *Dispatcher) shouldRetry(wf *workflow.Workflow, stepName, reason string, attempt int, policy task.RetryPolicy) bool {
	if !wf.CanRetry(stepName, attempt, policy.MaxAttempts) {
		return false
	}
	return d.retryEval.allows(policy.When, reason, attempt)
}

// ReportStep records an advisory progress update from a worker
// against the tracker and broadcaster only — unlike complete_step and
// fail_step, it never touches persisted workflow state, regardless of
// status. output and errMsg are interpreted according to status and
// may be empty when not applicable. Unlike the reference handler,
// which hard-codes the literal string "workflow" as the event's
// workflow type, this always fetches the real type so broadcast
// consumers see accurate data.
func (d *Dispatcher) ReportStep(ctx context.Context, taskID string, status task.ReportStatus, output []byte, errMsg string) error {
	workflowID, stepName, err := task.ParseID(taskID)
	if err != nil {
		return err
	}

	wf, err := d.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return &kerrors.PersistenceError{Op: "get_workflow", Cause: err}
	}
	if wf == nil {
		return &kerrors.NotFoundError{Resource: "workflow", ID: workflowID}
	}

	switch status {
	case task.ReportStatusCompleted:
		d.tracker.StepCompleted(workflowID, stepName)
		d.broadcaster.BroadcastStepCompleted(workflowID, wf.Type, stepName, output)
	case task.ReportStatusFailed:
		attempt := d.tracker.StepFailed(workflowID, stepName, errMsg)
		d.broadcaster.BroadcastStepFailed(workflowID, wf.Type, stepName, errMsg, attempt)
	default:
		d.tracker.StepStarted(workflowID, stepName)
		d.broadcaster.BroadcastStepStarted(workflowID, wf.Type, stepName)
	}
	return nil
}

// runningTaskWorker returns the worker id currently holding taskID,
// and false if no dispatched task with that id is recorded.
func (d *Dispatcher) runningTaskWorker(taskID string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	rt, ok := d.runningTasks[taskID]
	return rt.workerID, ok
}
