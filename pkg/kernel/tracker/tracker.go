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

// Package tracker records a per-workflow, step-level execution
// timeline for observers. It is never authoritative: every mutation
// is a best-effort annotation on top of whatever persistence already
// decided, and every method is a silent no-op against an unknown
// workflow rather than an error. An unknown step name on a tracked
// workflow still updates its CurrentStep.
package tracker

import (
	"sync"
	"time"
)

// StepStatus is the lifecycle status of one step execution.
type StepStatus string

const (
	StepStatusStarted   StepStatus = "STARTED"
	StepStatusCompleted StepStatus = "COMPLETED"
	StepStatusFailed    StepStatus = "FAILED"
)

// StepExecution is one step's timeline entry within a WorkflowExecution.
type StepExecution struct {
	Name      string
	Status    StepStatus
	Attempts  int
	Error     string
	StartedAt time.Time
	EndedAt   *time.Time
}

// WorkflowExecution is the full observed timeline for one workflow.
type WorkflowExecution struct {
	WorkflowID   string
	WorkflowType string
	CurrentStep  *string
	Steps        []StepExecution
	StartedAt    time.Time
	CompletedAt  *time.Time
}

func (e *WorkflowExecution) findStep(name string) *StepExecution {
	for i := range e.Steps {
		if e.Steps[i].Name == name {
			return &e.Steps[i]
		}
	}
	return nil
}

// Tracker is the in-memory observability store for workflow
// executions, guarded by a single RWMutex.
type Tracker struct {
	mu         sync.RWMutex
	executions map[string]*WorkflowExecution
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{executions: make(map[string]*WorkflowExecution)}
}

// StartWorkflow begins tracking a workflow. Calling it again for an
// id already tracked resets its timeline.
func (t *Tracker) StartWorkflow(workflowID, workflowType string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.executions[workflowID] = &WorkflowExecution{
		WorkflowID:   workflowID,
		WorkflowType: workflowType,
		StartedAt:    time.Now().UTC(),
	}
}

// StepStarted appends or restarts a step entry on an existing
// execution and sets it as the current step. The attempt counter is
// untouched here — per spec.md §4.4 it only ever advances on failure,
// in StepFailed — so a redispatch after a retryable failure does not
// itself count as another attempt. Unlike the reference implementation
// this never panics: a workflow not yet tracked is a silent no-op,
// since tracker state is observational only.
func (t *Tracker) StepStarted(workflowID, stepName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	exec, ok := t.executions[workflowID]
	if !ok {
		return
	}

	name := stepName
	exec.CurrentStep = &name

	if existing := exec.findStep(stepName); existing != nil {
		existing.Status = StepStatusStarted
		existing.StartedAt = time.Now().UTC()
		existing.EndedAt = nil
		return
	}
	exec.Steps = append(exec.Steps, StepExecution{
		Name:      stepName,
		Status:    StepStatusStarted,
		Attempts:  1,
		StartedAt: time.Now().UTC(),
	})
}

// StepCompleted marks stepName completed and always clears
// CurrentStep, even if stepName was not the execution's recorded
// current step.
func (t *Tracker) StepCompleted(workflowID, stepName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	exec, ok := t.executions[workflowID]
	if !ok {
		return
	}
	exec.CurrentStep = nil

	if step := exec.findStep(stepName); step != nil {
		step.Status = StepStatusCompleted
		now := time.Now().UTC()
		step.EndedAt = &now
	}
}

// StepFailed marks stepName failed, always sets CurrentStep to
// stepName regardless of whether a matching step entry exists, and
// increments the step's attempt counter. It returns the attempt
// number in effect for this failure — the counter's value before the
// increment — for callers that need to stamp a StepFailed event with
// the attempt that actually failed rather than the next one.
func (t *Tracker) StepFailed(workflowID, stepName, errMsg string) (attempt int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	exec, ok := t.executions[workflowID]
	if !ok {
		return 0
	}
	name := stepName
	exec.CurrentStep = &name

	step := exec.findStep(stepName)
	if step == nil {
		return 0
	}
	attempt = step.Attempts
	step.Status = StepStatusFailed
	step.Error = errMsg
	now := time.Now().UTC()
	step.EndedAt = &now
	step.Attempts++
	return attempt
}

// WorkflowCompleted clears CurrentStep and stamps CompletedAt.
func (t *Tracker) WorkflowCompleted(workflowID string) {
	t.markTerminal(workflowID)
}

// WorkflowFailed clears CurrentStep and stamps CompletedAt,
// identically to WorkflowCompleted: the terminal-state bookkeeping
// does not distinguish success from failure.
func (t *Tracker) WorkflowFailed(workflowID string) {
	t.markTerminal(workflowID)
}

// WorkflowCancelled clears CurrentStep and stamps CompletedAt,
// identically to WorkflowCompleted and WorkflowFailed.
func (t *Tracker) WorkflowCancelled(workflowID string) {
	t.markTerminal(workflowID)
}

func (t *Tracker) markTerminal(workflowID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	exec, ok := t.executions[workflowID]
	if !ok {
		return
	}
	exec.CurrentStep = nil
	now := time.Now().UTC()
	exec.CompletedAt = &now
}

// GetExecution returns a copy of the tracked execution for
// workflowID, or nil if untracked.
func (t *Tracker) GetExecution(workflowID string) *WorkflowExecution {
	t.mu.RLock()
	defer t.mu.RUnlock()

	exec, ok := t.executions[workflowID]
	if !ok {
		return nil
	}
	cp := *exec
	cp.Steps = append([]StepExecution(nil), exec.Steps...)
	return &cp
}

// GetActiveExecutions returns every tracked execution whose
// CompletedAt is still nil.
func (t *Tracker) GetActiveExecutions() []*WorkflowExecution {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*WorkflowExecution
	for _, exec := range t.executions {
		if exec.CompletedAt == nil {
			cp := *exec
			cp.Steps = append([]StepExecution(nil), exec.Steps...)
			out = append(out, &cp)
		}
	}
	return out
}

// GetAllExecutions returns every tracked execution.
func (t *Tracker) GetAllExecutions() []*WorkflowExecution {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*WorkflowExecution, 0, len(t.executions))
	for _, exec := range t.executions {
		cp := *exec
		cp.Steps = append([]StepExecution(nil), exec.Steps...)
		out = append(out, &cp)
	}
	return out
}

// Remove drops the tracked execution for workflowID, if any.
func (t *Tracker) Remove(workflowID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.executions, workflowID)
}

// Clear drops every tracked execution.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executions = make(map[string]*WorkflowExecution)
}
