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

// Package workflow holds the workflow value type and its state machine.
package workflow

import "time"

// Status identifies which variant of State a Workflow is in.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// State is the workflow's current lifecycle state, represented as a
// closed tagged union via a Status discriminant plus the fields that
// apply to that variant. Only the fields belonging to Status are
// meaningful; callers must not read CurrentStep, Result or Error
// without first checking Status.
type State struct {
	Status Status

	// CurrentStep is set only when Status == StatusRunning. A nil
	// value means no step is in flight: none has been dispatched yet,
	// or the last one was completed or cleared for a retry.
	CurrentStep *string

	// Result holds the workflow's output, set only when
	// Status == StatusCompleted.
	Result []byte

	// Error holds the failure reason, set only when
	// Status == StatusFailed.
	Error string
}

// Pending returns the initial state of every workflow.
func Pending() State { return State{Status: StatusPending} }

// Start transitions Pending -> Running{current_step: nil}. Returns
// false (no transition) if called from any other state.
func (s State) Start() (State, bool) {
	if s.Status != StatusPending {
		return s, false
	}
	return State{Status: StatusRunning}, true
}

// StepStarted transitions Running{*} -> Running{current_step: step}.
// Returns false if the workflow is not Running.
func (s State) StepStarted(step string) (State, bool) {
	if s.Status != StatusRunning {
		return s, false
	}
	return State{Status: StatusRunning, CurrentStep: &step}, true
}

// StepCompleted clears the current step, keeping the workflow Running
// so the dispatcher can derive and dispatch the next one. Returns
// false if the workflow is not Running.
func (s State) StepCompleted() (State, bool) {
	if s.Status != StatusRunning {
		return s, false
	}
	return State{Status: StatusRunning}, true
}

// Complete transitions Running{*} -> Completed{result}. Returns false
// if the workflow is not Running.
func (s State) Complete(result []byte) (State, bool) {
	if s.Status != StatusRunning {
		return s, false
	}
	return State{Status: StatusCompleted, Result: result}, true
}

// Fail transitions Running{*} -> Failed{error}. Returns false if the
// workflow is not Running.
func (s State) Fail(reason string) (State, bool) {
	if s.Status != StatusRunning {
		return s, false
	}
	return State{Status: StatusFailed, Error: reason}, true
}

// Cancel transitions Pending or Running into Cancelled. Terminal
// states (Completed, Failed, Cancelled) cannot be cancelled again.
func (s State) Cancel() (State, bool) {
	switch s.Status {
	case StatusPending, StatusRunning:
		return State{Status: StatusCancelled}, true
	default:
		return s, false
	}
}

// IsTerminal reports whether no further transition is legal from s.
func (s State) IsTerminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Workflow is the durable record of a single workflow run.
type Workflow struct {
	ID             string
	Type           string
	Input          []byte
	State          State
	StepsCompleted map[string][]byte
	StartedAt      time.Time
	UpdatedAt      time.Time
}

// New constructs a workflow in the Pending state.
func New(id, workflowType string, input []byte) *Workflow {
	now := time.Now().UTC()
	return &Workflow{
		ID:             id,
		Type:           workflowType,
		Input:          input,
		State:          Pending(),
		StepsCompleted: make(map[string][]byte),
		StartedAt:      now,
		UpdatedAt:      now,
	}
}

// IsComplete reports whether the workflow reached Completed.
func (w *Workflow) IsComplete() bool { return w.State.Status == StatusCompleted }

// IsFailed reports whether the workflow reached Failed.
func (w *Workflow) IsFailed() bool { return w.State.Status == StatusFailed }

// CanRetry reports whether step may be attempted again: false if step
// already has an entry in StepsCompleted, otherwise whether
// attemptsSoFar is below maxAttempts. The workflow value
// itself does not track per-attempt counters; callers wire this
// against the execution tracker's StepExecution.Attempts.
func (w *Workflow) CanRetry(step string, attemptsSoFar, maxAttempts int) bool {
	if _, done := w.StepsCompleted[step]; done {
		return false
	}
	return attemptsSoFar < maxAttempts
}
