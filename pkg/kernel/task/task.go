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

// Package task holds the ephemeral dispatch descriptor handed to
// workers and the resource/retry value types shared with the service
// registry and scheduler.
package task

import (
	"fmt"
	"strings"

	kerrors "github.com/kernelflow/kerneld/pkg/errors"
)

// ResourceType classifies what a Task asks a worker to execute.
type ResourceType string

const (
	ResourceTypeStep     ResourceType = "STEP"
	ResourceTypeActivity ResourceType = "ACTIVITY"
	ResourceTypeWorkflow ResourceType = "WORKFLOW"
)

// ReportStatus is the progress status a worker attaches to a
// report_step call: an advisory, non-terminal update distinct from
// the terminal complete_step/fail_step protocol.
type ReportStatus string

const (
	ReportStatusStarted   ReportStatus = "STARTED"
	ReportStatusCompleted ReportStatus = "COMPLETED"
	ReportStatusFailed    ReportStatus = "FAILED"
)

// ResourceMetadata describes one capability a service exposes: a
// name, the kind of resource it is, an optional jq-style selector
// used by observers to project a step's raw output, and an optional
// retry policy override applied in place of DefaultRetryPolicy when
// the scheduler dispatches this resource.
type ResourceMetadata struct {
	Name         string
	Type         ResourceType
	OutputSelect string
	RetryPolicy  *RetryPolicy
}

// ServiceResource pairs a resource with the name of the service that
// provides it, for matching against a worker's advertised resources.
type ServiceResource struct {
	ServiceName string
	Resource    ResourceMetadata
}

// RetryPolicy bounds how many times a failed step may be redispatched
// and at what cadence. When is an optional expr-lang boolean
// expression evaluated against the last failure, gating whether that
// particular failure is retried at all even if attempts remain; an
// empty When always allows the retry.
type RetryPolicy struct {
	MaxAttempts       int
	InitialInterval   int64 // milliseconds
	BackoffMultiplier float64
	When              string
}

// DefaultRetryPolicy mirrors the defaults a worker gets when none is
// configured on the matching service resource.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialInterval:   1000,
		BackoffMultiplier: 2.0,
	}
}

// Task is the ephemeral unit of dispatch a worker receives from
// PollTasks. It is never persisted; it is derived fresh from the
// workflow's current state on every poll.
type Task struct {
	ID           string
	WorkflowID   string
	WorkflowType string
	StepName     string
	Input        []byte
	ResourceType ResourceType
	ResourceName string
	RetryPolicy  RetryPolicy
}

// NewID builds the wire task id from a workflow id and step name.
func NewID(workflowID, stepName string) string {
	return fmt.Sprintf("%s-%s", workflowID, stepName)
}

// ParseID splits a task id back into its workflow id and step name.
// It splits on the LAST hyphen: workflow ids are UUIDs and never
// themselves end in "-<stepname>", so the rightmost hyphen always
// separates the two components.
func ParseID(taskID string) (workflowID, stepName string, err error) {
	idx := strings.LastIndexByte(taskID, '-')
	if idx < 0 || idx == len(taskID)-1 {
		return "", "", &kerrors.ValidationError{
			Field:   "task_id",
			Message: fmt.Sprintf("invalid task id format: %q", taskID),
		}
	}
	return taskID[:idx], taskID[idx+1:], nil
}
