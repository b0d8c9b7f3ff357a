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

// Package persistence defines the storage contract every backend
// level (volatile, snapshot, state-action-log) implements. The
// implementations live in the memory, snapshot and sqlite subpackages.
package persistence

import (
	"context"

	"github.com/kernelflow/kerneld/pkg/kernel/workflow"
)

// Level names which durability tier a Store belongs to. It is
// informational only: every Level satisfies the same Store contract.
type Level string

const (
	LevelMemory         Level = "memory"
	LevelSnapshot       Level = "snapshot"
	LevelStateActionLog Level = "state-action-log"
)

// Store is the single persistence contract every backend
// implements, regardless of durability tier. A nil error and nil
// *workflow.Workflow from Get means "not found" — absence is never
// signalled by an error.
type Store interface {
	// SaveWorkflow inserts or fully overwrites a workflow record.
	SaveWorkflow(ctx context.Context, wf *workflow.Workflow) error

	// GetWorkflow returns the workflow for id, or (nil, nil) if no
	// such workflow exists.
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)

	// ListWorkflows returns every workflow whose Type matches
	// workflowType, or every workflow if workflowType is empty.
	ListWorkflows(ctx context.Context, workflowType string) ([]*workflow.Workflow, error)

	// UpdateWorkflowState replaces the State of an existing workflow
	// and bumps UpdatedAt. It is a no-op (no error) if id is unknown.
	UpdateWorkflowState(ctx context.Context, id string, state workflow.State) error

	// SaveStepResult records step's output against workflow id,
	// surfacing it on the workflow's StepsCompleted map.
	SaveStepResult(ctx context.Context, workflowID, step string, result []byte) error

	// GetStepResult returns the previously saved result for step, or
	// (nil, nil) if no result has been recorded.
	GetStepResult(ctx context.Context, workflowID, step string) ([]byte, error)
}
