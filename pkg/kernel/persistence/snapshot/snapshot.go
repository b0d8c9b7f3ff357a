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

// Package snapshot implements the L1 persistence.Store. It is a
// conforming in-memory implementation today: snapshotInterval is
// carried on the struct for the wire config but not yet consulted by
// any write path, matching the reserved state the original design
// left it in.
package snapshot

import (
	"context"

	"github.com/kernelflow/kerneld/pkg/kernel/persistence"
	"github.com/kernelflow/kerneld/pkg/kernel/persistence/memory"
	"github.com/kernelflow/kerneld/pkg/kernel/workflow"
)

// Store is the L1 snapshot persistence.Store.
type Store struct {
	inner            *memory.Store
	snapshotInterval int
}

var _ persistence.Store = (*Store)(nil)

// New returns a Store. snapshotInterval is reserved: a future
// implementation would flush a point-in-time snapshot to a sink every
// snapshotInterval writes.
func New(snapshotInterval int) *Store {
	return &Store{
		inner:            memory.New(),
		snapshotInterval: snapshotInterval,
	}
}

func (s *Store) SaveWorkflow(ctx context.Context, wf *workflow.Workflow) error {
	return s.inner.SaveWorkflow(ctx, wf)
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	return s.inner.GetWorkflow(ctx, id)
}

func (s *Store) ListWorkflows(ctx context.Context, workflowType string) ([]*workflow.Workflow, error) {
	return s.inner.ListWorkflows(ctx, workflowType)
}

func (s *Store) UpdateWorkflowState(ctx context.Context, id string, state workflow.State) error {
	return s.inner.UpdateWorkflowState(ctx, id, state)
}

func (s *Store) SaveStepResult(ctx context.Context, workflowID, step string, result []byte) error {
	return s.inner.SaveStepResult(ctx, workflowID, step, result)
}

func (s *Store) GetStepResult(ctx context.Context, workflowID, step string) ([]byte, error) {
	return s.inner.GetStepResult(ctx, workflowID, step)
}
