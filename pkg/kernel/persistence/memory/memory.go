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

// Package memory implements the L0 volatile persistence.Store: a
// plain in-process map, gone on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/kernelflow/kerneld/pkg/kernel/persistence"
	"github.com/kernelflow/kerneld/pkg/kernel/workflow"
)

// Store is a volatile persistence.Store backed by two maps guarded by
// one mutex.
type Store struct {
	mu          sync.RWMutex
	workflows   map[string]*workflow.Workflow
	stepResults map[string][]byte // key: workflowID + "\x00" + step
}

var _ persistence.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		workflows:   make(map[string]*workflow.Workflow),
		stepResults: make(map[string][]byte),
	}
}

func resultKey(workflowID, step string) string {
	return workflowID + "\x00" + step
}

// SaveWorkflow implements persistence.Store.
func (s *Store) SaveWorkflow(_ context.Context, wf *workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *wf
	cp.StepsCompleted = cloneBytesMap(wf.StepsCompleted)
	cp.UpdatedAt = time.Now().UTC()
	s.workflows[wf.ID] = &cp
	return nil
}

// GetWorkflow implements persistence.Store.
func (s *Store) GetWorkflow(_ context.Context, id string) (*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil, nil
	}
	cp := *wf
	cp.StepsCompleted = cloneBytesMap(wf.StepsCompleted)
	return &cp, nil
}

// ListWorkflows implements persistence.Store.
func (s *Store) ListWorkflows(_ context.Context, workflowType string) ([]*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*workflow.Workflow, 0, len(s.workflows))
	for _, wf := range s.workflows {
		if workflowType != "" && wf.Type != workflowType {
			continue
		}
		cp := *wf
		cp.StepsCompleted = cloneBytesMap(wf.StepsCompleted)
		out = append(out, &cp)
	}
	return out, nil
}

// UpdateWorkflowState implements persistence.Store.
func (s *Store) UpdateWorkflowState(_ context.Context, id string, state workflow.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := s.workflows[id]
	if !ok {
		return nil
	}
	wf.State = state
	wf.UpdatedAt = time.Now().UTC()
	return nil
}

// SaveStepResult implements persistence.Store.
func (s *Store) SaveStepResult(_ context.Context, workflowID, step string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(result))
	copy(cp, result)
	s.stepResults[resultKey(workflowID, step)] = cp

	if wf, ok := s.workflows[workflowID]; ok {
		if wf.StepsCompleted == nil {
			wf.StepsCompleted = make(map[string][]byte)
		}
		wf.StepsCompleted[step] = cp
		wf.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// GetStepResult implements persistence.Store.
func (s *Store) GetStepResult(_ context.Context, workflowID, step string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.stepResults[resultKey(workflowID, step)]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(result))
	copy(cp, result)
	return cp, nil
}

func cloneBytesMap(m map[string][]byte) map[string][]byte {
	if m == nil {
		return make(map[string][]byte)
	}
	out := make(map[string][]byte, len(m))
	for k, v := range m {
		cv := make([]byte, len(v))
		copy(cv, v)
		out[k] = cv
	}
	return out
}
