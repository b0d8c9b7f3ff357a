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

package rest

import (
	"encoding/json"
	"time"

	"github.com/kernelflow/kerneld/pkg/kernel/workflow"
)

// workflowResponse is the wire representation of a workflow.Workflow.
type workflowResponse struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	CurrentStep *string         `json:"current_step,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func convertWorkflow(wf *workflow.Workflow) workflowResponse {
	resp := workflowResponse{
		ID:          wf.ID,
		Type:        wf.Type,
		Status:      string(wf.State.Status),
		CurrentStep: wf.State.CurrentStep,
		StartedAt:   wf.StartedAt,
		UpdatedAt:   wf.UpdatedAt,
	}
	if wf.State.Result != nil {
		resp.Result = json.RawMessage(wf.State.Result)
	}
	resp.Error = wf.State.Error
	return resp
}
