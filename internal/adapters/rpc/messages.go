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

package rpc

import (
	"encoding/json"
	"time"

	"github.com/kernelflow/kerneld/pkg/kernel/task"
)

type StartWorkflowRequest struct {
	WorkflowType string          `json:"workflow_type"`
	Input        json.RawMessage `json:"input"`
	WorkflowID   string          `json:"workflow_id,omitempty"`
}

type GetWorkflowStatusRequest struct {
	WorkflowID string `json:"workflow_id"`
}

type AwaitResultRequest struct {
	WorkflowID     string `json:"workflow_id"`
	TimeoutSeconds int64  `json:"timeout_seconds"`
}

type CancelWorkflowRequest struct {
	WorkflowID string `json:"workflow_id"`
}

type CancelWorkflowResponse struct{}

type WorkflowMessage struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	CurrentStep *string         `json:"current_step,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type RegisterRequest struct {
	ServiceName   string                  `json:"service_name"`
	Group         string                  `json:"group"`
	WorkflowTypes []string                `json:"workflow_types"`
	Resources     []task.ResourceMetadata `json:"resources"`
}

type RegisterResponse struct {
	WorkerID     string `json:"worker_id"`
	SessionToken string `json:"session_token,omitempty"`
}

type PollTasksRequest struct {
	WorkerID     string `json:"worker_id"`
	SessionToken string `json:"session_token,omitempty"`
	MaxTasks     int    `json:"max_tasks"`
}

type TaskMessage struct {
	ID           string           `json:"id"`
	WorkflowID   string           `json:"workflow_id"`
	WorkflowType string           `json:"workflow_type"`
	StepName     string           `json:"step_name"`
	Input        json.RawMessage  `json:"input"`
	ResourceType task.ResourceType `json:"resource_type"`
	ResourceName string           `json:"resource_name"`
	RetryPolicy  task.RetryPolicy `json:"retry_policy"`
}

type CompleteStepRequest struct {
	WorkerID     string          `json:"worker_id"`
	SessionToken string          `json:"session_token,omitempty"`
	TaskID       string          `json:"task_id"`
	Output       json.RawMessage `json:"output"`
}

type CompleteStepResponse struct{}

type FailStepRequest struct {
	WorkerID     string `json:"worker_id"`
	SessionToken string `json:"session_token,omitempty"`
	TaskID       string `json:"task_id"`
	Reason       string `json:"reason"`
}

type FailStepResponse struct{}

type ReportStepRequest struct {
	WorkerID     string            `json:"worker_id"`
	SessionToken string            `json:"session_token,omitempty"`
	TaskID       string            `json:"task_id"`
	Status       task.ReportStatus `json:"status"`
	Output       json.RawMessage   `json:"output,omitempty"`
	Error        string            `json:"error,omitempty"`
}

type ReportStepResponse struct{}

type HeartbeatRequest struct {
	WorkerID     string `json:"worker_id"`
	SessionToken string `json:"session_token,omitempty"`
}

type HeartbeatResponse struct{}
