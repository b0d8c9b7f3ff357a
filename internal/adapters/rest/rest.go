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

// Package rest exposes the kernel's client-facing surface over plain
// HTTP/JSON: start a workflow, poll its status, await its result,
// cancel it, and stream live events over Server-Sent Events.
package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	kerrors "github.com/kernelflow/kerneld/pkg/errors"
	"github.com/kernelflow/kerneld/pkg/kernel"
	"github.com/kernelflow/kerneld/pkg/kernel/task"
)

const maxRequestBodySize = 1 * 1024 * 1024 // 1MB

const defaultAwaitTimeout = 30 * time.Second

// Handler serves the client-facing REST API.
type Handler struct {
	kernel *kernel.Kernel
}

// NewHandler creates a new REST API handler.
func NewHandler(k *kernel.Kernel) *Handler {
	return &Handler{kernel: k}
}

// RegisterRoutes registers every client-facing route on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/workflows/{type}", h.handleStartWorkflow)
	mux.HandleFunc("GET /v1/workflows/{id}", h.handleGetWorkflowStatus)
	mux.HandleFunc("GET /v1/workflows/{id}/result", h.handleAwaitResult)
	mux.HandleFunc("POST /v1/workflows/{id}/cancel", h.handleCancelWorkflow)
	mux.HandleFunc("GET /v1/events/stream", h.handleStreamEvents)
	mux.HandleFunc("GET /v1/admin/metrics", h.handleGetMetrics)
}

type startWorkflowRequest struct {
	Input      json.RawMessage `json:"input"`
	WorkflowID string          `json:"workflow_id,omitempty"`
}

func (h *Handler) handleStartWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowType := r.PathValue("type")
	if workflowType == "" {
		writeError(w, http.StatusBadRequest, "workflow type is required")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req startWorkflowRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
			return
		}
	}

	wf, err := h.kernel.StartWorkflow(r.Context(), workflowType, req.Input, kernel.StartWorkflowOptions{
		WorkflowID: req.WorkflowID,
	})
	if err != nil {
		writeKernelError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, convertWorkflow(wf))
}

func (h *Handler) handleGetWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wf, err := h.kernel.GetWorkflowStatus(r.Context(), id)
	if err != nil {
		writeKernelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convertWorkflow(wf))
}

func (h *Handler) handleAwaitResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	timeout := defaultAwaitTimeout
	if v := r.URL.Query().Get("timeout_seconds"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}

	wf, err := h.kernel.AwaitResult(r.Context(), id, timeout)
	if err != nil {
		writeKernelError(w, err)
		return
	}

	resp := convertWorkflow(wf)
	sel := r.URL.Query().Get("select")
	if sel == "" {
		if _, res, found := h.kernel.Registry.FindResource(task.ResourceTypeStep, ""); found {
			sel = res.OutputSelect
		}
	}
	if sel != "" {
		projected, err := applySelect(resp.Result, sel)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		resp.Result = projected
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.kernel.CancelWorkflow(r.Context(), id); err != nil {
		writeKernelError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleStreamEvents streams the broadcaster's live event feed as
// Server-Sent Events, replaying history newer than the "since" query
// parameter (RFC3339) before switching to the live subscription.
func (h *Handler) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx := r.Context()

	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since parameter")
			return
		}
		for _, ev := range h.kernel.Broadcaster.Since(t) {
			writeSSE(w, ev)
		}
		flusher.Flush()
	}

	sub := h.kernel.Broadcaster.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			writeSSE(w, ev)
			flusher.Flush()
		}
	}
}

func (h *Handler) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.kernel.GetMetrics(r.Context())
	if err != nil {
		writeKernelError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func writeSSE(w io.Writer, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeKernelError maps a kernel-level error to an HTTP status using
// its ErrorClassifier category.
func writeKernelError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var classifier kerrors.ErrorClassifier
	if kerrors.As(err, &classifier) {
		switch kerrors.Code(classifier.ErrorType()) {
		case kerrors.CodeNotFound:
			status = http.StatusNotFound
		case kerrors.CodeInvalidArgument:
			status = http.StatusBadRequest
		case kerrors.CodeFailedPrecondition:
			status = http.StatusConflict
		case kerrors.CodeTimeout:
			status = http.StatusGatewayTimeout
		}
	}
	writeError(w, status, err.Error())
}
