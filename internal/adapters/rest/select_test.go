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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernelflow/kerneld/pkg/kernel"
	"github.com/kernelflow/kerneld/pkg/kernel/persistence/memory"
	"github.com/kernelflow/kerneld/pkg/kernel/scheduler"
)

func TestApplySelectProjectsField(t *testing.T) {
	out, err := applySelect([]byte(`{"name":"ada","age":36}`), ".name")
	require.NoError(t, err)
	assert.JSONEq(t, `"ada"`, string(out))
}

func TestApplySelectEmptyFilterReturnsInputUnchanged(t *testing.T) {
	out, err := applySelect([]byte(`{"name":"ada"}`), "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"ada"}`, string(out))
}

func TestApplySelectRejectsInvalidExpression(t *testing.T) {
	_, err := applySelect([]byte(`{"name":"ada"}`), "not a jq expr(")
	assert.Error(t, err)
}

func TestHandleAwaitResultAppliesSelectQueryParam(t *testing.T) {
	k := kernel.New(memory.New(), scheduler.DefaultConfig())
	h := NewHandler(k)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/workflows/greeting", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	var started workflowResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	resp.Body.Close()

	k.Dispatcher.RegisterWorker("worker-1", "", "default", []string{"greeting"}, nil)
	tasks, err := k.Dispatcher.PollTasks(t.Context(), "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NoError(t, k.Dispatcher.CompleteTask(t.Context(), tasks[0].ID, []byte(`{"greeting":"hello ada","count":1}`)))

	awaitResp, err := http.Get(srv.URL + "/v1/workflows/" + started.ID + "/result?select=" + ".greeting")
	require.NoError(t, err)
	defer awaitResp.Body.Close()
	require.Equal(t, http.StatusOK, awaitResp.StatusCode)

	var body workflowResponse
	require.NoError(t, json.NewDecoder(awaitResp.Body).Decode(&body))
	assert.JSONEq(t, `"hello ada"`, string(body.Result))
}

func TestHandleAwaitResultRejectsInvalidSelectQueryParam(t *testing.T) {
	k := kernel.New(memory.New(), scheduler.DefaultConfig())
	h := NewHandler(k)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/workflows/greeting", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	var started workflowResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	resp.Body.Close()

	k.Dispatcher.RegisterWorker("worker-1", "", "default", []string{"greeting"}, nil)
	tasks, err := k.Dispatcher.PollTasks(t.Context(), "worker-1", 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.NoError(t, k.Dispatcher.CompleteTask(t.Context(), tasks[0].ID, []byte(`{"greeting":"hi"}`)))

	awaitResp, err := http.Get(srv.URL + "/v1/workflows/" + started.ID + "/result?select=" + "not(valid")
	require.NoError(t, err)
	defer awaitResp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, awaitResp.StatusCode)
}
