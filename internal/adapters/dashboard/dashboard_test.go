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

package dashboard

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/kernelflow/kerneld/pkg/kernel"
	"github.com/kernelflow/kerneld/pkg/kernel/persistence/memory"
	"github.com/kernelflow/kerneld/pkg/kernel/scheduler"
)

func newTestDashboard(t *testing.T) (*kernel.Kernel, *websocket.Conn) {
	t.Helper()
	k := kernel.New(memory.New(), scheduler.DefaultConfig())
	h := NewHandler(k)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/dashboard/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return k, conn
}

func TestListExecutionsReturnsEmptyInitially(t *testing.T) {
	_, conn := newTestDashboard(t)

	require.NoError(t, conn.WriteJSON(query{Method: "list_executions"}))

	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	require.Equal(t, "executions", f.Kind)
	require.Empty(t, f.Executions)
}

func TestGetExecutionReturnsErrorForUnknownWorkflow(t *testing.T) {
	_, conn := newTestDashboard(t)

	require.NoError(t, conn.WriteJSON(query{Method: "get_execution", WorkflowID: "nope"}))

	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	require.Equal(t, "error", f.Kind)
	require.NotEmpty(t, f.Error)
}

func TestDashboardReceivesLiveStepStartedEvent(t *testing.T) {
	k, conn := newTestDashboard(t)

	wf, err := k.StartWorkflow(t.Context(), "greeting", nil, kernel.StartWorkflowOptions{})
	require.NoError(t, err)

	workerID := k.RegisterWorker("greeter", "default", []string{"greeting"}, nil)
	_, err = k.PollTasks(t.Context(), workerID, 1)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	require.Equal(t, "event", f.Kind)

	eventFields, ok := f.Event.(map[string]any)
	require.True(t, ok)
	require.Equal(t, wf.ID, eventFields["workflow_id"])
}
