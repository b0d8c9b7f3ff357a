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

// Package dashboard serves the kernel's read-only observability
// surface over a single WebSocket connection per client: on-demand
// tracker queries (request/response) multiplexed with the broadcaster's
// live event feed (server push), the same two-lane connection shape
// the teacher's internal/rpc websocket server uses for request/reply
// plus StreamWriter-pushed frames.
package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kernelflow/kerneld/pkg/kernel"
	"github.com/kernelflow/kerneld/pkg/kernel/tracker"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
)

// Handler upgrades dashboard clients to WebSocket connections and
// serves tracker queries plus live events over them.
type Handler struct {
	kernel   *kernel.Kernel
	upgrader websocket.Upgrader
}

// NewHandler creates a dashboard Handler over k.
func NewHandler(k *kernel.Kernel) *Handler {
	return &Handler{
		kernel: k,
		upgrader: websocket.Upgrader{
			// Dashboards are served same-origin behind the operator's
			// own reverse proxy in every deployment this adapter
			// targets; cross-origin browser clients are not supported.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the dashboard WebSocket endpoint on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/dashboard/ws", h.handleWebSocket)
}

// query is a client-to-server request frame.
type query struct {
	Method     string `json:"method"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

// frame is a server-to-client response or push frame. Exactly one of
// Executions/Execution/Event/Error is set, discriminated by Kind.
type frame struct {
	Kind       string                     `json:"kind"`
	Executions []*tracker.WorkflowExecution `json:"executions,omitempty"`
	Execution  *tracker.WorkflowExecution   `json:"execution,omitempty"`
	Event      any                        `json:"event,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

// writer serializes concurrent writes from the query-response loop
// and the event-push loop onto one connection.
type writer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *writer) writeJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteJSON(v)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	wr := &writer{conn: conn}

	done := make(chan struct{})
	go h.pushEvents(wr, done)
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var q query
		if err := conn.ReadJSON(&q); err != nil {
			return
		}
		h.handleQuery(wr, q)
	}
}

func (h *Handler) handleQuery(wr *writer, q query) {
	switch q.Method {
	case "list_executions":
		wr.writeJSON(frame{Kind: "executions", Executions: h.kernel.Tracker.GetAllExecutions()})
	case "get_execution":
		exec := h.kernel.Tracker.GetExecution(q.WorkflowID)
		if exec == nil {
			wr.writeJSON(frame{Kind: "error", Error: "unknown workflow: " + q.WorkflowID})
			return
		}
		wr.writeJSON(frame{Kind: "execution", Execution: exec})
	case "list_active_executions":
		wr.writeJSON(frame{Kind: "executions", Executions: h.kernel.Tracker.GetActiveExecutions()})
	default:
		wr.writeJSON(frame{Kind: "error", Error: "unknown method: " + q.Method})
	}
}

// pushEvents forwards every broadcaster event onto the connection as
// a "event" frame until done is closed, sending a ping on the
// configured cadence to keep the connection alive through idle
// periods between workflow lifecycle events.
func (h *Handler) pushEvents(wr *writer, done <-chan struct{}) {
	sub := h.kernel.Broadcaster.Subscribe()
	defer sub.Close()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			wr.mu.Lock()
			err := wr.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
			wr.mu.Unlock()
			if err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			raw, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := wr.writeJSON(frame{Kind: "event", Event: json.RawMessage(raw)}); err != nil {
				return
			}
		}
	}
}
