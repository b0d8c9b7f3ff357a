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
	"log/slog"
	"net/http"

	"github.com/kernelflow/kerneld/internal/log"
)

// statusRecorder captures the status code a handler writes so the
// logging middleware can report it after the handler returns.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush forwards to the underlying ResponseWriter's http.Flusher so
// SSE handlers still work when wrapped by this middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingMiddleware wraps h with the same request/response logging
// shape the teacher's RPCMiddleware applies to its websocket RPC
// calls, adapted here for plain HTTP handlers.
func LoggingMiddleware(logger *slog.Logger, h http.Handler) http.Handler {
	mw := log.NewRPCMiddleware(logger)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		req := &log.RPCRequest{
			MessageType: r.Method + " " + r.URL.Path,
			RemoteAddr:  r.RemoteAddr,
		}
		mw.Handler(req, func() error {
			h.ServeHTTP(rec, r)
			if rec.status >= 400 {
				return statusError(rec.status)
			}
			return nil
		})
	})
}

type statusError int

func (e statusError) Error() string {
	return http.StatusText(int(e))
}
