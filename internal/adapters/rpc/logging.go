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
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"

	"github.com/kernelflow/kerneld/internal/log"
)

// LoggingInterceptor logs every unary call's method, remote address
// and outcome through the middleware the teacher built for its
// websocket RPC layer, generalized here to grpc-go's interceptor
// shape.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	mw := log.NewRPCMiddleware(logger)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		remote := "unknown"
		if p, ok := peer.FromContext(ctx); ok {
			remote = p.Addr.String()
		}

		rpcReq := &log.RPCRequest{
			MessageType: info.FullMethod,
			RemoteAddr:  remote,
		}

		var resp any
		err := mw.Handler(rpcReq, func() error {
			var handlerErr error
			resp, handlerErr = handler(ctx, req)
			return handlerErr
		})
		return resp, err
	}
}
