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

// Package rpc exposes the kernel's worker plane (registration,
// long-poll task dispatch, step completion/failure/progress,
// heartbeat) over gRPC: HTTP/2 transport, deadline propagation, and a
// server-streaming PollTasks call a worker holds open instead of
// re-polling.
//
// This module has no .proto sources of its own to generate stubs
// from, so request/response types here are plain Go structs encoded
// with encoding/json rather than protoreflect-backed protobuf
// messages. jsonCodec overrides grpc's built-in "proto" codec at
// process scope (grpc selects a codec by content-subtype, and "proto"
// is what every grpc-go client sends when none is set) so the server
// and any in-process client share the same wire format without code
// generation. The HTTP/2 transport, streaming, and deadline semantics
// are all genuinely gRPC; only the payload encoding differs from a
// canonical protobuf service.
package rpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

const codecName = "proto"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
