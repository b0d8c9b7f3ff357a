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
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/kernelflow/kerneld/pkg/kernel"
	"github.com/kernelflow/kerneld/pkg/kernel/persistence/memory"
	"github.com/kernelflow/kerneld/pkg/kernel/scheduler"
)

const bufSize = 1024 * 1024

func newTestConn(t *testing.T) (*grpc.ClientConn, *kernel.Kernel) {
	t.Helper()

	k := kernel.New(memory.New(), scheduler.DefaultConfig())
	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer()
	Register(gs, k)

	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn, k
}

func TestStartWorkflowOverGRPCReturnsRunningWorkflow(t *testing.T) {
	conn, _ := newTestConn(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req := &StartWorkflowRequest{WorkflowType: "greeting"}
	var resp WorkflowMessage
	err := conn.Invoke(ctx, "/kerneld.rpc.Kernel/StartWorkflow", req, &resp)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "RUNNING", resp.Status)
}

func TestRegisterThenCompleteStepRoundTrip(t *testing.T) {
	conn, _ := newTestConn(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var startResp WorkflowMessage
	require.NoError(t, conn.Invoke(ctx, "/kerneld.rpc.Kernel/StartWorkflow", &StartWorkflowRequest{WorkflowType: "greeting"}, &startResp))

	var regResp RegisterResponse
	require.NoError(t, conn.Invoke(ctx, "/kerneld.rpc.Kernel/Register", &RegisterRequest{
		ServiceName:   "greeter",
		WorkflowTypes: []string{"greeting"},
	}, &regResp))
	assert.NotEmpty(t, regResp.WorkerID)

	taskID := startResp.ID + "-start"
	var completeResp CompleteStepResponse
	err := conn.Invoke(ctx, "/kerneld.rpc.Kernel/CompleteStep", &CompleteStepRequest{
		WorkerID: regResp.WorkerID,
		TaskID:   taskID,
		Output:   []byte(`{"ok":true}`),
	}, &completeResp)
	require.NoError(t, err)

	var statusResp WorkflowMessage
	require.NoError(t, conn.Invoke(ctx, "/kerneld.rpc.Kernel/GetWorkflowStatus", &GetWorkflowStatusRequest{WorkflowID: startResp.ID}, &statusResp))
	assert.Equal(t, "COMPLETED", statusResp.Status)
}

func TestPollTasksStreamDeliversDispatchedTask(t *testing.T) {
	conn, _ := newTestConn(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var startResp WorkflowMessage
	require.NoError(t, conn.Invoke(ctx, "/kerneld.rpc.Kernel/StartWorkflow", &StartWorkflowRequest{WorkflowType: "greeting"}, &startResp))

	var regResp RegisterResponse
	require.NoError(t, conn.Invoke(ctx, "/kerneld.rpc.Kernel/Register", &RegisterRequest{
		ServiceName:   "greeter",
		WorkflowTypes: []string{"greeting"},
	}, &regResp))

	streamDesc := &grpc.StreamDesc{StreamName: "PollTasks", ServerStreams: true}
	stream, err := conn.NewStream(ctx, streamDesc, "/kerneld.rpc.Kernel/PollTasks")
	require.NoError(t, err)

	require.NoError(t, stream.SendMsg(&PollTasksRequest{WorkerID: regResp.WorkerID, MaxTasks: 1}))
	require.NoError(t, stream.CloseSend())

	var task TaskMessage
	require.NoError(t, stream.RecvMsg(&task))
	assert.Equal(t, startResp.ID, task.WorkflowID)
	assert.Equal(t, "start", task.StepName)
}
