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
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	kerrors "github.com/kernelflow/kerneld/pkg/errors"
	"github.com/kernelflow/kerneld/pkg/kernel"
	"github.com/kernelflow/kerneld/pkg/kernel/workflow"
)

// pollInterval is how long the PollTasks stream handler sleeps
// between empty dispatcher polls before trying again, so a long-lived
// worker stream does not busy-loop the store.
const pollInterval = 500 * time.Millisecond

// Server implements the worker- and client-facing gRPC service
// against a *kernel.Kernel.
type Server struct {
	kernel *kernel.Kernel
}

// NewServer wraps a kernel for gRPC registration.
func NewServer(k *kernel.Kernel) *Server {
	return &Server{kernel: k}
}

// Register attaches the kernel service to a *grpc.Server.
func Register(gs *grpc.Server, k *kernel.Kernel) {
	gs.RegisterService(&serviceDesc, NewServer(k))
}

func toStatusErr(err error) error {
	if err == nil {
		return nil
	}
	code := codes.Internal
	var classifier kerrors.ErrorClassifier
	if kerrors.As(err, &classifier) {
		switch kerrors.Code(classifier.ErrorType()) {
		case kerrors.CodeNotFound:
			code = codes.NotFound
		case kerrors.CodeInvalidArgument:
			code = codes.InvalidArgument
		case kerrors.CodeFailedPrecondition:
			code = codes.FailedPrecondition
		case kerrors.CodeTimeout:
			code = codes.DeadlineExceeded
		}
	}
	return status.Error(code, err.Error())
}

func toWorkflowMessage(wf *workflow.Workflow) *WorkflowMessage {
	m := &WorkflowMessage{
		ID:          wf.ID,
		Type:        wf.Type,
		Status:      string(wf.State.Status),
		CurrentStep: wf.State.CurrentStep,
		Error:       wf.State.Error,
		StartedAt:   wf.StartedAt,
		UpdatedAt:   wf.UpdatedAt,
	}
	if wf.State.Result != nil {
		m.Result = json.RawMessage(wf.State.Result)
	}
	return m
}

func (s *Server) startWorkflow(ctx context.Context, req *StartWorkflowRequest) (*WorkflowMessage, error) {
	wf, err := s.kernel.StartWorkflow(ctx, req.WorkflowType, req.Input, kernel.StartWorkflowOptions{WorkflowID: req.WorkflowID})
	if err != nil {
		return nil, toStatusErr(err)
	}
	return toWorkflowMessage(wf), nil
}

func (s *Server) getWorkflowStatus(ctx context.Context, req *GetWorkflowStatusRequest) (*WorkflowMessage, error) {
	wf, err := s.kernel.GetWorkflowStatus(ctx, req.WorkflowID)
	if err != nil {
		return nil, toStatusErr(err)
	}
	return toWorkflowMessage(wf), nil
}

func (s *Server) awaitResult(ctx context.Context, req *AwaitResultRequest) (*WorkflowMessage, error) {
	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	wf, err := s.kernel.AwaitResult(ctx, req.WorkflowID, timeout)
	if err != nil {
		return nil, toStatusErr(err)
	}
	return toWorkflowMessage(wf), nil
}

func (s *Server) cancelWorkflow(ctx context.Context, req *CancelWorkflowRequest) (*CancelWorkflowResponse, error) {
	if err := s.kernel.CancelWorkflow(ctx, req.WorkflowID); err != nil {
		return nil, toStatusErr(err)
	}
	return &CancelWorkflowResponse{}, nil
}

func (s *Server) register(ctx context.Context, req *RegisterRequest) (*RegisterResponse, error) {
	workerID, token, err := s.kernel.RegisterWorkerSession(req.ServiceName, req.Group, req.WorkflowTypes, req.Resources)
	if err != nil {
		return nil, toStatusErr(err)
	}
	return &RegisterResponse{WorkerID: workerID, SessionToken: token}, nil
}

func (s *Server) verify(workerID, token string) error {
	verifiedID, err := s.kernel.VerifySession(token)
	if err != nil {
		return toStatusErr(err)
	}
	if verifiedID != "" && verifiedID != workerID {
		return status.Error(codes.Unauthenticated, "session token does not match worker id")
	}
	return nil
}

func (s *Server) completeStep(ctx context.Context, req *CompleteStepRequest) (*CompleteStepResponse, error) {
	if err := s.verify(req.WorkerID, req.SessionToken); err != nil {
		return nil, err
	}
	if err := s.kernel.CompleteStep(ctx, req.TaskID, req.Output); err != nil {
		return nil, toStatusErr(err)
	}
	return &CompleteStepResponse{}, nil
}

func (s *Server) failStep(ctx context.Context, req *FailStepRequest) (*FailStepResponse, error) {
	if err := s.verify(req.WorkerID, req.SessionToken); err != nil {
		return nil, err
	}
	if err := s.kernel.FailStep(ctx, req.TaskID, req.Reason); err != nil {
		return nil, toStatusErr(err)
	}
	return &FailStepResponse{}, nil
}

func (s *Server) reportStep(ctx context.Context, req *ReportStepRequest) (*ReportStepResponse, error) {
	if err := s.verify(req.WorkerID, req.SessionToken); err != nil {
		return nil, err
	}
	if err := s.kernel.ReportStep(ctx, req.TaskID, req.Status, req.Output, req.Error); err != nil {
		return nil, toStatusErr(err)
	}
	return &ReportStepResponse{}, nil
}

func (s *Server) heartbeat(ctx context.Context, req *HeartbeatRequest) (*HeartbeatResponse, error) {
	if err := s.verify(req.WorkerID, req.SessionToken); err != nil {
		return nil, err
	}
	if err := s.kernel.Heartbeat(req.WorkerID); err != nil {
		return nil, toStatusErr(err)
	}
	return &HeartbeatResponse{}, nil
}

// pollTasksStream holds a PollTasksRequest open, pushing newly
// dispatched tasks to the worker as they become available instead of
// requiring the worker to re-poll. The stream ends when the client
// disconnects or its context is cancelled.
func (s *Server) pollTasksStream(stream grpc.ServerStream) error {
	var req PollTasksRequest
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	if err := s.verify(req.WorkerID, req.SessionToken); err != nil {
		return err
	}

	ctx := stream.Context()
	maxTasks := req.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 1
	}

	for {
		tasks, err := s.kernel.PollTasks(ctx, req.WorkerID, maxTasks)
		if err != nil {
			return toStatusErr(err)
		}
		for _, t := range tasks {
			msg := &TaskMessage{
				ID:           t.ID,
				WorkflowID:   t.WorkflowID,
				WorkflowType: t.WorkflowType,
				StepName:     t.StepName,
				ResourceType: t.ResourceType,
				ResourceName: t.ResourceName,
				RetryPolicy:  t.RetryPolicy,
			}
			if t.Input != nil {
				msg.Input = json.RawMessage(t.Input)
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

const serviceName = "kerneld.rpc.Kernel"

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartWorkflow", Handler: unaryHandler("StartWorkflow", func(s *Server, ctx context.Context, req *StartWorkflowRequest) (any, error) {
			return s.startWorkflow(ctx, req)
		})},
		{MethodName: "GetWorkflowStatus", Handler: unaryHandler("GetWorkflowStatus", func(s *Server, ctx context.Context, req *GetWorkflowStatusRequest) (any, error) {
			return s.getWorkflowStatus(ctx, req)
		})},
		{MethodName: "AwaitResult", Handler: unaryHandler("AwaitResult", func(s *Server, ctx context.Context, req *AwaitResultRequest) (any, error) {
			return s.awaitResult(ctx, req)
		})},
		{MethodName: "CancelWorkflow", Handler: unaryHandler("CancelWorkflow", func(s *Server, ctx context.Context, req *CancelWorkflowRequest) (any, error) {
			return s.cancelWorkflow(ctx, req)
		})},
		{MethodName: "Register", Handler: unaryHandler("Register", func(s *Server, ctx context.Context, req *RegisterRequest) (any, error) {
			return s.register(ctx, req)
		})},
		{MethodName: "CompleteStep", Handler: unaryHandler("CompleteStep", func(s *Server, ctx context.Context, req *CompleteStepRequest) (any, error) {
			return s.completeStep(ctx, req)
		})},
		{MethodName: "FailStep", Handler: unaryHandler("FailStep", func(s *Server, ctx context.Context, req *FailStepRequest) (any, error) {
			return s.failStep(ctx, req)
		})},
		{MethodName: "ReportStep", Handler: unaryHandler("ReportStep", func(s *Server, ctx context.Context, req *ReportStepRequest) (any, error) {
			return s.reportStep(ctx, req)
		})},
		{MethodName: "Heartbeat", Handler: unaryHandler("Heartbeat", func(s *Server, ctx context.Context, req *HeartbeatRequest) (any, error) {
			return s.heartbeat(ctx, req)
		})},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "PollTasks",
			Handler:       func(srv any, stream grpc.ServerStream) error { return srv.(*Server).pollTasksStream(stream) },
			ServerStreams: true,
			ClientStreams: false,
		},
	},
	Metadata: "kerneld/rpc.proto",
}

// unaryHandler adapts a typed request/response function into the
// untyped grpc.methodHandler shape, decoding the request with the
// handler's dec func and applying any configured interceptor.
func unaryHandler[Req any](methodName string, fn func(s *Server, ctx context.Context, req *Req) (any, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + serviceName + "/" + methodName
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(*Server), ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, request any) (any, error) {
			return fn(srv.(*Server), ctx, request.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}
