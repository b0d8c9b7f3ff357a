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

package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = Tracer("github.com/kernelflow/kerneld")

// StartWorkflow opens a root span for a workflow's lifetime.
func StartWorkflow(ctx context.Context, workflowID, workflowType string) (context.Context, trace.Span) {
	return tracer.Start(ctx, fmt.Sprintf("workflow.start: %s", workflowType),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.String("workflow.type", workflowType),
		),
	)
}

// StartPollTasks opens a span around a single dispatcher poll.
func StartPollTasks(ctx context.Context, workerID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "dispatcher.poll_tasks",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("worker.id", workerID)),
	)
}

// StartPersistenceOp opens a span around a single persistence.Store call.
func StartPersistenceOp(ctx context.Context, op, backend string) (context.Context, trace.Span) {
	return tracer.Start(ctx, fmt.Sprintf("persistence.%s", op),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("persistence.op", op),
			attribute.String("persistence.backend", backend),
		),
	)
}

// EndWithError closes span, marking it as failed when err is non-nil.
func EndWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
