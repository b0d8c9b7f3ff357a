package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveDispatchLatencyRecordsSample(t *testing.T) {
	ObserveDispatchLatency("dispatched", 10*time.Millisecond)
	count := testutil.CollectAndCount(dispatchLatency)
	if count == 0 {
		t.Fatalf("expected at least one dispatch latency series, got 0")
	}
}

func TestSetQueueDepthReportsGaugeValue(t *testing.T) {
	SetQueueDepth("greeting", 3)
	got := testutil.ToFloat64(queueDepth.WithLabelValues("greeting"))
	if got != 3 {
		t.Fatalf("expected queue depth 3, got %v", got)
	}
}

func TestSetActiveExecutionsReportsGaugeValue(t *testing.T) {
	SetActiveExecutions(7)
	got := testutil.ToFloat64(activeExecutions)
	if got != 7 {
		t.Fatalf("expected active executions 7, got %v", got)
	}
}

func TestRecordBroadcasterLagIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(broadcasterLagTotal)
	RecordBroadcasterLag(2)
	after := testutil.ToFloat64(broadcasterLagTotal)
	if after-before != 2 {
		t.Fatalf("expected lag counter to increase by 2, got delta %v", after-before)
	}
}

func TestRecordPersistenceErrorIncrementsLabeledCounter(t *testing.T) {
	before := testutil.ToFloat64(persistenceErrors.With(prometheus.Labels{
		"operation": "save_workflow",
		"backend":   "memory",
	}))
	RecordPersistenceError("save_workflow", "memory")
	after := testutil.ToFloat64(persistenceErrors.With(prometheus.Labels{
		"operation": "save_workflow",
		"backend":   "memory",
	}))
	if after-before != 1 {
		t.Fatalf("expected persistence error counter to increase by 1, got delta %v", after-before)
	}
}

func TestRecordTaskDispatchedIncrementsLabeledCounter(t *testing.T) {
	before := testutil.ToFloat64(tasksDispatchedTotal.WithLabelValues("billing"))
	RecordTaskDispatched("billing")
	after := testutil.ToFloat64(tasksDispatchedTotal.WithLabelValues("billing"))
	if after-before != 1 {
		t.Fatalf("expected dispatched-task counter to increase by 1, got delta %v", after-before)
	}
}
