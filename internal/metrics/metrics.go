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

// Package metrics exposes kerneld's Prometheus instrumentation:
// dispatch latency, queue depth, tracker activity and persistence
// operation durations.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kerneld_dispatch_latency_seconds",
			Help:    "Time from PollTasks call to task list returned, by outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kerneld_queue_depth",
			Help: "Number of workflows currently awaiting a dispatchable step, by workflow type",
		},
		[]string{"workflow_type"},
	)

	activeExecutions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kerneld_tracker_active_executions",
			Help: "Number of workflow executions currently tracked as non-terminal",
		},
	)

	broadcasterLagTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kerneld_broadcaster_lag_total",
			Help: "Total events dropped from subscriber channels because the subscriber was too slow",
		},
	)

	persistenceOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kerneld_persistence_op_duration_seconds",
			Help:    "Duration of persistence store operations by operation and backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "backend"},
	)

	persistenceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kerneld_persistence_errors_total",
			Help: "Total persistence operation errors by operation and backend",
		},
		[]string{"operation", "backend"},
	)

	tasksDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kerneld_tasks_dispatched_total",
			Help: "Total tasks handed out to workers by workflow type",
		},
		[]string{"workflow_type"},
	)
)

// ObserveDispatchLatency records how long a PollTasks call took.
// outcome should be one of: "dispatched", "empty", "error".
func ObserveDispatchLatency(outcome string, d time.Duration) {
	dispatchLatency.WithLabelValues(outcome).Observe(d.Seconds())
}

// SetQueueDepth records the number of workflows of workflowType
// currently awaiting dispatch.
func SetQueueDepth(workflowType string, depth int) {
	queueDepth.WithLabelValues(workflowType).Set(float64(depth))
}

// SetActiveExecutions records the tracker's current non-terminal
// execution count.
func SetActiveExecutions(count int) {
	activeExecutions.Set(float64(count))
}

// RecordBroadcasterLag increments the dropped-event counter by n.
func RecordBroadcasterLag(n int) {
	broadcasterLagTotal.Add(float64(n))
}

// ObservePersistenceOp records the duration of a persistence store
// call. backend should be one of: "memory", "snapshot", "sqlite".
func ObservePersistenceOp(operation, backend string, d time.Duration) {
	persistenceOpDuration.WithLabelValues(operation, backend).Observe(d.Seconds())
}

// RecordPersistenceError increments the persistence error counter.
func RecordPersistenceError(operation, backend string) {
	persistenceErrors.WithLabelValues(operation, backend).Inc()
}

// RecordTaskDispatched increments the dispatched-task counter for
// workflowType.
func RecordTaskDispatched(workflowType string) {
	tasksDispatchedTotal.WithLabelValues(workflowType).Inc()
}
