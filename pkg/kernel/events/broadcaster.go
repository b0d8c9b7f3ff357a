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

// Package events implements the bounded fan-out event broadcaster.
// Go has no direct equivalent of tokio::sync::broadcast, so this
// combines a fixed-capacity ring buffer (grounded on the teacher's
// internal/mcp log ring buffer) with one bounded channel per live
// subscriber: a slow subscriber drops the oldest unread events from
// its own channel rather than stalling dispatch for everyone else,
// and is told how many events it lost.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kernelflow/kerneld/internal/metrics"
)

// Capacity is the fixed size of the broadcaster's history ring buffer
// and of each subscriber's live channel.
const Capacity = 1000

// Type identifies the kind of lifecycle event carried by WorkflowEvent.
type Type string

const (
	TypeStepStarted       Type = "step_started"
	TypeStepCompleted     Type = "step_completed"
	TypeStepFailed        Type = "step_failed"
	TypeWorkflowCompleted Type = "workflow_completed"
	TypeWorkflowFailed    Type = "workflow_failed"
	TypeWorkflowCancelled Type = "workflow_cancelled"
)

// StepStartedPayload is the payload of a TypeStepStarted event.
type StepStartedPayload struct {
	Step string `json:"step"`
}

// StepCompletedPayload is the payload of a TypeStepCompleted event.
type StepCompletedPayload struct {
	Step   string `json:"step"`
	Result []byte `json:"result,omitempty"`
}

// StepFailedPayload is the payload of a TypeStepFailed event.
type StepFailedPayload struct {
	Step    string `json:"step"`
	Error   string `json:"error"`
	Attempt int    `json:"attempt"`
}

// WorkflowCompletedPayload is the payload of a TypeWorkflowCompleted event.
type WorkflowCompletedPayload struct {
	Result []byte `json:"result,omitempty"`
}

// WorkflowFailedPayload is the payload of a TypeWorkflowFailed event.
type WorkflowFailedPayload struct {
	Error string `json:"error"`
}

// WorkflowCancelledPayload is the payload of a TypeWorkflowCancelled event.
type WorkflowCancelledPayload struct{}

// WorkflowEvent is one broadcast lifecycle notification. It
// serializes to JSON with "event_type" as the discriminant tag and
// the payload's fields flattened alongside it, mirroring the
// reference wire format.
type WorkflowEvent struct {
	EventType    Type
	WorkflowID   string
	WorkflowType string
	Timestamp    time.Time
	Payload      any
}

// MarshalJSON flattens Payload's fields alongside the envelope,
// tagged by EventType, matching the serde(tag = "event_type",
// rename_all = "snake_case") wire format of the reference design.
func (e WorkflowEvent) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	fields["event_type"] = mustMarshal(e.EventType)
	fields["workflow_id"] = mustMarshal(e.WorkflowID)
	fields["workflow_type"] = mustMarshal(e.WorkflowType)
	fields["timestamp"] = mustMarshal(e.Timestamp.Unix())
	return json.Marshal(fields)
}

func mustMarshal(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func newEvent(eventType Type, workflowID, workflowType string, payload any) WorkflowEvent {
	return WorkflowEvent{
		EventType:    eventType,
		WorkflowID:   workflowID,
		WorkflowType: workflowType,
		Timestamp:    time.Now().UTC(),
		Payload:      payload,
	}
}

// subscriber is one live listener's bounded delivery channel.
type subscriber struct {
	id      string
	ch      chan WorkflowEvent
	lagged  int
}

// Broadcaster fans WorkflowEvents out to every current subscriber and
// retains the last Capacity events for late joiners via Since.
type Broadcaster struct {
	mu          sync.Mutex
	ring        []WorkflowEvent
	head        int
	count       int
	seq         uint64
	subscribers map[string]*subscriber
}

// New returns an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		ring:        make([]WorkflowEvent, Capacity),
		subscribers: make(map[string]*subscriber),
	}
}

func (b *Broadcaster) record(ev WorkflowEvent) {
	idx := (b.head + b.count) % Capacity
	if b.count < Capacity {
		b.ring[idx] = ev
		b.count++
	} else {
		b.ring[b.head] = ev
		b.head = (b.head + 1) % Capacity
	}
	b.seq++
}

// publish appends ev to history and offers it to every subscriber
// without blocking; a full subscriber channel drops its oldest queued
// event to make room and increments that subscriber's lag counter.
func (b *Broadcaster) publish(ev WorkflowEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.record(ev)
	for _, sub := range b.subscribers {
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
			default:
			}
			sub.lagged++
			metrics.RecordBroadcasterLag(1)
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

// BroadcastStepStarted emits a TypeStepStarted event.
func (b *Broadcaster) BroadcastStepStarted(workflowID, workflowType, step string) {
	b.publish(newEvent(TypeStepStarted, workflowID, workflowType, StepStartedPayload{Step: step}))
}

// BroadcastStepCompleted emits a TypeStepCompleted event.
func (b *Broadcaster) BroadcastStepCompleted(workflowID, workflowType, step string, result []byte) {
	b.publish(newEvent(TypeStepCompleted, workflowID, workflowType, StepCompletedPayload{Step: step, Result: result}))
}

// BroadcastStepFailed emits a TypeStepFailed event. attempt is the
// attempt number that failed, not the tracker's post-increment count.
func (b *Broadcaster) BroadcastStepFailed(workflowID, workflowType, step, errMsg string, attempt int) {
	b.publish(newEvent(TypeStepFailed, workflowID, workflowType, StepFailedPayload{Step: step, Error: errMsg, Attempt: attempt}))
}

// BroadcastWorkflowCompleted emits a TypeWorkflowCompleted event.
func (b *Broadcaster) BroadcastWorkflowCompleted(workflowID, workflowType string, result []byte) {
	b.publish(newEvent(TypeWorkflowCompleted, workflowID, workflowType, WorkflowCompletedPayload{Result: result}))
}

// BroadcastWorkflowFailed emits a TypeWorkflowFailed event.
func (b *Broadcaster) BroadcastWorkflowFailed(workflowID, workflowType, errMsg string) {
	b.publish(newEvent(TypeWorkflowFailed, workflowID, workflowType, WorkflowFailedPayload{Error: errMsg}))
}

// BroadcastWorkflowCancelled emits a TypeWorkflowCancelled event.
func (b *Broadcaster) BroadcastWorkflowCancelled(workflowID, workflowType string) {
	b.publish(newEvent(TypeWorkflowCancelled, workflowID, workflowType, WorkflowCancelledPayload{}))
}

// Subscription is a live handle on a Broadcaster. Events arrives on
// Events(); Lagged reports how many events were dropped from this
// subscription's channel because the consumer fell behind.
type Subscription struct {
	b  *Broadcaster
	id string
	ch chan WorkflowEvent
}

// Events returns the channel events are delivered on.
func (s *Subscription) Events() <-chan WorkflowEvent { return s.ch }

// Lagged returns the number of events dropped from this subscription
// because its channel was full when a broadcast occurred.
func (s *Subscription) Lagged() int {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if sub, ok := s.b.subscribers[s.id]; ok {
		return sub.lagged
	}
	return 0
}

// Close unregisters the subscription. Subsequent broadcasts are no
// longer delivered to it.
func (s *Subscription) Close() {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	delete(s.b.subscribers, s.id)
}

// Subscribe registers a new live listener with its own bounded
// channel of capacity Capacity.
func (b *Broadcaster) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	sub := &subscriber{id: id, ch: make(chan WorkflowEvent, Capacity)}
	b.subscribers[id] = sub
	return &Subscription{b: b, id: id, ch: sub.ch}
}

// SubscriberCount reports how many live subscriptions are registered.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Since returns every retained event recorded after the given
// timestamp, oldest first. Events older than the ring's retained
// window are not returned.
func (b *Broadcaster) Since(t time.Time) []WorkflowEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]WorkflowEvent, 0, b.count)
	for i := 0; i < b.count; i++ {
		ev := b.ring[(b.head+i)%Capacity]
		if ev.Timestamp.After(t) {
			out = append(out, ev)
		}
	}
	return out
}

// All returns every retained event, oldest first.
func (b *Broadcaster) All() []WorkflowEvent {
	return b.Since(time.Time{})
}
