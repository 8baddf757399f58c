/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"errors"
	"sync"
	"time"

	"github.com/NissesSenap/osa-web/pkg/runner"
)

const (
	defaultHistoryLimit     = 1000
	defaultSubscriberBuffer = 64
)

// ErrStreamNotFound is returned when subscribing to a run that is not the
// hub's current run.
var ErrStreamNotFound = errors.New("event stream not found")

// EndReason tells a subscriber why its channel was closed.
type EndReason int

const (
	EndNone EndReason = iota
	// EndCompleted: the run reached a terminal phase.
	EndCompleted
	// EndEvicted: the subscriber did not keep up and was dropped.
	EndEvicted
	// EndSuperseded: a newer run replaced the subscribed one.
	EndSuperseded
	// EndUnsubscribed: the subscriber closed the subscription itself.
	EndUnsubscribed
)

// EventHub fans out the transcript events of the deployment's current run.
// It keeps the newest events in a fixed-size ring for replay; starting a new
// run discards the previous run's events and ends its subscriptions.
type EventHub struct {
	historyLimit int
	bufferSize   int

	mu    sync.Mutex
	runID string
	ring  []RunEvent
	start int
	count int
	done  bool
	subs  map[*Subscription]struct{}
}

// HubOption configures an EventHub.
type HubOption func(*EventHub)

// WithHistoryLimit sets how many events are kept for replay.
func WithHistoryLimit(n int) HubOption {
	return func(h *EventHub) { h.historyLimit = n }
}

// WithSubscriberBuffer sets how many events a subscriber may fall behind
// before it is evicted.
func WithSubscriberBuffer(n int) HubOption {
	return func(h *EventHub) { h.bufferSize = n }
}

// NewEventHub creates an EventHub with no current run.
func NewEventHub(opts ...HubOption) *EventHub {
	h := &EventHub{
		historyLimit: defaultHistoryLimit,
		bufferSize:   defaultSubscriberBuffer,
		subs:         make(map[*Subscription]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.ring = make([]RunEvent, h.historyLimit)
	return h
}

// Subscription is a live feed of one run's events.
type Subscription struct {
	// C delivers events in sequence order. It is closed when the
	// subscription ends; Reason says why.
	C <-chan RunEvent

	ch     chan RunEvent
	hub    *EventHub
	reason EndReason
}

// Reason returns why C was closed, or EndNone while it is open.
func (s *Subscription) Reason() EndReason {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.reason
}

// Close ends the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	s.hub.endLocked(s, EndUnsubscribed)
}

// Begin makes runID the current run. Subscribers of the previous run are
// ended with EndSuperseded. Calling Begin for the current run is a no-op.
func (h *EventHub) Begin(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if runID == h.runID {
		return
	}
	for s := range h.subs {
		h.endLocked(s, EndSuperseded)
	}
	h.runID = runID
	h.start, h.count = 0, 0
	h.done = false
}

// Publish records events for runID and forwards them to subscribers. Events
// for any other run, or after Complete, are dropped.
func (h *EventHub) Publish(runID string, events ...RunEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if runID != h.runID || h.done {
		return
	}
	for _, e := range events {
		h.appendLocked(e)
	}
	for s := range h.subs {
		for _, e := range events {
			select {
			case s.ch <- e:
				continue
			default:
			}
			h.endLocked(s, EndEvicted)
			break
		}
	}
}

// Complete marks runID finished and ends its subscriptions with EndCompleted.
func (h *EventHub) Complete(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if runID != h.runID || h.done {
		return
	}
	h.done = true
	for s := range h.subs {
		h.endLocked(s, EndCompleted)
	}
}

// Subscribe returns the buffered events of runID with a sequence greater than
// after and a subscription for the ones that follow. When the run is already
// complete the subscription is returned closed with EndCompleted.
func (h *EventHub) Subscribe(runID string, after int64) ([]RunEvent, *Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if runID == "" || runID != h.runID {
		return nil, nil, ErrStreamNotFound
	}

	var history []RunEvent
	for i := 0; i < h.count; i++ {
		if e := h.ring[(h.start+i)%len(h.ring)]; e.Sequence > after {
			history = append(history, e)
		}
	}

	ch := make(chan RunEvent, h.bufferSize)
	s := &Subscription{C: ch, ch: ch, hub: h}
	if h.done {
		close(ch)
		s.reason = EndCompleted
		return history, s, nil
	}
	h.subs[s] = struct{}{}
	return history, s, nil
}

// Done reports whether runID is the current run and has completed.
func (h *EventHub) Done(runID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return runID == h.runID && h.done
}

func (h *EventHub) appendLocked(e RunEvent) {
	if len(h.ring) == 0 {
		return
	}
	if h.count < len(h.ring) {
		h.ring[(h.start+h.count)%len(h.ring)] = e
		h.count++
		return
	}
	h.ring[h.start] = e
	h.start = (h.start + 1) % len(h.ring)
}

func (h *EventHub) endLocked(s *Subscription, reason EndReason) {
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	s.reason = reason
	close(s.ch)
}

// HubPublisher turns RunState snapshots into hub events. Each new transcript
// line becomes one event whose sequence is its 1-based transcript position;
// the first line is the invocation. A terminal snapshot completes the stream.
type HubPublisher struct {
	hub *EventHub
	now func() time.Time

	mu    sync.Mutex
	runID string
	sent  int
}

// NewHubPublisher creates a HubPublisher feeding hub.
func NewHubPublisher(hub *EventHub) *HubPublisher {
	return &HubPublisher{hub: hub, now: time.Now}
}

// Publish implements runner.Publisher.
func (p *HubPublisher) Publish(s runner.RunState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.ID != p.runID {
		p.hub.Begin(s.ID)
		p.runID = s.ID
		p.sent = 0
	}

	if n := len(s.Transcript); n > p.sent {
		ts := formatTime(p.now())
		events := make([]RunEvent, 0, n-p.sent)
		for i := p.sent; i < n; i++ {
			typ := EventTypeLine
			if i == 0 {
				typ = EventTypeInvocation
			}
			events = append(events, RunEvent{
				Sequence:  int64(i + 1),
				Timestamp: ts,
				Type:      typ,
				Line:      s.Transcript[i],
			})
		}
		p.hub.Publish(s.ID, events...)
		p.sent = n
	}

	if s.Phase.Terminal() {
		p.hub.Complete(s.ID)
	}
}
