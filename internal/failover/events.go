// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quill Contributors

package failover

import (
	"sync"
	"time"
)

// EventType discriminates router notifications.
type EventType string

const (
	// EventFallback fires when selection moves the current pointer to a
	// different provider.
	EventFallback EventType = "fallback"
	// EventUnhealthy fires when a provider's circuit opens.
	EventUnhealthy EventType = "unhealthy"
	// EventRecovered fires when an open circuit closes.
	EventRecovered EventType = "recovered"
	// EventPromoted fires when a provider becomes primary.
	EventPromoted EventType = "promoted"
	// EventFailure fires on every recorded failure.
	EventFailure EventType = "failure"
	// EventSuccess fires on every recorded success.
	EventSuccess EventType = "success"
	// EventExhausted fires when a full selection scan finds no candidate.
	EventExhausted EventType = "exhausted"
)

// Fallback reasons.
const (
	ReasonHealthCheck      = "health_check"
	ReasonExplicitSkip     = "explicit_skip"
	ReasonFailureThreshold = "failure_threshold"
)

// Event is a single router notification. Fields beyond Type and At are
// populated per event type:
//
//	fallback:  From, To, Reason
//	unhealthy: Provider, FailureCount, Reason
//	recovered: Provider
//	promoted:  Provider, PreviousPrimary
//	failure:   Provider, Error
//	success:   Provider, ResponseTime
//	exhausted: Attempted
type Event struct {
	Type            EventType
	At              time.Time
	Provider        string
	From            string
	To              string
	Reason          string
	Error           string
	FailureCount    int
	ResponseTime    time.Duration
	PreviousPrimary string
	Attempted       []string
}

// notifier fans router events out to subscribers. Delivery is synchronous
// on the publishing goroutine, in the causal order of the triggering call.
// Subscribers must not block; they may call back into the Router (no router
// lock is held during delivery).
type notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(Event)
	closed bool
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]func(Event))}
}

// subscribe registers fn and returns its cancel function.
func (n *notifier) subscribe(fn func(Event)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return func() {}
	}

	id := n.nextID
	n.nextID++
	n.subs[id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// publish delivers events to every subscriber, preserving order.
func (n *notifier) publish(events []Event) {
	if len(events) == 0 {
		return
	}

	n.mu.Lock()
	fns := make([]func(Event), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// close detaches all subscribers and rejects future subscriptions.
func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subs = make(map[int]func(Event))
	n.closed = true
}
