// Package telemetry fans queue events out to in-process subscribers and
// provides the tracing setup shared by batchq commands.
package telemetry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventType names a queue lifecycle event. Types are dot-separated so they
// map directly onto bus subjects.
type EventType string

const (
	EventRunStarted   EventType = "run.started"
	EventRunCompleted EventType = "run.completed"
	EventRunFailed    EventType = "run.failed"

	EventJobStarted   EventType = "job.started"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"

	EventApprovalDecided EventType = "approval.decided"
	EventApprovalDenied  EventType = "approval.denied"
)

const defaultHubBuffer = 64

var metricEventsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "batchq",
	Name:      "telemetry_events_dropped_total",
	Help:      "Events not delivered because a subscriber was behind.",
})

// Event is one queue lifecycle notification.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     string         `json:"runId,omitempty"`
	JobKey    string         `json:"jobKey,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Publisher is the write side of a Hub.
type Publisher interface {
	Publish(event Event)
}

// Hub delivers each published event to every subscriber. Publishing never
// blocks: a subscriber with a full buffer misses the event.
type Hub struct {
	buffer  int
	dropped atomic.Uint64

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch   chan Event
	once sync.Once
}

func (s *subscriber) close() { s.once.Do(func() { close(s.ch) }) }

// NewHub returns a hub with a 64 event buffer per subscriber.
func NewHub() *Hub {
	return NewHubWithBuffer(defaultHubBuffer)
}

// NewHubWithBuffer sets the per-subscriber buffer.
func NewHubWithBuffer(size int) *Hub {
	if size <= 0 {
		size = defaultHubBuffer
	}
	return &Hub{buffer: size, subs: make(map[*subscriber]struct{})}
}

// Publish stamps event with the current time when it has none. A nil or
// closed hub ignores it.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for s := range h.subs {
		select {
		case s.ch <- event:
		default:
			h.dropped.Add(1)
			metricEventsDropped.Inc()
		}
	}
}

// Subscribe returns a channel of future events and a func that ends the
// subscription and closes the channel. On a closed hub the channel is
// already closed.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.close()
		return s.ch, func() {}
	}
	h.subs[s] = struct{}{}
	return s.ch, func() {
		h.mu.Lock()
		delete(h.subs, s)
		h.mu.Unlock()
		s.close()
	}
}

// Dropped counts events lost to full subscriber buffers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close ends every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		s.close()
	}
	clear(h.subs)
}
