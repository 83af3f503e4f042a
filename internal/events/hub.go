// Package events fans application state changes out to live subscribers
// such as websocket clients.
//
// Each subscriber owns a bounded buffer. Publishing never blocks: when a
// subscriber's buffer is full the event is dropped for that subscriber only
// and counted, so one slow client cannot stall synthesis or capture.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/voxdeck/internal/observe"
)

// Type names an event kind on the wire.
type Type string

const (
	VoicesChanged    Type = "voices_changed"
	SpeakingStarted  Type = "speaking_started"
	SpeakingEnded    Type = "speaking_ended"
	RecordingAdded   Type = "recording_added"
	RecordingRemoved Type = "recording_removed"
	Notification     Type = "notification"
)

// DefaultBuffer is the per-subscriber buffer size.
const DefaultBuffer = 32

// Event is one state change.
type Event struct {
	Type Type      `json:"type"`
	Time time.Time `json:"time"`
	Data any       `json:"data,omitempty"`
}

// Subscription receives events until Close is called or the hub shuts down.
type Subscription struct {
	hub     *Hub
	ch      chan Event
	dropped atomic.Int64
	once    sync.Once
}

// Events returns the delivery channel. It is closed by Close or
// [Hub.Close].
func (s *Subscription) Events() <-chan Event { return s.ch }

// Dropped returns how many events were discarded because the buffer was
// full.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Option is a functional option for configuring a Hub.
type Option func(*Hub)

// WithBuffer sets the per-subscriber buffer size.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithMetrics tracks the subscriber count and dropped events on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// Hub is a non-blocking event broadcaster. It is safe for concurrent use.
type Hub struct {
	buffer  int
	metrics *observe.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		buffer: DefaultBuffer,
		now:    time.Now,
		subs:   make(map[*Subscription]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Subscribe registers a new subscriber. After [Hub.Close] the returned
// subscription's channel is already closed.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{hub: h, ch: make(chan Event, h.buffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	h.subs[s] = struct{}{}
	if h.metrics != nil {
		h.metrics.EventSubscribers.Add(context.Background(), 1)
	}
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; !ok {
		return
	}
	delete(h.subs, s)
	s.once.Do(func() { close(s.ch) })
	if h.metrics != nil {
		h.metrics.EventSubscribers.Add(context.Background(), -1)
	}
}

// Publish delivers an event of type t to every subscriber.
func (h *Hub) Publish(t Type, data any) {
	ev := Event{Type: t, Time: h.now(), Data: data}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
			if h.metrics != nil {
				h.metrics.EventsDropped.Add(context.Background(), 1,
					metric.WithAttributes(observe.Attr("type", string(t))))
			}
		}
	}
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscription. Later publishes are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		s.once.Do(func() { close(s.ch) })
		if h.metrics != nil {
			h.metrics.EventSubscribers.Add(context.Background(), -1)
		}
	}
}
