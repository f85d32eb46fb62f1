// Package telemetry carries in-process activity events and tracing spans.
package telemetry

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// EventType names an event as "<area>.<what>".
type EventType string

const (
	EventSnapshotBuilt     EventType = "snapshot.built"
	EventTodosUpdated      EventType = "todos.updated"
	EventPlanProposed      EventType = "plan.proposed"
	EventPlanValidated     EventType = "plan.validated"
	EventPlanExecuted      EventType = "plan.executed"
	EventPlanFailed        EventType = "plan.failed"
	EventApprovalRequested EventType = "approval.requested"
	EventApprovalDecided   EventType = "approval.decided"
	EventEmailProposed     EventType = "email.proposed"
	EventEmailSent         EventType = "email.sent"
	EventEmailRejected     EventType = "email.rejected"
	EventMemorySaved       EventType = "memory.saved"
	EventToolStarted       EventType = "tool.started"
	EventToolCompleted     EventType = "tool.completed"
	EventToolFailed        EventType = "tool.failed"
)

type Event struct {
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	SessionID  string         `json:"sessionId,omitempty"`
	SnapshotID string         `json:"snapshotId,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Filter narrows a subscription. Prefixes match event types ("plan."
// selects every plan event); zero values match everything.
type Filter struct {
	SessionID string
	Prefixes  []string
}

// ParseFilter builds a Filter from a comma-separated prefix list.
func ParseFilter(sessionID, prefixes string) Filter {
	f := Filter{SessionID: strings.TrimSpace(sessionID)}
	for _, p := range strings.Split(prefixes, ",") {
		if p = strings.TrimSpace(p); p != "" {
			f.Prefixes = append(f.Prefixes, p)
		}
	}
	return f
}

func (f Filter) Match(e Event) bool {
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if len(f.Prefixes) == 0 {
		return true
	}
	for _, p := range f.Prefixes {
		if strings.HasPrefix(string(e.Type), p) {
			return true
		}
	}
	return false
}

const subscriberBuffer = 64

var metricDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "excella",
	Name:      "hub_events_dropped_total",
	Help:      "Events not delivered because a subscriber's buffer was full.",
}, []string{"type"})

type subscriber struct {
	ch     chan Event
	filter Filter
}

// Hub fans events out to subscribers. Delivery never blocks the publisher:
// a subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscriber)}
}

// Publish stamps e if needed and offers it to every matching subscriber.
// A nil hub drops everything.
func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, s := range h.subs {
		if !s.filter.Match(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			metricDropped.WithLabelValues(string(e.Type)).Inc()
		}
	}
}

// Subscribe returns a channel of future events matching f and a func that
// cancels the subscription and closes the channel. After Close the channel
// is already closed.
func (h *Hub) Subscribe(f Filter) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	s := &subscriber{ch: make(chan Event, subscriberBuffer), filter: f}
	h.subs[id] = s

	var once sync.Once
	return s.ch, func() { once.Do(func() { h.remove(id) }) }
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

// Close ends every subscription. Later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.ch)
	}
}
