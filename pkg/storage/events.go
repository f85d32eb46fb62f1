package storage

import (
	"fmt"
	"time"
)

// EventType names a change recorded by the store.
type EventType string

const (
	EventTurnAppended    EventType = "turn.appended"
	EventMemorySaved     EventType = "memory.saved"
	EventApprovalCreated EventType = "approval.created"
	EventApprovalDecided EventType = "approval.decided"
	EventApprovalExpired EventType = "approval.expired"
)

// Event describes a committed write. EntityID is the turn, owner or
// approval the write touched; it is empty for bulk changes.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	EntityID  string    `json:"entityId,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Observer is told about every committed write.
type Observer interface {
	HandleStorageEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) HandleStorageEvent(e Event) { f(e) }

// AddObserver registers o. Observers run off the writer's goroutine, so
// they must not assume ordering between events.
func (s *Store) AddObserver(o Observer) {
	if o == nil {
		return
	}
	s.observerMu.Lock()
	s.observers = append(s.observers, o)
	s.observerMu.Unlock()
}

func (s *Store) notify(e Event) {
	s.observerMu.RLock()
	observers := append([]Observer(nil), s.observers...)
	s.observerMu.RUnlock()

	for _, o := range observers {
		go o.HandleStorageEvent(e)
	}
}

func newEvent(typ EventType, sessionID string, entity any, data any) Event {
	e := Event{Type: typ, SessionID: sessionID, Data: data, Timestamp: time.Now()}
	if entity != nil {
		e.EntityID = fmt.Sprint(entity)
	}
	return e
}
