// Package bus carries excella's outbound traffic: telemetry events for UIs
// and other processes, and the email outbox drained by a delivery worker.
// NATS is the production transport; MemoryBus serves tests and
// single-process deployments.
package bus

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus closed")

	// ErrQueueEmpty is returned by Pull when a fetch window passed without
	// work. Callers simply pull again.
	ErrQueueEmpty = errors.New("queue empty")

	// ErrDeliveriesExhausted is returned by Nack when the task has been
	// delivered MaxDeliveries times. The task is dropped.
	ErrDeliveriesExhausted = errors.New("delivery attempts exhausted")
)

// Subject and queue names.
const (
	SubjectEventsPrefix = "excella.events."
	SubjectEventsAll    = "excella.events.>"
	QueueEmailOutbox    = "email-outbox"

	// MaxDeliveries bounds how often one task is handed to a worker.
	MaxDeliveries = 5
)

// MessageBus publishes fire-and-forget events and hands out work queues.
// Implementations are safe for concurrent use.
type MessageBus interface {
	// Publish fans data out to every subscription matching subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe delivers matching messages to handler until the
	// subscription, the bus or ctx ends. "*" matches one subject token and
	// a trailing ">" matches the rest.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Queue returns the named work queue, creating it on first use.
	Queue(name string) WorkQueue

	Close() error
}

// MessageHandler processes one published message.
type MessageHandler func(msg *Message)

// Message is one published event.
type Message struct {
	Subject string
	Data    []byte
}

// Subscription can be cancelled.
type Subscription interface {
	Unsubscribe() error
}

// WorkQueue hands every pushed task to exactly one worker. A pulled task
// stays in flight until it is acked, or nacked for redelivery.
type WorkQueue interface {
	Push(ctx context.Context, data []byte) error

	// Pull blocks until a task is available or ctx is done.
	Pull(ctx context.Context) (*Task, error)

	Ack(ctx context.Context, taskID string) error

	// Nack returns the task for redelivery, or drops it with
	// ErrDeliveriesExhausted once it reached MaxDeliveries.
	Nack(ctx context.Context, taskID string) error

	// Pending approximates the number of tasks waiting for a worker.
	Pending(ctx context.Context) (int, error)
}

// Task is one unit of work pulled from a WorkQueue.
type Task struct {
	ID   string
	Data []byte
	// Attempt counts deliveries of this task, starting at 1.
	Attempt int
}

// Config selects and configures the transport.
type Config struct {
	// URL is the NATS server URL. Empty selects the in-memory bus.
	URL string

	// Name identifies the client to the NATS server.
	Name string

	// Username and Password, or Token, authenticate against NATS.
	Username string
	Password string
	Token    string

	// TLS requires a TLS connection.
	TLS bool

	// Timeout bounds connecting and queue fetches.
	Timeout time.Duration
}

// DefaultConfig returns the in-memory configuration.
func DefaultConfig() Config {
	return Config{
		Name:    "excella",
		Timeout: 30 * time.Second,
	}
}

// Open returns a NATS bus when cfg.URL is set and a MemoryBus otherwise.
func Open(cfg Config) (MessageBus, error) {
	if cfg.URL == "" {
		return NewMemoryBus(), nil
	}
	return NewNATSBus(cfg)
}
