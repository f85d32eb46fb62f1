package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/odvcencio/excella/pkg/bus"
	"github.com/odvcencio/excella/pkg/logging"
)

// Message is a rendered email ready for delivery.
type Message struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`
	From      string    `json:"from"`
	To        []string  `json:"to"`
	Subject   string    `json:"subject"`
	Text      string    `json:"text"`
	HTML      string    `json:"html"`
	CreatedAt time.Time `json:"createdAt"`
}

// Mailer delivers messages. Transport internals live behind it.
//
//go:generate mockgen -package=email -destination=mock_mailer_test.go github.com/odvcencio/excella/pkg/email Mailer
type Mailer interface {
	Deliver(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to Mailer.
type MailerFunc func(ctx context.Context, msg Message) error

// Deliver implements Mailer.
func (f MailerFunc) Deliver(ctx context.Context, msg Message) error { return f(ctx, msg) }

// BusMailer pushes messages onto the bus outbox queue; a delivery worker
// drains it.
type BusMailer struct {
	queue bus.WorkQueue
}

func outboxQueue(name string) string {
	if name == "" {
		return bus.QueueEmailOutbox
	}
	return name
}

// NewBusMailer queues onto mb's outbox queue. An empty name uses the
// default outbox.
func NewBusMailer(mb bus.MessageBus, queue string) *BusMailer {
	return &BusMailer{queue: mb.Queue(outboxQueue(queue))}
}

// Deliver enqueues msg.
func (m *BusMailer) Deliver(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode outbox message: %w", err)
	}
	if err := m.queue.Push(ctx, data); err != nil {
		return fmt.Errorf("queue outbox message: %w", err)
	}
	return nil
}

// LogMailer records messages in the event log instead of sending them.
// It is the delivery end for deployments without an SMTP relay.
type LogMailer struct {
	logger *logging.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(logger *logging.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

// Deliver logs msg.
func (m *LogMailer) Deliver(_ context.Context, msg Message) error {
	m.logger.Info(logging.CategoryEmail, "delivered", msg.Subject, map[string]any{
		"id":     msg.ID,
		"handle": msg.Handle,
		"to":     msg.To,
		"bytes":  len(msg.Text) + len(msg.HTML),
	})
	return nil
}

// Worker drains the outbox queue into a delivery Mailer. Failed deliveries
// are nacked for retry until the bus gives up on them.
type Worker struct {
	queue    bus.WorkQueue
	delivery Mailer
	logger   *logging.Logger
}

// NewWorker creates a worker for mb's outbox queue.
func NewWorker(mb bus.MessageBus, queue string, delivery Mailer, logger *logging.Logger) *Worker {
	return &Worker{queue: mb.Queue(outboxQueue(queue)), delivery: delivery, logger: logger}
}

// Run processes messages until ctx is done or the queue closes.
func (w *Worker) Run(ctx context.Context) error {
	for {
		task, err := w.queue.Pull(ctx)
		if err != nil {
			if ctx.Err() != nil || err == bus.ErrClosed {
				return nil
			}
			if err == bus.ErrQueueEmpty {
				continue
			}
			return fmt.Errorf("pull outbox: %w", err)
		}
		w.handle(ctx, task)
	}
}

func (w *Worker) handle(ctx context.Context, task *bus.Task) {
	var msg Message
	if err := json.Unmarshal(task.Data, &msg); err != nil {
		w.logger.Error(logging.CategoryEmail, "outbox_decode_failed", err.Error(), map[string]any{"task": task.ID})
		_ = w.queue.Ack(ctx, task.ID)
		return
	}
	if err := w.delivery.Deliver(ctx, msg); err != nil {
		w.logger.Warn(logging.CategoryEmail, "delivery_failed", err.Error(), map[string]any{
			"id":      msg.ID,
			"attempt": task.Attempt,
		})
		if nackErr := w.queue.Nack(ctx, task.ID); errors.Is(nackErr, bus.ErrDeliveriesExhausted) {
			w.logger.Error(logging.CategoryEmail, "delivery_abandoned", "giving up after repeated failures", map[string]any{
				"id":       msg.ID,
				"handle":   msg.Handle,
				"attempts": task.Attempt,
			})
		}
		return
	}
	_ = w.queue.Ack(ctx, task.ID)
}
