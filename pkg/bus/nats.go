package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSBus publishes events on core NATS and backs work queues with
// JetStream work-queue streams, one stream per queue.
type NATSBus struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	timeout time.Duration

	mu     sync.Mutex
	queues map[string]*natsQueue
	closed bool
}

// NewNATSBus connects to cfg.URL.
func NewNATSBus(cfg Config) (*NATSBus, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	}
	switch {
	case cfg.Token != "":
		opts = append(opts, nats.Token(cfg.Token))
	case cfg.Username != "":
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.TLS {
		opts = append(opts, nats.Secure())
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &NATSBus{conn: conn, js: js, timeout: cfg.Timeout, queues: make(map[string]*natsQueue)}, nil
}

func (b *NATSBus) Publish(_ context.Context, subject string, data []byte) error {
	if b.isClosed() {
		return ErrClosed
	}
	return b.conn.Publish(subject, data)
}

func (b *NATSBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{Subject: msg.Subject, Data: msg.Data})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return sub, nil
}

func (b *NATSBus) Queue(name string) WorkQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = &natsQueue{name: name, js: b.js, fetchWait: b.timeout, inflight: make(map[string]jetstream.Msg)}
		b.queues[name] = q
	}
	return q
}

func (b *NATSBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.closed = true
	b.conn.Close()
	return nil
}

func (b *NATSBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// queueStream and queueSubject name the JetStream resources behind a queue.
// Stream names may not contain dots, so queue names are restricted to
// subject-safe tokens by config validation.
func queueStream(name string) string {
	return "EXCELLA_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func queueSubject(name string) string {
	return "excella.queue." + name
}

type natsQueue struct {
	name      string
	js        jetstream.JetStream
	fetchWait time.Duration

	once     sync.Once
	initErr  error
	stream   jetstream.Stream
	consumer jetstream.Consumer

	mu       sync.Mutex
	inflight map[string]jetstream.Msg
}

func (q *natsQueue) ensure(ctx context.Context) error {
	q.once.Do(func() {
		q.stream, q.initErr = q.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
			Name:      queueStream(q.name),
			Subjects:  []string{queueSubject(q.name)},
			Retention: jetstream.WorkQueuePolicy,
			Storage:   jetstream.FileStorage,
			MaxAge:    72 * time.Hour,
			Discard:   jetstream.DiscardNew,
		})
		if q.initErr != nil {
			q.initErr = fmt.Errorf("outbox stream %s: %w", q.name, q.initErr)
			return
		}
		q.consumer, q.initErr = q.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
			Durable:    "excella_" + strings.ReplaceAll(q.name, "-", "_"),
			AckPolicy:  jetstream.AckExplicitPolicy,
			AckWait:    5 * time.Minute,
			MaxDeliver: MaxDeliveries,
		})
		if q.initErr != nil {
			q.initErr = fmt.Errorf("outbox consumer %s: %w", q.name, q.initErr)
		}
	})
	return q.initErr
}

func (q *natsQueue) Push(ctx context.Context, data []byte) error {
	if err := q.ensure(ctx); err != nil {
		return err
	}
	_, err := q.js.Publish(ctx, queueSubject(q.name), data)
	return err
}

func (q *natsQueue) Pull(ctx context.Context) (*Task, error) {
	if err := q.ensure(ctx); err != nil {
		return nil, err
	}
	wait := q.fetchWait
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
		wait = time.Until(deadline)
	}
	batch, err := q.consumer.Fetch(1, jetstream.FetchMaxWait(wait))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	for msg := range batch.Messages() {
		meta, err := msg.Metadata()
		if err != nil {
			_ = msg.Nak()
			continue
		}
		id := fmt.Sprintf("%d", meta.Sequence.Stream)
		q.mu.Lock()
		q.inflight[id] = msg
		q.mu.Unlock()
		return &Task{ID: id, Data: msg.Data(), Attempt: int(meta.NumDelivered)}, nil
	}
	if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, ErrQueueEmpty
}

func (q *natsQueue) take(id string) (jetstream.Msg, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	msg, ok := q.inflight[id]
	delete(q.inflight, id)
	return msg, ok
}

func (q *natsQueue) Ack(_ context.Context, taskID string) error {
	if msg, ok := q.take(taskID); ok {
		return msg.Ack()
	}
	return nil
}

func (q *natsQueue) Nack(_ context.Context, taskID string) error {
	msg, ok := q.take(taskID)
	if !ok {
		return nil
	}
	meta, err := msg.Metadata()
	if err == nil && meta.NumDelivered >= MaxDeliveries {
		if err := msg.Term(); err != nil {
			return err
		}
		return ErrDeliveriesExhausted
	}
	return msg.Nak()
}

func (q *natsQueue) Pending(ctx context.Context) (int, error) {
	if err := q.ensure(ctx); err != nil {
		return 0, err
	}
	info, err := q.stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return int(info.State.Msgs), nil
}
