package bus

import (
	"context"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

const (
	subscriberBuffer = 256
	queueCapacity    = 10000
)

// MemoryBus keeps subscriptions and queues in process. Publishing never
// blocks: a subscriber whose buffer is full misses the message.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[*memorySub]struct{}
	queues map[string]*memoryQueue
	closed bool
	wg     sync.WaitGroup
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:   make(map[*memorySub]struct{}),
		queues: make(map[string]*memoryQueue),
	}
}

func (b *MemoryBus) Publish(_ context.Context, subject string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	msg := &Message{Subject: subject, Data: data}
	for sub := range b.subs {
		if !matchSubject(sub.pattern, subject) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{bus: b, pattern: subject, ch: make(chan *Message, subscriberBuffer)}
	b.subs[sub] = struct{}{}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case msg, ok := <-sub.ch:
				if !ok {
					return
				}
				handler(msg)
			case <-ctx.Done():
				return
			}
		}
	}()
	return sub, nil
}

func (b *MemoryBus) Queue(name string) WorkQueue {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		q = &memoryQueue{ready: make(chan *Task, queueCapacity), inflight: make(map[string]*Task)}
		b.queues[name] = q
	}
	return q
}

// Close ends every subscription and queue and waits for running handlers.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
	for _, q := range b.queues {
		q.close()
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

type memorySub struct {
	bus     *MemoryBus
	pattern string
	ch      chan *Message
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s]; !ok {
		return nil
	}
	delete(s.bus.subs, s)
	close(s.ch)
	return nil
}

type memoryQueue struct {
	ready chan *Task

	mu       sync.Mutex
	inflight map[string]*Task
	closed   bool
}

func (q *memoryQueue) Push(ctx context.Context, data []byte) error {
	return q.enqueue(ctx, &Task{ID: ulid.Make().String(), Data: data})
}

func (q *memoryQueue) enqueue(ctx context.Context, task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.ready <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *memoryQueue) Pull(ctx context.Context) (*Task, error) {
	select {
	case task, ok := <-q.ready:
		if !ok {
			return nil, ErrClosed
		}
		q.mu.Lock()
		task.Attempt++
		q.inflight[task.ID] = task
		q.mu.Unlock()
		out := *task
		return &out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *memoryQueue) take(id string) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	task, ok := q.inflight[id]
	delete(q.inflight, id)
	return task, ok
}

func (q *memoryQueue) Ack(_ context.Context, taskID string) error {
	q.take(taskID)
	return nil
}

func (q *memoryQueue) Nack(ctx context.Context, taskID string) error {
	task, ok := q.take(taskID)
	if !ok {
		return nil
	}
	if task.Attempt >= MaxDeliveries {
		return ErrDeliveriesExhausted
	}
	return q.enqueue(ctx, task)
}

func (q *memoryQueue) Pending(context.Context) (int, error) {
	return len(q.ready), nil
}

// close is called with the bus lock held.
func (q *memoryQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ready)
	}
}

// matchSubject reports whether subject matches pattern, where "*" stands
// for one token and a trailing ">" for one or more.
func matchSubject(pattern, subject string) bool {
	if pattern == subject {
		return true
	}
	want := strings.Split(pattern, ".")
	got := strings.Split(subject, ".")
	for i, tok := range want {
		if tok == ">" {
			return i == len(want)-1 && len(got) > i
		}
		if i >= len(got) || (tok != "*" && tok != got[i]) {
			return false
		}
	}
	return len(want) == len(got)
}
