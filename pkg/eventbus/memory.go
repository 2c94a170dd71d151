package eventbus

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"go.uber.org/zap"
)

// MemoryBus is an in-process topic exchange. Queues are created by the first
// Subscribe naming them; an envelope published while no queue binding matches
// it is dropped, as on a broker exchange without bindings. Each queue is FIFO
// and a requeued message goes back to its head.
type MemoryBus struct {
	opts       Options
	dispatcher *dispatcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	queues map[string]*memoryQueue
	closed bool

	// unacked counts deliveries enqueued but not yet acknowledged.
	unacked atomic.Int64
}

var _ Bus = (*MemoryBus)(nil)

func NewMemoryBus(logger *zap.Logger, opts Options) *MemoryBus {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &MemoryBus{
		opts:       opts,
		dispatcher: &dispatcher{opts: opts, logger: logger},
		ctx:        ctx,
		cancel:     cancel,
		queues:     make(map[string]*memoryQueue),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, event any) error {
	env, err := NewEnvelope(event)
	if err != nil {
		return err
	}
	return b.PublishEnvelope(ctx, env)
}

func (b *MemoryBus) PublishEnvelope(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}

	for _, q := range b.queues {
		if !q.matches(env.RoutingKey) {
			continue
		}
		b.unacked.Add(1)
		q.push(Delivery{Envelope: env, Queue: q.name, Attempt: 1})
	}

	metrics.EventsPublished.WithLabelValues(env.RoutingKey).Inc()
	return nil
}

func (b *MemoryBus) Subscribe(queue, pattern string, handler Handler) error {
	if queue == "" || pattern == "" || handler == nil {
		return fmt.Errorf("%w: queue %q pattern %q", ErrSubscription, queue, pattern)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}

	q, ok := b.queues[queue]
	if !ok {
		q = newMemoryQueue(queue)
		b.queues[queue] = q
	}
	if !slices.Contains(q.bindings, pattern) {
		q.bindings = append(q.bindings, pattern)
	}

	b.wg.Add(1)
	b.mu.Unlock()

	go b.consume(q, handler)
	return nil
}

func (b *MemoryBus) consume(q *memoryQueue, h Handler) {
	defer b.wg.Done()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = b.opts.RetryInitialInterval
	retry.MaxInterval = b.opts.RetryMaxInterval
	retry.MaxElapsedTime = 0
	retry.Reset()

	for {
		del, ok := q.pop(b.ctx)
		if !ok {
			return
		}

		if b.dispatcher.dispatch(b.ctx, h, del) == outcomeAck {
			b.unacked.Add(-1)
			retry.Reset()
			continue
		}

		del.Attempt++
		q.pushFront(del)

		timer := time.NewTimer(retry.NextBackOff())
		select {
		case <-b.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// WaitIdle blocks until every published delivery has been acknowledged.
func (b *MemoryBus) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for {
		if b.unacked.Load() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait idle with %d unacked: %w", b.unacked.Load(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Depth returns the number of messages waiting in queue.
func (b *MemoryBus) Depth(queue string) int {
	b.mu.Lock()
	q, ok := b.queues[queue]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return q.size()
}

// Close stops the consumers after their in-flight handlers return. Messages
// not yet acknowledged stay in their queues.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return nil
}

type memoryQueue struct {
	name     string
	bindings []string

	mu    sync.Mutex
	items []Delivery
	ready chan struct{}
}

func newMemoryQueue(name string) *memoryQueue {
	return &memoryQueue{name: name, ready: make(chan struct{}, 1)}
}

func (q *memoryQueue) matches(routingKey string) bool {
	for _, p := range q.bindings {
		if MatchPattern(p, routingKey) {
			return true
		}
	}
	return false
}

func (q *memoryQueue) push(d Delivery) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
	q.signal()
}

func (q *memoryQueue) pushFront(d Delivery) {
	q.mu.Lock()
	q.items = slices.Insert(q.items, 0, d)
	q.mu.Unlock()
	q.signal()
}

func (q *memoryQueue) pop(ctx context.Context) (Delivery, bool) {
	for ctx.Err() == nil {
		q.mu.Lock()
		if len(q.items) > 0 {
			d := q.items[0]
			q.items = q.items[1:]
			more := len(q.items) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return d, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Delivery{}, false
		case <-q.ready:
		}
	}
	return Delivery{}, false
}

func (q *memoryQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *memoryQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
