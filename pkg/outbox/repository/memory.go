package repository

import (
	"context"
	"sync"
	"time"

	"github.com/sakashimaa/order-saga/pkg/outbox/domain"
	"github.com/sakashimaa/order-saga/pkg/outbox/worker"
)

// MemoryOutbox is the in-process counterpart of the outbox table. Callers
// that need atomicity with their own state hold their lock around Append.
type MemoryOutbox struct {
	mu     sync.Mutex
	nextID int64
	events []*domain.OutboxEvent
}

var _ worker.OutboxRepository = (*MemoryOutbox)(nil)

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{}
}

func (o *MemoryOutbox) Append(event *domain.OutboxEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nextID++
	event.ID = o.nextID
	o.events = append(o.events, event)
}

// ProcessBatch holds the outbox lock for the whole batch, so concurrent
// relays never publish the same event twice.
func (o *MemoryOutbox) ProcessBatch(ctx context.Context, batchSize int, publish worker.PublishFunc) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	published, seen := 0, 0
	for _, event := range o.events {
		if seen >= batchSize {
			break
		}
		if event.PublishedAt != nil || event.Attempts >= domain.MaxAttempts {
			continue
		}
		seen++

		if err := publish(ctx, event); err != nil {
			msg := err.Error()
			event.LastError = &msg
			event.Attempts++
			continue
		}

		now := time.Now().UTC()
		event.PublishedAt = &now
		event.LastError = nil
		published++
	}

	return published, nil
}

// Pending returns the number of events not yet published.
func (o *MemoryOutbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, event := range o.events {
		if event.PublishedAt == nil {
			n++
		}
	}
	return n
}
