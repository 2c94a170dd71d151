package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/internal/order/domain"
	sagadomain "github.com/sakashimaa/order-saga/pkg/domain"
	outboxDomain "github.com/sakashimaa/order-saga/pkg/outbox/domain"
	outboxRepository "github.com/sakashimaa/order-saga/pkg/outbox/repository"
)

type memoryRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*domain.Order
	outbox *outboxRepository.MemoryOutbox
}

func NewMemoryRepository(outbox *outboxRepository.MemoryOutbox) OrderRepository {
	return &memoryRepo{
		orders: make(map[uuid.UUID]*domain.Order),
		outbox: outbox,
	}
}

func copyOrder(o *domain.Order) *domain.Order {
	out := *o
	out.Items = append([]sagadomain.OrderItem(nil), o.Items...)
	return &out
}

func (r *memoryRepo) CreateOrder(_ context.Context, order *domain.Order, event *outboxDomain.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.orders[order.ID] = copyOrder(order)
	r.outbox.Append(event)
	return nil
}

func (r *memoryRepo) GetOrder(_ context.Context, orderID uuid.UUID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (r *memoryRepo) ListUserOrders(_ context.Context, userID string) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Order
	for _, o := range r.orders {
		if o.UserID == userID {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *memoryRepo) UpdateStatus(_ context.Context, orderID uuid.UUID, from, to domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	if o.Status != from {
		return ErrStatusConflict
	}
	o.Status = to
	o.UpdatedAt = time.Now().UTC()
	return nil
}
