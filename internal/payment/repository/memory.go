package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/internal/payment/domain"
)

type memoryRepo struct {
	mu       sync.Mutex
	byOrder  map[uuid.UUID]*domain.Payment
	payments map[uuid.UUID]*domain.Payment
}

func NewMemoryRepository() PaymentRepository {
	return &memoryRepo{
		byOrder:  make(map[uuid.UUID]*domain.Payment),
		payments: make(map[uuid.UUID]*domain.Payment),
	}
}

func (r *memoryRepo) Create(_ context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byOrder[payment.OrderID]; ok {
		return ErrPaymentExists
	}

	now := time.Now().UTC()
	payment.CreatedAt = now
	payment.UpdatedAt = now

	stored := *payment
	r.byOrder[payment.OrderID] = &stored
	r.payments[payment.ID] = &stored
	return nil
}

func (r *memoryRepo) GetByOrderID(_ context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byOrder[orderID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	out := *p
	return &out, nil
}

func (r *memoryRepo) Update(_ context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[payment.ID]
	if !ok {
		return ErrPaymentNotFound
	}

	payment.UpdatedAt = time.Now().UTC()
	p.Status = payment.Status
	p.TransactionID = payment.TransactionID
	p.FailureReason = payment.FailureReason
	p.ProcessedAt = payment.ProcessedAt
	p.UpdatedAt = payment.UpdatedAt
	return nil
}
