package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/internal/order/domain"
	outboxDomain "github.com/sakashimaa/order-saga/pkg/outbox/domain"
)

type OrderRepository interface {
	// CreateOrder stores the order, its items and the outbox event announcing
	// it in one unit.
	CreateOrder(ctx context.Context, order *domain.Order, event *outboxDomain.OutboxEvent) error
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	ListUserOrders(ctx context.Context, userID string) ([]*domain.Order, error)
	// UpdateStatus sets the status only if it still equals from, returning
	// ErrStatusConflict otherwise.
	UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to domain.Status) error
}
