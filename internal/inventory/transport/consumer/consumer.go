package consumer

import (
	"context"

	"github.com/sakashimaa/order-saga/internal/inventory/service"
	"github.com/sakashimaa/order-saga/internal/saga"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/eventbus"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.uber.org/zap"
)

type Consumer struct {
	service service.InventoryService
	logger  *zap.Logger
}

func NewConsumer(service service.InventoryService, logger *zap.Logger) *Consumer {
	return &Consumer{
		service: service,
		logger:  logger,
	}
}

func (c *Consumer) Register(bus eventbus.Bus) error {
	return saga.Bind(bus,
		saga.Binding{
			Queue:   saga.QueueInventoryOrderCreated,
			Pattern: saga.OrderCreated,
			Handler: eventbus.HandleAs(c.orderCreated),
		},
		saga.Binding{
			Queue:   saga.QueueInventoryPaymentProcessed,
			Pattern: saga.PaymentProcessed,
			Handler: eventbus.HandleAs(c.service.HandlePaymentProcessed),
		},
		saga.Binding{
			Queue:   saga.QueueInventoryPaymentFailed,
			Pattern: saga.PaymentFailed,
			Handler: eventbus.HandleAs(c.service.HandlePaymentFailed),
		},
	)
}

func (c *Consumer) orderCreated(ctx context.Context, event domain.OrderCreatedEvent) error {
	mylogger.Info(
		ctx,
		c.logger,
		"Reserving stock for order",
		zap.String("order_id", event.OrderID.String()),
		zap.Int("items_count", len(event.Items)),
	)

	if err := c.service.HandleOrderCreated(ctx, event); err != nil {
		mylogger.Warn(ctx, c.logger, "Error reserving stock", zap.String("order_id", event.OrderID.String()), zap.Error(err))
		return err
	}

	return nil
}
