package consumer

import (
	"context"

	"github.com/sakashimaa/order-saga/internal/payment/service"
	"github.com/sakashimaa/order-saga/internal/saga"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/eventbus"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.uber.org/zap"
)

type Consumer struct {
	service service.PaymentService
	logger  *zap.Logger
}

func NewConsumer(service service.PaymentService, logger *zap.Logger) *Consumer {
	return &Consumer{
		service: service,
		logger:  logger,
	}
}

func (c *Consumer) Register(bus eventbus.Bus) error {
	return saga.Bind(bus, saga.Binding{
		Queue:   saga.QueuePaymentInventoryReserved,
		Pattern: saga.InventoryReserved,
		Handler: eventbus.HandleAs(c.inventoryReserved),
	})
}

func (c *Consumer) inventoryReserved(ctx context.Context, event domain.InventoryReservedEvent) error {
	mylogger.Info(
		ctx,
		c.logger,
		"Processing payment",
		zap.String("order_id", event.OrderID.String()),
		zap.String("user_id", event.UserID),
	)

	if err := c.service.HandleInventoryReserved(ctx, event); err != nil {
		mylogger.Warn(ctx, c.logger, "Error processing payment", zap.String("order_id", event.OrderID.String()), zap.Error(err))
		return err
	}

	return nil
}
