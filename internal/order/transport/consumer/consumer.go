package consumer

import (
	"github.com/sakashimaa/order-saga/internal/order/service"
	"github.com/sakashimaa/order-saga/internal/saga"
	"github.com/sakashimaa/order-saga/pkg/dedup"
	"github.com/sakashimaa/order-saga/pkg/eventbus"
	"go.uber.org/zap"
)

type Consumer struct {
	service service.OrderService
	dedup   dedup.Store
	logger  *zap.Logger
}

// NewConsumer builds the order stage consumer. store may be nil; status
// updates are idempotent without it.
func NewConsumer(service service.OrderService, store dedup.Store, logger *zap.Logger) *Consumer {
	return &Consumer{
		service: service,
		dedup:   store,
		logger:  logger,
	}
}

func (c *Consumer) Register(bus eventbus.Bus) error {
	return saga.Bind(bus,
		saga.Binding{
			Queue:   saga.QueueOrderInventoryReserved,
			Pattern: saga.InventoryReserved,
			Handler: c.wrap(eventbus.HandleAs(c.service.HandleInventoryReserved)),
		},
		saga.Binding{
			Queue:   saga.QueueOrderInventoryFailed,
			Pattern: saga.InventoryReservationFailed,
			Handler: c.wrap(eventbus.HandleAs(c.service.HandleInventoryReservationFailed)),
		},
		saga.Binding{
			Queue:   saga.QueueOrderPaymentProcessed,
			Pattern: saga.PaymentProcessed,
			Handler: c.wrap(eventbus.HandleAs(c.service.HandlePaymentProcessed)),
		},
		saga.Binding{
			Queue:   saga.QueueOrderPaymentFailed,
			Pattern: saga.PaymentFailed,
			Handler: c.wrap(eventbus.HandleAs(c.service.HandlePaymentFailed)),
		},
	)
}

func (c *Consumer) wrap(h eventbus.Handler) eventbus.Handler {
	if c.dedup == nil {
		return h
	}
	return dedup.Handler(c.dedup, c.logger, h)
}
