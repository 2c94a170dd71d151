package consumer

import (
	"github.com/sakashimaa/order-saga/internal/notification/service"
	"github.com/sakashimaa/order-saga/internal/saga"
	"github.com/sakashimaa/order-saga/pkg/dedup"
	"github.com/sakashimaa/order-saga/pkg/eventbus"
	"go.uber.org/zap"
)

type Consumer struct {
	service *service.NotificationService
	dedup   dedup.Store
	logger  *zap.Logger
}

func NewConsumer(service *service.NotificationService, store dedup.Store, logger *zap.Logger) *Consumer {
	return &Consumer{
		service: service,
		dedup:   store,
		logger:  logger,
	}
}

func (c *Consumer) Register(bus eventbus.Bus) error {
	return saga.Bind(bus,
		saga.Binding{
			Queue:   saga.QueueNotificationPaymentProcessed,
			Pattern: saga.PaymentProcessed,
			Handler: dedup.Handler(c.dedup, c.logger, eventbus.HandleAs(c.service.HandlePaymentProcessed)),
		},
		saga.Binding{
			Queue:   saga.QueueNotificationPaymentFailed,
			Pattern: saga.PaymentFailed,
			Handler: dedup.Handler(c.dedup, c.logger, eventbus.HandleAs(c.service.HandlePaymentFailed)),
		},
		saga.Binding{
			Queue:   saga.QueueNotificationInventoryFailed,
			Pattern: saga.InventoryReservationFailed,
			Handler: dedup.Handler(c.dedup, c.logger, eventbus.HandleAs(c.service.HandleInventoryReservationFailed)),
		},
	)
}
