// Package saga holds the choreography of the order saga: which queue of which
// stage listens to which event.
package saga

import (
	"fmt"

	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/eventbus"
)

var (
	OrderCreated               = eventbus.RoutingKeyOf(domain.OrderCreatedEvent{})
	InventoryReserved          = eventbus.RoutingKeyOf(domain.InventoryReservedEvent{})
	InventoryReservationFailed = eventbus.RoutingKeyOf(domain.InventoryReservationFailedEvent{})
	PaymentProcessed           = eventbus.RoutingKeyOf(domain.PaymentProcessedEvent{})
	PaymentFailed              = eventbus.RoutingKeyOf(domain.PaymentFailedEvent{})
)

const (
	QueueInventoryOrderCreated     = "inventory_order_created_queue"
	QueueInventoryPaymentProcessed = "inventory_payment_processed_queue"
	QueueInventoryPaymentFailed    = "inventory_payment_failed_queue"

	QueuePaymentInventoryReserved = "payment_inventory_reserved_queue"

	QueueOrderInventoryReserved = "order_inventory_reserved_queue"
	QueueOrderInventoryFailed   = "order_inventory_failed_queue"
	QueueOrderPaymentProcessed  = "order_payment_processed_queue"
	QueueOrderPaymentFailed     = "order_payment_failed_queue"

	QueueNotificationPaymentProcessed = "notification_payment_processed_queue"
	QueueNotificationPaymentFailed    = "notification_payment_failed_queue"
	QueueNotificationInventoryFailed  = "notification_inventory_failed_queue"
)

type Binding struct {
	Queue   string
	Pattern string
	Handler eventbus.Handler
}

// Bind subscribes every binding, stopping at the first failure.
func Bind(bus eventbus.Bus, bindings ...Binding) error {
	for _, b := range bindings {
		if err := bus.Subscribe(b.Queue, b.Pattern, b.Handler); err != nil {
			return fmt.Errorf("subscribe %s to %s: %w", b.Queue, b.Pattern, err)
		}
	}
	return nil
}
