package saga_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/internal/app"
	inventoryDomain "github.com/sakashimaa/order-saga/internal/inventory/domain"
	inventoryService "github.com/sakashimaa/order-saga/internal/inventory/service"
	orderDomain "github.com/sakashimaa/order-saga/internal/order/domain"
	paymentDomain "github.com/sakashimaa/order-saga/internal/payment/domain"
	paymentRepository "github.com/sakashimaa/order-saga/internal/payment/repository"
	paymentService "github.com/sakashimaa/order-saga/internal/payment/service"
	"github.com/sakashimaa/order-saga/pkg/config"
	sagadomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/eventbus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	infra     *app.Infra
	bus       *eventbus.MemoryBus
	orders    *app.OrderStage
	inventory inventoryService.InventoryService
	payments  paymentService.PaymentService
}

func newHarness(t *testing.T, mutate func(cfg *config.Config)) *harness {
	t.Helper()

	cfg := &config.Config{}
	cfg.Storage.Driver = app.StorageMemory
	cfg.Bus.Driver = app.BusMemory
	cfg.Bus.RetryInitialInterval = time.Millisecond
	cfg.Bus.RetryMaxInterval = 5 * time.Millisecond
	cfg.Payment.Strategy = "approve"
	cfg.Payment.DeclineReason = "Payment gateway declined transaction"
	if mutate != nil {
		mutate(cfg)
	}

	logger := zap.NewNop()
	ctx := context.Background()

	infra, err := app.Open(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = infra.Close() })

	orders, err := app.NewOrderStage(cfg, infra, logger)
	require.NoError(t, err)
	inventory, err := app.NewInventoryStage(infra, logger)
	require.NoError(t, err)
	payments, err := app.NewPaymentStage(cfg, infra, logger)
	require.NoError(t, err)
	_, err = app.NewNotificationStage(cfg, infra, logger)
	require.NoError(t, err)

	bus, ok := infra.Bus.(*eventbus.MemoryBus)
	require.True(t, ok)

	return &harness{infra: infra, bus: bus, orders: orders, inventory: inventory, payments: payments}
}

func (h *harness) stock(t *testing.T, total int64) uuid.UUID {
	t.Helper()

	productID := uuid.New()
	_, err := h.inventory.SetStock(context.Background(), productID, total)
	require.NoError(t, err)
	return productID
}

func (h *harness) settle(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := h.orders.Relay.Flush(ctx)
	require.NoError(t, err)
	require.NoError(t, h.bus.WaitIdle(ctx))
}

func (h *harness) placeOrder(t *testing.T, lines ...orderDomain.CreateOrderItem) *orderDomain.Order {
	t.Helper()

	order, err := h.orders.Service.CreateOrder(context.Background(), orderDomain.CreateOrderRequest{
		UserID: "user-1",
		Items:  lines,
	})
	require.NoError(t, err)
	return order
}

func line(productID uuid.UUID, qty int32, price int64) orderDomain.CreateOrderItem {
	return orderDomain.CreateOrderItem{
		ProductID:   productID.String(),
		ProductName: "Item " + productID.String()[:8],
		Quantity:    qty,
		UnitPrice:   price,
	}
}

func (h *harness) status(t *testing.T, orderID uuid.UUID) orderDomain.Status {
	t.Helper()

	order, err := h.orders.Service.GetOrder(context.Background(), orderID, "user-1")
	require.NoError(t, err)
	return order.Status
}

func (h *harness) record(t *testing.T, productID uuid.UUID) *inventoryDomain.Record {
	t.Helper()

	rec, err := h.inventory.GetRecord(context.Background(), productID)
	require.NoError(t, err)
	return rec
}

func TestSaga_HappyPathConfirmsOrder(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	a := h.stock(t, 10)
	b := h.stock(t, 5)

	order := h.placeOrder(t, line(a, 3, 1000), line(b, 1, 2500))
	require.Equal(t, orderDomain.StatusPending, order.Status)

	h.settle(t)

	require.Equal(t, orderDomain.StatusConfirmed, h.status(t, order.ID))

	recA, recB := h.record(t, a), h.record(t, b)
	require.EqualValues(t, 7, recA.Total)
	require.Zero(t, recA.Reserved)
	require.EqualValues(t, 4, recB.Total)
	require.Zero(t, recB.Reserved)

	res, err := h.inventory.GetReservation(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, inventoryDomain.ReservationConfirmed, res.Status)

	payment, err := h.payments.GetPayment(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, paymentDomain.StatusCompleted, payment.Status)
	require.Equal(t, int64(3*1000+2500), payment.Amount)
}

func TestSaga_InsufficientStockCancelsWithoutResidue(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	a := h.stock(t, 10)
	b := h.stock(t, 1)

	order := h.placeOrder(t, line(a, 4, 100), line(b, 2, 100))
	h.settle(t)

	require.Equal(t, orderDomain.StatusCancelled, h.status(t, order.ID))

	for _, id := range []uuid.UUID{a, b} {
		rec := h.record(t, id)
		require.Zero(t, rec.Reserved)
	}
	require.EqualValues(t, 10, h.record(t, a).Total)
	require.EqualValues(t, 1, h.record(t, b).Total)

	res, err := h.inventory.GetReservation(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, inventoryDomain.ReservationRejected, res.Status)
	require.Equal(t, inventoryService.ReasonInsufficientStock, res.Reason)

	_, err = h.payments.GetPayment(ctx, order.ID)
	require.ErrorIs(t, err, paymentRepository.ErrPaymentNotFound)
}

func TestSaga_PaymentFailureReleasesStock(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Payment.Strategy = "decline" })
	ctx := context.Background()

	a := h.stock(t, 3)

	order := h.placeOrder(t, line(a, 3, 500))
	h.settle(t)

	require.Equal(t, orderDomain.StatusCancelled, h.status(t, order.ID))

	rec := h.record(t, a)
	require.EqualValues(t, 3, rec.Total)
	require.Zero(t, rec.Reserved)

	res, err := h.inventory.GetReservation(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, inventoryDomain.ReservationReleased, res.Status)

	payment, err := h.payments.GetPayment(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, paymentDomain.StatusFailed, payment.Status)
	require.Equal(t, "Payment gateway declined transaction", payment.FailureReason)

	// Released stock can be sold again.
	again := h.placeOrder(t, line(a, 3, 500))
	h.settle(t)
	require.Equal(t, orderDomain.StatusCancelled, h.status(t, again.ID))
	require.EqualValues(t, 3, h.record(t, a).Available())
}

func TestSaga_DuplicateEventsAreIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	a := h.stock(t, 10)
	order := h.placeOrder(t, line(a, 2, 700))
	h.settle(t)
	require.Equal(t, orderDomain.StatusConfirmed, h.status(t, order.ID))

	payment, err := h.payments.GetPayment(ctx, order.ID)
	require.NoError(t, err)

	stored, err := h.orders.Service.GetOrder(ctx, order.ID, "user-1")
	require.NoError(t, err)

	require.NoError(t, h.bus.Publish(ctx, sagadomain.PaymentProcessedEvent{
		OrderID:       order.ID,
		UserID:        "user-1",
		Amount:        payment.Amount,
		TransactionID: payment.TransactionID,
		ProcessedAt:   *payment.ProcessedAt,
	}))
	require.NoError(t, h.bus.Publish(ctx, sagadomain.OrderCreatedEvent{
		OrderID:     order.ID,
		UserID:      "user-1",
		CreatedAt:   stored.CreatedAt,
		TotalAmount: stored.TotalAmount,
		Items:       stored.Items,
	}))
	require.NoError(t, h.bus.Publish(ctx, sagadomain.InventoryReservedEvent{
		OrderID: order.ID,
		UserID:  "user-1",
		Items:   stored.Items,
	}))
	h.settle(t)

	require.Equal(t, orderDomain.StatusConfirmed, h.status(t, order.ID))

	rec := h.record(t, a)
	require.EqualValues(t, 8, rec.Total)
	require.Zero(t, rec.Reserved)

	again, err := h.payments.GetPayment(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, payment.TransactionID, again.TransactionID)
}

func TestSaga_MarkProcessingOnReserve(t *testing.T) {
	h := newHarness(t, func(cfg *config.Config) { cfg.Saga.MarkProcessingOnReserve = true })

	a := h.stock(t, 1)
	order := h.placeOrder(t, line(a, 1, 100))
	h.settle(t)

	require.Equal(t, orderDomain.StatusConfirmed, h.status(t, order.ID))
}

func TestSaga_UnknownOrderIsDeadLettered(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.bus.Publish(context.Background(), sagadomain.PaymentProcessedEvent{OrderID: uuid.New(), UserID: "user-1"}))
	h.settle(t)

	sink, ok := h.infra.DeadLetters.(*eventbus.MemoryDeadLetters)
	require.True(t, ok)

	queues := make(map[string]bool)
	for _, e := range sink.Entries() {
		queues[e.Queue] = true
	}
	require.True(t, queues["order_payment_processed_queue"])
	require.True(t, queues["inventory_payment_processed_queue"])
	require.False(t, queues["notification_payment_processed_queue"])
}

func TestSaga_ConcurrentOrdersNeverOversell(t *testing.T) {
	h := newHarness(t, nil)

	a := h.stock(t, 5)

	orders := make([]*orderDomain.Order, 0, 12)
	for range 12 {
		orders = append(orders, h.placeOrder(t, line(a, 1, 100)))
	}
	h.settle(t)

	confirmed := 0
	for _, o := range orders {
		switch h.status(t, o.ID) {
		case orderDomain.StatusConfirmed:
			confirmed++
		case orderDomain.StatusCancelled:
		default:
			t.Fatalf("order %s not settled", o.ID)
		}
	}
	require.Equal(t, 5, confirmed)

	rec := h.record(t, a)
	require.Zero(t, rec.Total)
	require.Zero(t, rec.Reserved)
}
