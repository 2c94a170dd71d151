package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/internal/order/domain"
	"github.com/sakashimaa/order-saga/internal/order/repository"
	"github.com/sakashimaa/order-saga/internal/order/service"
	sagadomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/eventbus"
	outboxDomain "github.com/sakashimaa/order-saga/pkg/outbox/domain"
	outboxRepository "github.com/sakashimaa/order-saga/pkg/outbox/repository"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	svc    service.OrderService
	repo   repository.OrderRepository
	outbox *outboxRepository.MemoryOutbox
}

func newFixture(t *testing.T, opts service.Options) *fixture {
	t.Helper()

	outbox := outboxRepository.NewMemoryOutbox()
	repo := repository.NewMemoryRepository(outbox)

	return &fixture{
		svc:    service.NewOrderService(repo, zap.NewNop(), opts),
		repo:   repo,
		outbox: outbox,
	}
}

func validRequest(userID string) domain.CreateOrderRequest {
	return domain.CreateOrderRequest{
		UserID: userID,
		Items: []domain.CreateOrderItem{
			{ProductID: uuid.NewString(), ProductName: "Keyboard", Quantity: 2, UnitPrice: 4500},
			{ProductID: uuid.NewString(), ProductName: "Mouse", Quantity: 1, UnitPrice: 1999},
		},
	}
}

func (f *fixture) drainOutbox(t *testing.T) []eventbus.Envelope {
	t.Helper()

	var envs []eventbus.Envelope
	_, err := f.outbox.ProcessBatch(context.Background(), 100, func(_ context.Context, event *outboxDomain.OutboxEvent) error {
		env, err := event.Envelope()
		if err != nil {
			return err
		}
		envs = append(envs, env)
		return nil
	})
	require.NoError(t, err)
	return envs
}

func (f *fixture) createOrder(t *testing.T, userID string) *domain.Order {
	t.Helper()

	order, err := f.svc.CreateOrder(context.Background(), validRequest(userID))
	require.NoError(t, err)
	return order
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t, service.Options{})
	ctx := context.Background()

	address := "221B Baker Street"
	req := validRequest("user-1")
	req.ShippingAddress = &address

	order, err := f.svc.CreateOrder(ctx, req)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, order.Status)
	require.Equal(t, int64(2*4500+1999), order.TotalAmount)
	require.Len(t, order.Items, 2)
	require.Equal(t, &address, order.ShippingAddress)

	stored, err := f.repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, order.TotalAmount, stored.TotalAmount)
	require.Equal(t, order.Items, stored.Items)

	require.Equal(t, 1, f.outbox.Pending())
	envs := f.drainOutbox(t)
	require.Len(t, envs, 1)
	require.Equal(t, "order.created", envs[0].RoutingKey)
	require.Equal(t, order.ID.String(), envs[0].AggregateID)

	var event sagadomain.OrderCreatedEvent
	require.NoError(t, envs[0].Decode(&event))
	require.Equal(t, order.ID, event.OrderID)
	require.Equal(t, "user-1", event.UserID)
	require.Equal(t, order.TotalAmount, event.TotalAmount)
	require.Equal(t, order.Items, event.Items)
	require.Equal(t, 0, f.outbox.Pending())
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *domain.CreateOrderRequest)
	}{
		{"no items", func(r *domain.CreateOrderRequest) { r.Items = nil }},
		{"zero quantity", func(r *domain.CreateOrderRequest) { r.Items[0].Quantity = 0 }},
		{"negative price", func(r *domain.CreateOrderRequest) { r.Items[1].UnitPrice = -1 }},
		{"bad product id", func(r *domain.CreateOrderRequest) { r.Items[0].ProductID = "sku-1" }},
		{"missing name", func(r *domain.CreateOrderRequest) { r.Items[0].ProductName = "" }},
		{"missing user", func(r *domain.CreateOrderRequest) { r.UserID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, service.Options{})

			req := validRequest("user-1")
			tt.mutate(&req)

			_, err := f.svc.CreateOrder(context.Background(), req)
			require.ErrorIs(t, err, service.ErrInvalidOrder)
			require.Equal(t, 0, f.outbox.Pending())
		})
	}
}

func TestCreateOrder_FreeItemsAllowed(t *testing.T) {
	f := newFixture(t, service.Options{})

	req := validRequest("user-1")
	req.Items[0].UnitPrice = 0
	req.Items[1].UnitPrice = 0

	order, err := f.svc.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	require.Zero(t, order.TotalAmount)
}

func TestGetOrder_Ownership(t *testing.T) {
	f := newFixture(t, service.Options{})
	ctx := context.Background()

	order := f.createOrder(t, "user-1")

	got, err := f.svc.GetOrder(ctx, order.ID, "user-1")
	require.NoError(t, err)
	require.Equal(t, order.ID, got.ID)

	_, err = f.svc.GetOrder(ctx, order.ID, "user-2")
	require.ErrorIs(t, err, service.ErrForbidden)

	_, err = f.svc.GetOrder(ctx, uuid.New(), "user-1")
	require.ErrorIs(t, err, repository.ErrOrderNotFound)
}

func TestListUserOrders(t *testing.T) {
	f := newFixture(t, service.Options{})
	ctx := context.Background()

	first := f.createOrder(t, "user-1")
	time.Sleep(time.Millisecond)
	second := f.createOrder(t, "user-1")
	f.createOrder(t, "user-2")

	orders, err := f.svc.ListUserOrders(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, orders, 2)
	require.Equal(t, second.ID, orders[0].ID)
	require.Equal(t, first.ID, orders[1].ID)

	orders, err = f.svc.ListUserOrders(ctx, "user-3")
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, service.Options{})
	ctx := context.Background()
	order := f.createOrder(t, "user-1")

	updated, err := f.svc.UpdateStatus(ctx, order.ID, domain.StatusConfirmed)
	require.NoError(t, err)
	require.Equal(t, domain.StatusConfirmed, updated.Status)

	updated, err = f.svc.UpdateStatus(ctx, order.ID, domain.StatusConfirmed)
	require.NoError(t, err)
	require.Equal(t, domain.StatusConfirmed, updated.Status)

	_, err = f.svc.UpdateStatus(ctx, order.ID, domain.StatusShipped)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, order.ID, domain.StatusDelivered)
	require.NoError(t, err)

	_, err = f.svc.UpdateStatus(ctx, order.ID, domain.StatusCancelled)
	require.ErrorIs(t, err, domain.ErrIllegalTransition)

	stored, err := f.repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusDelivered, stored.Status)
}

// conflictRepo reports a concurrent change on the first n updates.
type conflictRepo struct {
	repository.OrderRepository
	conflicts int
	calls     int
}

func (r *conflictRepo) UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to domain.Status) error {
	r.calls++
	if r.calls <= r.conflicts {
		return repository.ErrStatusConflict
	}
	return r.OrderRepository.UpdateStatus(ctx, orderID, from, to)
}

func TestUpdateStatus_RetriesOnConflict(t *testing.T) {
	f := newFixture(t, service.Options{})
	ctx := context.Background()
	order := f.createOrder(t, "user-1")

	repo := &conflictRepo{OrderRepository: f.repo, conflicts: 2}
	svc := service.NewOrderService(repo, zap.NewNop(), service.Options{})

	updated, err := svc.UpdateStatus(ctx, order.ID, domain.StatusConfirmed)
	require.NoError(t, err)
	require.Equal(t, domain.StatusConfirmed, updated.Status)
	require.Equal(t, 3, repo.calls)

	repo = &conflictRepo{OrderRepository: f.repo, conflicts: 100}
	svc = service.NewOrderService(repo, zap.NewNop(), service.Options{})

	_, err = svc.UpdateStatus(ctx, order.ID, domain.StatusShipped)
	require.ErrorIs(t, err, repository.ErrStatusConflict)
}

func TestHandlePaymentProcessed(t *testing.T) {
	f := newFixture(t, service.Options{})
	ctx := context.Background()
	order := f.createOrder(t, "user-1")

	event := sagadomain.PaymentProcessedEvent{OrderID: order.ID, UserID: "user-1", Amount: order.TotalAmount}
	require.NoError(t, f.svc.HandlePaymentProcessed(ctx, event))
	require.NoError(t, f.svc.HandlePaymentProcessed(ctx, event))

	stored, err := f.repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusConfirmed, stored.Status)
}

func TestHandleFailures_Cancel(t *testing.T) {
	f := newFixture(t, service.Options{})
	ctx := context.Background()

	byInventory := f.createOrder(t, "user-1")
	require.NoError(t, f.svc.HandleInventoryReservationFailed(ctx, sagadomain.InventoryReservationFailedEvent{
		OrderID: byInventory.ID,
		Reason:  "Insufficient stock available",
	}))

	byPayment := f.createOrder(t, "user-1")
	require.NoError(t, f.svc.HandlePaymentFailed(ctx, sagadomain.PaymentFailedEvent{
		OrderID: byPayment.ID,
		Reason:  "Payment gateway declined transaction",
	}))

	for _, id := range []uuid.UUID{byInventory.ID, byPayment.ID} {
		stored, err := f.repo.GetOrder(ctx, id)
		require.NoError(t, err)
		require.Equal(t, domain.StatusCancelled, stored.Status)
	}
}

func TestHandle_IllegalTransitionIsAcknowledged(t *testing.T) {
	f := newFixture(t, service.Options{})
	ctx := context.Background()
	order := f.createOrder(t, "user-1")

	require.NoError(t, f.svc.HandlePaymentFailed(ctx, sagadomain.PaymentFailedEvent{OrderID: order.ID}))
	require.NoError(t, f.svc.HandlePaymentProcessed(ctx, sagadomain.PaymentProcessedEvent{OrderID: order.ID}))

	stored, err := f.repo.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, stored.Status)
}

func TestHandle_UnknownOrderIsDeadLettered(t *testing.T) {
	f := newFixture(t, service.Options{})

	err := f.svc.HandlePaymentProcessed(context.Background(), sagadomain.PaymentProcessedEvent{OrderID: uuid.New()})
	require.ErrorIs(t, err, eventbus.ErrDeadLetter)
	require.ErrorIs(t, err, repository.ErrOrderNotFound)
}

type failingRepo struct {
	repository.OrderRepository
	err error
}

func (r *failingRepo) UpdateStatus(context.Context, uuid.UUID, domain.Status, domain.Status) error {
	return r.err
}

func TestHandle_TransientErrorIsReturned(t *testing.T) {
	f := newFixture(t, service.Options{})
	order := f.createOrder(t, "user-1")

	boom := errors.New("connection reset")
	svc := service.NewOrderService(&failingRepo{OrderRepository: f.repo, err: boom}, zap.NewNop(), service.Options{})

	err := svc.HandlePaymentProcessed(context.Background(), sagadomain.PaymentProcessedEvent{OrderID: order.ID})
	require.ErrorIs(t, err, boom)
	require.NotErrorIs(t, err, eventbus.ErrDeadLetter)
}

func TestHandleInventoryReserved(t *testing.T) {
	ctx := context.Background()

	t.Run("stays pending by default", func(t *testing.T) {
		f := newFixture(t, service.Options{})
		order := f.createOrder(t, "user-1")

		require.NoError(t, f.svc.HandleInventoryReserved(ctx, sagadomain.InventoryReservedEvent{OrderID: order.ID}))

		stored, err := f.repo.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusPending, stored.Status)
	})

	t.Run("marks processing when enabled", func(t *testing.T) {
		f := newFixture(t, service.Options{MarkProcessingOnReserve: true})
		order := f.createOrder(t, "user-1")

		require.NoError(t, f.svc.HandleInventoryReserved(ctx, sagadomain.InventoryReservedEvent{OrderID: order.ID}))
		require.NoError(t, f.svc.HandlePaymentProcessed(ctx, sagadomain.PaymentProcessedEvent{OrderID: order.ID}))
		// A late reservation event must not move a confirmed order back.
		require.NoError(t, f.svc.HandleInventoryReserved(ctx, sagadomain.InventoryReservedEvent{OrderID: order.ID}))

		stored, err := f.repo.GetOrder(ctx, order.ID)
		require.NoError(t, err)
		require.Equal(t, domain.StatusConfirmed, stored.Status)
	})
}
