package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/internal/notification/domain"
	"github.com/sakashimaa/order-saga/internal/notification/service"
	"github.com/sakashimaa/order-saga/pkg/dedup"
	sagadomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/eventbus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSender struct {
	mu   sync.Mutex
	err  error
	sent []domain.Notification
}

func (s *recordingSender) Send(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, n)
	return s.err
}

func (s *recordingSender) Sent() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Notification(nil), s.sent...)
}

func setup(t *testing.T, snd *recordingSender) *eventbus.MemoryBus {
	t.Helper()

	bus := eventbus.NewMemoryBus(zap.NewNop(), eventbus.Options{})
	t.Cleanup(func() { _ = bus.Close() })

	c := NewConsumer(service.NewNotificationService(snd, zap.NewNop()), dedup.NewMemoryStore(0), zap.NewNop())
	require.NoError(t, c.Register(bus))
	return bus
}

func waitIdle(t *testing.T, bus *eventbus.MemoryBus) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, bus.WaitIdle(ctx))
}

func TestConsumer_Outcomes(t *testing.T) {
	snd := &recordingSender{}
	bus := setup(t, snd)
	ctx := context.Background()

	confirmed, declined, cancelled := uuid.New(), uuid.New(), uuid.New()

	require.NoError(t, bus.Publish(ctx, sagadomain.PaymentProcessedEvent{OrderID: confirmed, UserID: "u1", Amount: 100, TransactionID: "TXN-1"}))
	require.NoError(t, bus.Publish(ctx, sagadomain.PaymentFailedEvent{OrderID: declined, UserID: "u2", Reason: "declined"}))
	require.NoError(t, bus.Publish(ctx, sagadomain.InventoryReservationFailedEvent{OrderID: cancelled, UserID: "u3", Reason: "Insufficient stock available"}))
	// Not a notification trigger.
	require.NoError(t, bus.Publish(ctx, sagadomain.InventoryReservedEvent{OrderID: uuid.New()}))
	waitIdle(t, bus)

	byOrder := make(map[uuid.UUID]domain.Notification)
	for _, n := range snd.Sent() {
		byOrder[n.OrderID] = n
	}
	require.Len(t, byOrder, 3)
	require.Equal(t, domain.OutcomeOrderConfirmed, byOrder[confirmed].Outcome)
	require.Equal(t, "TXN-1", byOrder[confirmed].TransactionID)
	require.Equal(t, domain.OutcomePaymentFailed, byOrder[declined].Outcome)
	require.Equal(t, "declined", byOrder[declined].Reason)
	require.Equal(t, domain.OutcomeOrderCancelled, byOrder[cancelled].Outcome)
}

func TestConsumer_Deduplicates(t *testing.T) {
	snd := &recordingSender{}
	bus := setup(t, snd)
	ctx := context.Background()

	event := sagadomain.PaymentProcessedEvent{OrderID: uuid.New(), UserID: "u1"}
	require.NoError(t, bus.Publish(ctx, event))
	waitIdle(t, bus)
	require.NoError(t, bus.Publish(ctx, event))
	waitIdle(t, bus)

	require.Len(t, snd.Sent(), 1)
}

func TestConsumer_SendFailureIsAcknowledged(t *testing.T) {
	snd := &recordingSender{err: errors.New("smtp down")}
	bus := setup(t, snd)

	require.NoError(t, bus.Publish(context.Background(), sagadomain.PaymentFailedEvent{OrderID: uuid.New(), UserID: "u1"}))
	waitIdle(t, bus)

	require.Len(t, snd.Sent(), 1)
	require.Zero(t, bus.Depth("notification_payment_failed_queue"))
}
