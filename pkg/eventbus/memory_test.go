package eventbus_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/eventbus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBus(t *testing.T, opts eventbus.Options) *eventbus.MemoryBus {
	t.Helper()

	opts.RetryInitialInterval = time.Millisecond
	opts.RetryMaxInterval = 5 * time.Millisecond

	bus := eventbus.NewMemoryBus(zap.NewNop(), opts)
	t.Cleanup(func() { _ = bus.Close() })
	return bus
}

func waitIdle(t *testing.T, bus *eventbus.MemoryBus) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, bus.WaitIdle(ctx))
}

func TestMemoryBus_RoutesByPattern(t *testing.T) {
	bus := newTestBus(t, eventbus.Options{})

	var mu sync.Mutex
	got := map[string][]string{}
	record := func(queue string) eventbus.Handler {
		return func(_ context.Context, d eventbus.Delivery) error {
			mu.Lock()
			defer mu.Unlock()
			got[queue] = append(got[queue], d.RoutingKey)
			return nil
		}
	}

	require.NoError(t, bus.Subscribe("inventory", "order.created", record("inventory")))
	require.NoError(t, bus.Subscribe("failures", "#.failed", record("failures")))
	require.NoError(t, bus.Subscribe("payments", "payment.*", record("payments")))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, domain.OrderCreatedEvent{OrderID: uuid.New()}))
	require.NoError(t, bus.Publish(ctx, domain.InventoryReservationFailedEvent{OrderID: uuid.New()}))
	require.NoError(t, bus.Publish(ctx, domain.PaymentFailedEvent{OrderID: uuid.New()}))

	waitIdle(t, bus)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"order.created"}, got["inventory"])
	require.ElementsMatch(t, []string{"inventory.reservation.failed", "payment.failed"}, got["failures"])
	require.Equal(t, []string{"payment.failed"}, got["payments"])
}

func TestMemoryBus_FIFOPerQueue(t *testing.T) {
	bus := newTestBus(t, eventbus.Options{})

	var mu sync.Mutex
	var ids []uuid.UUID
	require.NoError(t, bus.Subscribe("orders", "order.created", func(_ context.Context, d eventbus.Delivery) error {
		var e domain.OrderCreatedEvent
		if err := d.Decode(&e); err != nil {
			return err
		}
		mu.Lock()
		ids = append(ids, e.OrderID)
		mu.Unlock()
		return nil
	}))

	var want []uuid.UUID
	for range 20 {
		id := uuid.New()
		want = append(want, id)
		require.NoError(t, bus.Publish(context.Background(), domain.OrderCreatedEvent{OrderID: id}))
	}

	waitIdle(t, bus)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, want, ids)
}

func TestMemoryBus_RequeuesUntilHandlerSucceeds(t *testing.T) {
	bus := newTestBus(t, eventbus.Options{})

	var attempts []int
	var mu sync.Mutex
	require.NoError(t, bus.Subscribe("payments", "inventory.reserved", func(_ context.Context, d eventbus.Delivery) error {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, d.Attempt)
		if len(attempts) < 3 {
			return errors.New("gateway unavailable")
		}
		return nil
	}))

	require.NoError(t, bus.Publish(context.Background(), domain.InventoryReservedEvent{OrderID: uuid.New()}))
	waitIdle(t, bus)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3}, attempts)
	require.Zero(t, bus.Depth("payments"))
}

func TestMemoryBus_RequeuedMessageStaysAtHead(t *testing.T) {
	bus := newTestBus(t, eventbus.Options{})

	first, second := uuid.New(), uuid.New()
	var failedOnce atomic.Bool
	var mu sync.Mutex
	var order []uuid.UUID

	require.NoError(t, bus.Subscribe("orders", "order.created", func(_ context.Context, d eventbus.Delivery) error {
		var e domain.OrderCreatedEvent
		if err := d.Decode(&e); err != nil {
			return err
		}
		if e.OrderID == first && failedOnce.CompareAndSwap(false, true) {
			return errors.New("transient")
		}
		mu.Lock()
		order = append(order, e.OrderID)
		mu.Unlock()
		return nil
	}))

	require.NoError(t, bus.Publish(context.Background(), domain.OrderCreatedEvent{OrderID: first}))
	require.NoError(t, bus.Publish(context.Background(), domain.OrderCreatedEvent{OrderID: second}))
	waitIdle(t, bus)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []uuid.UUID{first, second}, order)
}

func TestMemoryBus_DeadLetterErrorAcks(t *testing.T) {
	sink := eventbus.NewMemoryDeadLetters()
	bus := newTestBus(t, eventbus.Options{DeadLetters: sink})

	var calls atomic.Int32
	require.NoError(t, bus.Subscribe("orders", "payment.processed", func(context.Context, eventbus.Delivery) error {
		calls.Add(1)
		return eventbus.DeadLetter(errors.New("order not found"))
	}))

	require.NoError(t, bus.Publish(context.Background(), domain.PaymentProcessedEvent{OrderID: uuid.New()}))
	waitIdle(t, bus)

	require.Equal(t, int32(1), calls.Load())
	entries := sink.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "orders", entries[0].Queue)
	require.Equal(t, "payment.processed", entries[0].Envelope.RoutingKey)
	require.Contains(t, entries[0].Error, "order not found")
}

func TestMemoryBus_MaxRedeliveries(t *testing.T) {
	sink := eventbus.NewMemoryDeadLetters()
	bus := newTestBus(t, eventbus.Options{DeadLetters: sink, MaxRedeliveries: 2})

	var calls atomic.Int32
	require.NoError(t, bus.Subscribe("payments", "inventory.reserved", func(context.Context, eventbus.Delivery) error {
		calls.Add(1)
		return errors.New("still broken")
	}))

	require.NoError(t, bus.Publish(context.Background(), domain.InventoryReservedEvent{OrderID: uuid.New()}))
	waitIdle(t, bus)

	require.Equal(t, int32(3), calls.Load())
	entries := sink.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, 3, entries[0].Attempts)
}

func TestMemoryBus_CloseKeepsUnackedMessages(t *testing.T) {
	bus := eventbus.NewMemoryBus(zap.NewNop(), eventbus.Options{
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     time.Millisecond,
	})

	started := make(chan struct{})
	var once sync.Once
	require.NoError(t, bus.Subscribe("payments", "inventory.reserved", func(ctx context.Context, _ eventbus.Delivery) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}))

	require.NoError(t, bus.Publish(context.Background(), domain.InventoryReservedEvent{OrderID: uuid.New()}))
	<-started

	require.NoError(t, bus.Close())
	require.Equal(t, 1, bus.Depth("payments"))
	require.ErrorIs(t, bus.Publish(context.Background(), domain.OrderCreatedEvent{}), eventbus.ErrClosed)
}

func TestMemoryBus_CompetingConsumersShareQueue(t *testing.T) {
	bus := newTestBus(t, eventbus.Options{})

	var total atomic.Int32
	handler := func(context.Context, eventbus.Delivery) error {
		total.Add(1)
		return nil
	}
	require.NoError(t, bus.Subscribe("notifications", "payment.*", handler))
	require.NoError(t, bus.Subscribe("notifications", "payment.*", handler))

	for range 10 {
		require.NoError(t, bus.Publish(context.Background(), domain.PaymentProcessedEvent{OrderID: uuid.New()}))
	}
	waitIdle(t, bus)

	require.Equal(t, int32(10), total.Load())
}

func TestMemoryBus_SubscribeValidation(t *testing.T) {
	bus := newTestBus(t, eventbus.Options{})

	err := bus.Subscribe("", "order.created", func(context.Context, eventbus.Delivery) error { return nil })
	require.ErrorIs(t, err, eventbus.ErrSubscription)

	err = bus.Subscribe("q", "order.created", nil)
	require.ErrorIs(t, err, eventbus.ErrSubscription)
}
