package eventbus_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/eventbus"
	"github.com/stretchr/testify/require"
)

func TestRoutingKey(t *testing.T) {
	tests := []struct {
		event any
		want  string
	}{
		{domain.OrderCreatedEvent{}, "order.created"},
		{domain.InventoryReservedEvent{}, "inventory.reserved"},
		{domain.InventoryReservationFailedEvent{}, "inventory.reservation.failed"},
		{domain.PaymentProcessedEvent{}, "payment.processed"},
		{&domain.PaymentFailedEvent{}, "payment.failed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, eventbus.RoutingKeyOf(tt.event))
		})
	}
}

func TestRoutingKey_WithoutEventSuffix(t *testing.T) {
	require.Equal(t, "order.shipped", eventbus.RoutingKey("OrderShipped"))
	require.Equal(t, "refund", eventbus.RoutingKey("RefundEvent"))
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"order.created", "order.created", true},
		{"order.created", "order.cancelled", false},
		{"order.*", "order.created", true},
		{"order.*", "order", false},
		{"*.failed", "payment.failed", true},
		{"*.failed", "inventory.reservation.failed", false},
		{"#.failed", "inventory.reservation.failed", true},
		{"#.failed", "failed", true},
		{"#", "payment.processed", true},
		{"inventory.#", "inventory", true},
		{"inventory.#", "inventory.reservation.failed", true},
		{"inventory.#.failed", "inventory.failed", true},
		{"inventory.#.failed", "inventory.reserved", false},
		{"payment.#", "order.created", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.key, func(t *testing.T) {
			require.Equal(t, tt.want, eventbus.MatchPattern(tt.pattern, tt.key))
		})
	}
}

func TestNewEnvelope(t *testing.T) {
	orderID := uuid.New()

	env, err := eventbus.NewEnvelope(domain.PaymentFailedEvent{
		OrderID: orderID,
		UserID:  "user-1",
		Amount:  1500,
		Reason:  "declined",
	})
	require.NoError(t, err)

	require.NotEmpty(t, env.MessageID)
	require.Equal(t, "PaymentFailed", env.Type)
	require.Equal(t, "payment.failed", env.RoutingKey)
	require.Equal(t, orderID.String(), env.AggregateID)
	require.Equal(t, orderID.String()+":PaymentFailed", env.DedupKey())
	require.False(t, env.OccurredAt.IsZero())

	var decoded domain.PaymentFailedEvent
	require.NoError(t, env.Decode(&decoded))
	require.Equal(t, orderID, decoded.OrderID)
	require.Equal(t, int64(1500), decoded.Amount)
}

func TestEnvelope_DecodeMalformedIsDeadLetter(t *testing.T) {
	env := eventbus.Envelope{Type: "OrderCreated", RoutingKey: "order.created", Payload: []byte(`{"order_id": 42}`)}

	var event domain.OrderCreatedEvent
	err := env.Decode(&event)
	require.ErrorIs(t, err, eventbus.ErrDeadLetter)
	require.ErrorIs(t, err, eventbus.ErrMalformed)
}

func TestDecodeEnvelope(t *testing.T) {
	env, err := eventbus.NewEnvelope(domain.OrderCreatedEvent{OrderID: uuid.New()})
	require.NoError(t, err)

	data, err := env.Encode()
	require.NoError(t, err)

	got, err := eventbus.DecodeEnvelope(data)
	require.NoError(t, err)
	require.Equal(t, env.MessageID, got.MessageID)
	require.Equal(t, env.RoutingKey, got.RoutingKey)
	require.JSONEq(t, string(env.Payload), string(got.Payload))

	_, err = eventbus.DecodeEnvelope([]byte(`not json`))
	require.ErrorIs(t, err, eventbus.ErrMalformed)

	_, err = eventbus.DecodeEnvelope([]byte(`{"payload":{}}`))
	require.ErrorIs(t, err, eventbus.ErrMalformed)
}
