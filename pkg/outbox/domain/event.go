package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sakashimaa/order-saga/pkg/eventbus"
)

// MaxAttempts is the number of failed relays after which an event is no
// longer picked up.
const MaxAttempts = 10

type OutboxEvent struct {
	ID            int64           `db:"id"`
	MessageID     string          `db:"message_id"`
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	EventType     string          `db:"event_type"`
	RoutingKey    string          `db:"routing_key"`
	Payload       json.RawMessage `db:"payload"`
	CreatedAt     time.Time       `db:"created_at"`
	PublishedAt   *time.Time      `db:"published_at"`
	Attempts      int64           `db:"attempts"`
	LastError     *string         `db:"last_error"`
}

// NewOutboxEvent stores the whole envelope as payload so the relay publishes
// it with the message id it was created with.
func NewOutboxEvent(aggregateType string, env eventbus.Envelope) (*OutboxEvent, error) {
	payload, err := env.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode outbox envelope: %w", err)
	}

	return &OutboxEvent{
		MessageID:     env.MessageID,
		AggregateType: aggregateType,
		AggregateID:   env.AggregateID,
		EventType:     env.Type,
		RoutingKey:    env.RoutingKey,
		Payload:       payload,
		CreatedAt:     env.OccurredAt,
	}, nil
}

func (e *OutboxEvent) Envelope() (eventbus.Envelope, error) {
	return eventbus.DecodeEnvelope(e.Payload)
}
