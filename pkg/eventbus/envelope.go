package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the self-describing wire form of a saga event.
type Envelope struct {
	MessageID   string          `json:"message_id"`
	Type        string          `json:"type"`
	RoutingKey  string          `json:"routing_key"`
	AggregateID string          `json:"aggregate_id,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

type aggregate interface {
	AggregateID() string
}

// NewEnvelope wraps event with a fresh message id. The aggregate id is taken
// from event when it exposes AggregateID().
func NewEnvelope(event any) (Envelope, error) {
	typeName := TypeName(event)
	if typeName == "" {
		return Envelope{}, fmt.Errorf("%w: anonymous or nil event %T", ErrInvalidEvent, event)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", typeName, err)
	}

	env := Envelope{
		MessageID:  uuid.NewString(),
		Type:       EventType(typeName),
		RoutingKey: RoutingKey(typeName),
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
	if a, ok := event.(aggregate); ok {
		env.AggregateID = a.AggregateID()
	}

	return env, nil
}

// DedupKey identifies the logical operation the event triggers, stable across
// redeliveries and re-publications of the same outcome.
func (e Envelope) DedupKey() string {
	if e.AggregateID == "" {
		return e.MessageID
	}
	return e.AggregateID + ":" + e.Type
}

// Decode unmarshals the payload into v. A payload that does not fit v is
// reported as a dead-letter error: redelivering it cannot succeed.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return DeadLetter(fmt.Errorf("%w: %s payload: %w", ErrMalformed, e.Type, err))
	}
	return nil
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if env.Type == "" || env.RoutingKey == "" {
		return Envelope{}, fmt.Errorf("%w: missing type or routing key", ErrMalformed)
	}
	return env, nil
}

var (
	ErrClosed       = errors.New("eventbus: closed")
	ErrInvalidEvent = errors.New("eventbus: invalid event")
	ErrMalformed    = errors.New("eventbus: malformed message")
	ErrDeadLetter   = errors.New("eventbus: dead letter")
	ErrSubscription = errors.New("eventbus: invalid subscription")

	errRequeue = errors.New("eventbus: message requeued")
)

// DeadLetter marks err as permanent. The bus acknowledges the message and
// parks it in the dead-letter sink instead of redelivering it.
func DeadLetter(err error) error {
	if err == nil || errors.Is(err, ErrDeadLetter) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDeadLetter, err)
}
