// Package eventbus carries saga events between stages over a topic exchange
// with at-least-once delivery. A message is acknowledged only after its
// handler returns nil; any other outcome redelivers it, unless the handler
// marks the failure permanent with DeadLetter.
package eventbus

import (
	"context"
	"errors"
	"time"

	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.uber.org/zap"
)

// Delivery is one delivery of an envelope to a queue.
type Delivery struct {
	Envelope
	Queue string
	// Attempt is 1 on first delivery and increments on every redelivery.
	Attempt int
}

func (d Delivery) Redelivered() bool {
	return d.Attempt > 1
}

type Handler func(ctx context.Context, d Delivery) error

type Publisher interface {
	// Publish wraps event in a new Envelope and sends it to the exchange.
	Publish(ctx context.Context, event any) error
	// PublishEnvelope sends a prepared envelope, keeping its message id.
	PublishEnvelope(ctx context.Context, env Envelope) error
}

type Bus interface {
	Publisher
	// Subscribe binds queue to pattern and starts delivering to handler.
	// Several subscriptions on one queue compete for its messages.
	Subscribe(queue, pattern string, handler Handler) error
	Close() error
}

type Options struct {
	// MaxRedeliveries bounds redelivery of a failing message. Once a message
	// has been redelivered this many times and fails again it is dead-lettered
	// and acknowledged. Zero retries forever.
	MaxRedeliveries int
	DeadLetters     DeadLetterSink
	// RetryInitialInterval is the delay before the first redelivery.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

func (o Options) withDefaults() Options {
	if o.RetryInitialInterval <= 0 {
		o.RetryInitialInterval = 200 * time.Millisecond
	}
	if o.RetryMaxInterval <= 0 {
		o.RetryMaxInterval = 10 * time.Second
	}
	return o
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRequeue
)

type dispatcher struct {
	opts   Options
	logger *zap.Logger
}

func (d *dispatcher) dispatch(ctx context.Context, h Handler, del Delivery) outcome {
	start := time.Now()
	err := h(ctx, del)
	metrics.ObserveSince(del.Queue, start)

	if err == nil {
		metrics.MessagesHandled.WithLabelValues(del.Queue, del.RoutingKey, "ack").Inc()
		return outcomeAck
	}

	exhausted := d.opts.MaxRedeliveries > 0 && del.Attempt > d.opts.MaxRedeliveries
	if errors.Is(err, ErrDeadLetter) || exhausted {
		env := del.Envelope
		if dlErr := d.deadLetter(ctx, DeadLetterEntry{
			Queue:    del.Queue,
			Error:    err.Error(),
			Attempts: del.Attempt,
			Envelope: &env,
		}); dlErr != nil {
			return outcomeRequeue
		}
		return outcomeAck
	}

	metrics.MessagesHandled.WithLabelValues(del.Queue, del.RoutingKey, "requeue").Inc()
	mylogger.Warn(
		ctx,
		d.logger,
		"Handler failed, message requeued",
		zap.String("queue", del.Queue),
		zap.String("routing_key", del.RoutingKey),
		zap.String("message_id", del.MessageID),
		zap.Int("attempt", del.Attempt),
		zap.Error(err),
	)
	return outcomeRequeue
}

// deadLetter parks entry and reports whether it is safe to ack. Without a
// sink the entry is only logged.
func (d *dispatcher) deadLetter(ctx context.Context, entry DeadLetterEntry) error {
	ctx = context.WithoutCancel(ctx)
	entry.At = time.Now().UTC()

	routingKey := ""
	if entry.Envelope != nil {
		routingKey = entry.Envelope.RoutingKey
	}

	if d.opts.DeadLetters != nil {
		if err := d.opts.DeadLetters.Put(ctx, entry); err != nil {
			mylogger.Error(
				ctx,
				d.logger,
				"Failed to store dead letter, message requeued",
				zap.String("queue", entry.Queue),
				zap.Error(err),
			)
			return err
		}
	}

	metrics.DeadLetters.WithLabelValues(entry.Queue).Inc()
	metrics.MessagesHandled.WithLabelValues(entry.Queue, routingKey, "dead_letter").Inc()
	mylogger.Error(
		ctx,
		d.logger,
		"Message dead-lettered",
		zap.String("queue", entry.Queue),
		zap.String("routing_key", routingKey),
		zap.Int("attempts", entry.Attempts),
		zap.String("error", entry.Error),
	)
	return nil
}
