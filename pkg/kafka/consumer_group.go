package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v4"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// HandlerFunc processes one record. attempt is 1 on the first delivery within
// the current session and grows while the handler keeps failing.
type HandlerFunc func(ctx context.Context, msg *sarama.ConsumerMessage, attempt int) error

type GroupConfig struct {
	Brokers              []string
	GroupID              string
	Topics               []string
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

type ConsumerGroup struct {
	cfg         GroupConfig
	group       sarama.ConsumerGroup
	handlerFunc HandlerFunc
	logger      *zap.Logger
}

func NewConsumerGroup(cfg GroupConfig, handlerFunc HandlerFunc, logger *zap.Logger) (*ConsumerGroup, error) {
	config := sarama.NewConfig()
	config.Version = sarama.V3_0_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 200 * time.Millisecond
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = 10 * time.Second
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("error creating consumer group %s: %w", cfg.GroupID, err)
	}

	return &ConsumerGroup{
		cfg:         cfg,
		group:       group,
		handlerFunc: handlerFunc,
		logger:      logger,
	}, nil
}

// Run consumes until ctx is cancelled, then closes the group. Records that
// were not marked stay uncommitted and are redelivered to the next member.
func (c *ConsumerGroup) Run(ctx context.Context) {
	defer func() {
		if err := c.group.Close(); err != nil {
			mylogger.Error(context.WithoutCancel(ctx), c.logger, "Error closing consumer group", zap.String("group", c.cfg.GroupID), zap.Error(err))
		}
	}()

	go func() {
		for err := range c.group.Errors() {
			mylogger.Warn(ctx, c.logger, "Consumer group error", zap.String("group", c.cfg.GroupID), zap.Error(err))
		}
	}()

	consumer := &saramaHandler{
		groupID: c.cfg.GroupID,
		handler: c.handlerFunc,
		logger:  c.logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = c.cfg.RetryInitialInterval
			b.MaxInterval = c.cfg.RetryMaxInterval
			b.MaxElapsedTime = 0
			b.Reset()
			return b
		},
	}

	for {
		err := c.group.Consume(ctx, c.cfg.Topics, consumer)
		if err != nil && !errors.Is(err, sarama.ErrClosedConsumerGroup) {
			mylogger.Error(ctx, c.logger, "Error consuming in consumer loop", zap.String("group", c.cfg.GroupID), zap.Error(err))
		}

		if ctx.Err() != nil {
			mylogger.Info(ctx, c.logger, "Context cancelled, shutting down consumer", zap.String("group", c.cfg.GroupID))
			return
		}
	}
}

type saramaHandler struct {
	groupID    string
	handler    HandlerFunc
	logger     *zap.Logger
	newBackOff func() backoff.BackOff
}

func (h *saramaHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *saramaHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *saramaHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !h.process(session, msg) {
				return nil
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// process retries msg until the handler accepts it, then marks it. It returns
// false if the session ended first; the record is left unmarked.
func (h *saramaHandler) process(session sarama.ConsumerGroupSession, msg *sarama.ConsumerMessage) bool {
	ctx, span := h.extractTracing(session.Context(), msg)
	defer span.End()

	b := h.newBackOff()
	for attempt := 1; ; attempt++ {
		err := h.handler(ctx, msg, attempt)
		if err == nil {
			session.MarkMessage(msg, "")
			return true
		}

		span.RecordError(err)
		mylogger.Warn(
			ctx,
			h.logger,
			"Failed to process message, redelivering",
			zap.String("group", h.groupID),
			zap.String("topic", msg.Topic),
			zap.Int32("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		timer := time.NewTimer(b.NextBackOff())
		select {
		case <-session.Context().Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func (h *saramaHandler) extractTracing(ctx context.Context, msg *sarama.ConsumerMessage) (context.Context, trace.Span) {
	carrier := propagation.MapCarrier{}
	for _, header := range msg.Headers {
		carrier[string(header.Key)] = string(header.Value)
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)

	tracer := otel.Tracer("pkg/kafka/consumer")
	return tracer.Start(ctx, "kafka_process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.consumer_group", h.groupID),
			attribute.String("messaging.destination", msg.Topic),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
}
