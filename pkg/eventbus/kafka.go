package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"github.com/sakashimaa/order-saga/pkg/kafka"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"go.uber.org/zap"
)

const (
	HeaderMessageID  = "message-id"
	HeaderRoutingKey = "routing-key"
	HeaderEventType  = "event-type"
)

type KafkaConfig struct {
	Brokers []string
	// Exchange is the topic every saga event is published to.
	Exchange string
}

// KafkaBus maps the topic exchange onto a single Kafka topic. A queue is a
// consumer group on that topic filtering by routing key; group members share
// partitions. Records are keyed by aggregate id, so the events of one order
// keep their publish order within a queue.
type KafkaBus struct {
	cfg        KafkaConfig
	opts       Options
	producer   kafka.Producer
	dispatcher *dispatcher
	logger     *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

var _ Bus = (*KafkaBus)(nil)

func NewKafkaBus(cfg KafkaConfig, logger *zap.Logger, opts Options) (*KafkaBus, error) {
	if len(cfg.Brokers) == 0 || cfg.Exchange == "" {
		return nil, errors.New("eventbus: kafka brokers and exchange topic are required")
	}

	producer, err := kafka.NewProducer(cfg.Brokers)
	if err != nil {
		return nil, err
	}

	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &KafkaBus{
		cfg:        cfg,
		opts:       opts,
		producer:   producer,
		dispatcher: &dispatcher{opts: opts, logger: logger},
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func (b *KafkaBus) Publish(ctx context.Context, event any) error {
	env, err := NewEnvelope(event)
	if err != nil {
		return err
	}
	return b.PublishEnvelope(ctx, env)
}

func (b *KafkaBus) PublishEnvelope(ctx context.Context, env Envelope) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	value, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}

	headers := map[string]string{
		HeaderMessageID:  env.MessageID,
		HeaderRoutingKey: env.RoutingKey,
		HeaderEventType:  env.Type,
	}
	if err := b.producer.ProduceMessage(ctx, b.cfg.Exchange, env.AggregateID, value, headers); err != nil {
		return fmt.Errorf("publish %s: %w", env.RoutingKey, err)
	}

	metrics.EventsPublished.WithLabelValues(env.RoutingKey).Inc()
	return nil
}

func (b *KafkaBus) Subscribe(queue, pattern string, handler Handler) error {
	if queue == "" || pattern == "" || handler == nil {
		return fmt.Errorf("%w: queue %q pattern %q", ErrSubscription, queue, pattern)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	group, err := kafka.NewConsumerGroup(kafka.GroupConfig{
		Brokers:              b.cfg.Brokers,
		GroupID:              queue,
		Topics:               []string{b.cfg.Exchange},
		RetryInitialInterval: b.opts.RetryInitialInterval,
		RetryMaxInterval:     b.opts.RetryMaxInterval,
	}, b.handlerFor(queue, pattern, handler), b.logger)
	if err != nil {
		return err
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		group.Run(b.ctx)
	}()

	return nil
}

func (b *KafkaBus) handlerFor(queue, pattern string, h Handler) kafka.HandlerFunc {
	return func(ctx context.Context, msg *sarama.ConsumerMessage, attempt int) error {
		if rk := kafka.Header(msg, HeaderRoutingKey); rk != "" && !MatchPattern(pattern, rk) {
			return nil
		}

		env, err := DecodeEnvelope(msg.Value)
		if err != nil {
			return b.dispatcher.deadLetter(ctx, DeadLetterEntry{
				Queue:    queue,
				Error:    err.Error(),
				Attempts: attempt,
				Raw:      string(msg.Value),
			})
		}
		if !MatchPattern(pattern, env.RoutingKey) {
			return nil
		}

		del := Delivery{Envelope: env, Queue: queue, Attempt: attempt}
		if b.dispatcher.dispatch(ctx, h, del) == outcomeAck {
			return nil
		}
		return errRequeue
	}
}

// Close stops every consumer group, waiting for in-flight handlers, and
// closes the producer.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	b.wg.Wait()
	return b.producer.Close()
}
