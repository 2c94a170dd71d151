package worker

import (
	"context"
	"time"

	"github.com/sakashimaa/order-saga/pkg/eventbus"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/pkg/outbox/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type PublishFunc func(ctx context.Context, event *domain.OutboxEvent) error

type OutboxRepository interface {
	// ProcessBatch claims up to batchSize unpublished events in creation
	// order and calls publish for each. Accepted events are marked published;
	// a failed one records the error and stays for a later batch.
	ProcessBatch(ctx context.Context, batchSize int, publish PublishFunc) (int, error)
}

type OutboxProcessor struct {
	repo      OutboxRepository
	publisher eventbus.Publisher
	logger    *zap.Logger
	batchSize int
	interval  time.Duration
	tracer    trace.Tracer
}

func NewOutboxProcessor(
	repo OutboxRepository,
	publisher eventbus.Publisher,
	logger *zap.Logger,
	batchSize int,
	interval time.Duration,
) *OutboxProcessor {
	if batchSize <= 0 {
		batchSize = 50
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	return &OutboxProcessor{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		batchSize: batchSize,
		interval:  interval,
		tracer:    otel.Tracer("outbox-worker"),
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	mylogger.Info(
		ctx,
		p.logger,
		"Starting outbox processor",
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(
				ctx,
				p.logger,
				"Outbox processor stopping",
			)

			return
		case <-ticker.C:
			if _, err := p.Flush(ctx); err != nil {
				mylogger.Error(
					ctx,
					p.logger,
					"Error processing outbox batch",
					zap.Error(err),
				)
			}
		}
	}
}

// Flush relays one batch and returns the number of events published.
func (p *OutboxProcessor) Flush(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.Flush")
	defer span.End()

	published, err := p.repo.ProcessBatch(ctx, p.batchSize, p.publish)
	if err != nil {
		span.RecordError(err)
		return published, err
	}

	span.SetAttributes(attribute.Int("published_count", published))
	if published > 0 {
		mylogger.Debug(
			ctx,
			p.logger,
			"Outbox batch relayed",
			zap.Int("count", published),
		)
	}

	return published, nil
}

func (p *OutboxProcessor) publish(ctx context.Context, event *domain.OutboxEvent) error {
	env, err := event.Envelope()
	if err != nil {
		mylogger.Error(
			ctx,
			p.logger,
			"Outbox event has an unreadable envelope",
			zap.Int64("id", event.ID),
			zap.Error(err),
		)

		return err
	}

	if err := p.publisher.PublishEnvelope(ctx, env); err != nil {
		mylogger.Warn(
			ctx,
			p.logger,
			"Outbox worker publish failed",
			zap.Int64("id", event.ID),
			zap.String("routing_key", event.RoutingKey),
			zap.Error(err),
		)

		return err
	}

	return nil
}
