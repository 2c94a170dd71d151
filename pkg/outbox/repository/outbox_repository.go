package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/order-saga/pkg/db"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/pkg/outbox/domain"
	"github.com/sakashimaa/order-saga/pkg/outbox/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OutboxRepository interface {
	worker.OutboxRepository
	SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error
}

type outboxRepo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewOutboxRepository(pool *pgxpool.Pool, logger *zap.Logger) OutboxRepository {
	return &outboxRepo{
		pool:   pool,
		tracer: otel.Tracer("outbox_repository"),
		logger: logger,
	}
}

func (r *outboxRepo) SaveOutboxEvent(ctx context.Context, tx pgx.Tx, event *domain.OutboxEvent) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.SaveOutboxEvent")
	defer span.End()

	span.SetAttributes(
		attribute.String("aggregate_id", event.AggregateID),
		attribute.String("aggregate_type", event.AggregateType),
		attribute.String("routing_key", event.RoutingKey),
	)

	query := `
		INSERT INTO outbox (message_id, aggregate_type, aggregate_id, event_type, routing_key, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	err := tx.QueryRow(
		ctx,
		query,
		event.MessageID,
		event.AggregateType,
		event.AggregateID,
		event.EventType,
		event.RoutingKey,
		event.Payload,
		event.CreatedAt,
	).Scan(&event.ID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return nil
}

func (r *outboxRepo) ProcessBatch(ctx context.Context, batchSize int, publish worker.PublishFunc) (int, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.ProcessBatch")
	defer span.End()

	span.SetAttributes(attribute.Int("batch_size", batchSize))

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer db.RollbackOnError(ctx, tx, r.logger)

	events, err := r.getUnpublishedEvents(ctx, tx, batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	published := 0
	for _, event := range events {
		if err := publish(ctx, event); err != nil {
			if dbErr := r.markEventFailed(ctx, tx, event.ID, err.Error()); dbErr != nil {
				return published, dbErr
			}
			continue
		}

		if err := r.markEventPublished(ctx, tx, event.ID); err != nil {
			mylogger.Error(
				ctx,
				r.logger,
				"Failed to mark outbox event published",
				zap.Int64("id", event.ID),
				zap.Error(err),
			)

			return published, err
		}
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return published, fmt.Errorf("commit outbox batch: %w", err)
	}

	return published, nil
}

func (r *outboxRepo) getUnpublishedEvents(ctx context.Context, tx pgx.Tx, batchSize int) ([]*domain.OutboxEvent, error) {
	query := `
		SELECT id, message_id, aggregate_type, aggregate_id, event_type, routing_key, payload, created_at, attempts
		FROM outbox
		WHERE published_at IS NULL AND attempts < $2
		ORDER BY id ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, batchSize, domain.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to query unpublished events: %w", err)
	}
	defer rows.Close()

	var events []*domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		if err := rows.Scan(
			&e.ID,
			&e.MessageID,
			&e.AggregateType,
			&e.AggregateID,
			&e.EventType,
			&e.RoutingKey,
			&e.Payload,
			&e.CreatedAt,
			&e.Attempts,
		); err != nil {
			return nil, fmt.Errorf("error scanning event: %w", err)
		}

		events = append(events, &e)
	}

	return events, rows.Err()
}

func (r *outboxRepo) markEventPublished(ctx context.Context, tx pgx.Tx, eventID int64) error {
	query := `
		UPDATE outbox
		SET published_at = NOW(), last_error = NULL
		WHERE id = $1;
	`

	_, err := tx.Exec(ctx, query, eventID)
	return err
}

func (r *outboxRepo) markEventFailed(ctx context.Context, tx pgx.Tx, eventID int64, errMsg string) error {
	query := `
		UPDATE outbox
		SET last_error = $1,
			attempts = attempts + 1
		WHERE id = $2;
	`

	_, err := tx.Exec(ctx, query, errMsg, eventID)
	return err
}
