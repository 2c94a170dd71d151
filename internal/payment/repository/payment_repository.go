package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/order-saga/internal/payment/domain"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type PaymentRepository interface {
	// Create inserts the payment. At most one payment exists per order;
	// a second insert returns ErrPaymentExists.
	Create(ctx context.Context, payment *domain.Payment) error
	GetByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error)
	// Update stores the outcome fields of an existing payment.
	Update(ctx context.Context, payment *domain.Payment) error
}

type paymentRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewPaymentRepository(pool *pgxpool.Pool, logger *zap.Logger) PaymentRepository {
	return &paymentRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("repository/payment_repo"),
	}
}

func (r *paymentRepo) Create(ctx context.Context, payment *domain.Payment) error {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.Create")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", payment.OrderID.String()),
		attribute.String("user_id", payment.UserID),
		attribute.Int64("amount", payment.Amount),
	)

	query := `
		INSERT INTO payments (id, order_id, user_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (order_id) DO NOTHING
		RETURNING created_at, updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		payment.ID,
		payment.OrderID,
		payment.UserID,
		payment.Amount,
		payment.Status,
	).Scan(&payment.CreatedAt, &payment.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPaymentExists
	}
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to insert payment", zap.Error(err))
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

func (r *paymentRepo) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.GetByOrderID")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID.String()))

	query := `
		SELECT id, order_id, user_id, amount, status,
			COALESCE(transaction_id, ''), COALESCE(failure_reason, ''),
			created_at, updated_at, processed_at
		FROM payments
		WHERE order_id = $1
	`

	var p domain.Payment
	err := r.pool.QueryRow(ctx, query, orderID).Scan(
		&p.ID,
		&p.OrderID,
		&p.UserID,
		&p.Amount,
		&p.Status,
		&p.TransactionID,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.ProcessedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get payment: %w", err)
	}

	return &p, nil
}

func (r *paymentRepo) Update(ctx context.Context, payment *domain.Payment) error {
	ctx, span := r.tracer.Start(ctx, "PaymentRepository.Update")
	defer span.End()

	span.SetAttributes(
		attribute.String("payment_id", payment.ID.String()),
		attribute.String("status", string(payment.Status)),
	)

	query := `
		UPDATE payments
		SET status = $2,
			transaction_id = NULLIF($3, ''),
			failure_reason = NULLIF($4, ''),
			processed_at = $5,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.pool.QueryRow(ctx, query,
		payment.ID,
		payment.Status,
		payment.TransactionID,
		payment.FailureReason,
		payment.ProcessedAt,
	).Scan(&payment.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPaymentNotFound
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("update payment: %w", err)
	}

	return nil
}
