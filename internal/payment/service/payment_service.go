package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/internal/payment/domain"
	"github.com/sakashimaa/order-saga/internal/payment/repository"
	sagadomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/eventbus"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const transactionPrefix = "TXN-"

type PaymentService interface {
	// ProcessPayment captures amount for the order once. A payment already
	// completed or failed is returned as is; one left in processing is
	// captured again.
	ProcessPayment(ctx context.Context, orderID uuid.UUID, userID string, amount int64) (*domain.Payment, error)
	GetPayment(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error)
	HandleInventoryReserved(ctx context.Context, event sagadomain.InventoryReservedEvent) error
}

type paymentService struct {
	repo      repository.PaymentRepository
	capture   CaptureStrategy
	publisher eventbus.Publisher
	logger    *zap.Logger
	tracer    trace.Tracer
}

func NewPaymentService(
	repo repository.PaymentRepository,
	capture CaptureStrategy,
	publisher eventbus.Publisher,
	logger *zap.Logger,
) PaymentService {
	return &paymentService{
		repo:      repo,
		capture:   capture,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("service/payment_service"),
	}
}

func (s *paymentService) GetPayment(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	return s.repo.GetByOrderID(ctx, orderID)
}

func (s *paymentService) ProcessPayment(ctx context.Context, orderID uuid.UUID, userID string, amount int64) (*domain.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "PaymentService.ProcessPayment")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID.String()),
		attribute.Int64("amount", amount),
	)

	payment, err := s.repo.GetByOrderID(ctx, orderID)
	switch {
	case err == nil:
		if payment.Status.IsFinal() {
			mylogger.Info(
				ctx,
				s.logger,
				"Payment already exists for this order",
				zap.String("order_id", orderID.String()),
				zap.String("status", string(payment.Status)),
			)

			return payment, nil
		}

		mylogger.Info(ctx, s.logger, "Resuming unfinished payment", zap.String("order_id", orderID.String()))
	case errors.Is(err, repository.ErrPaymentNotFound):
		payment = &domain.Payment{
			ID:      uuid.New(),
			OrderID: orderID,
			UserID:  userID,
			Amount:  amount,
			Status:  domain.StatusProcessing,
		}
		if err := s.repo.Create(ctx, payment); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("create payment: %w", err)
		}
	default:
		span.RecordError(err)
		return nil, fmt.Errorf("lookup payment: %w", err)
	}

	result, err := s.capture.Capture(ctx, CaptureRequest{
		OrderID: payment.OrderID,
		UserID:  payment.UserID,
		Amount:  payment.Amount,
	})
	if err != nil {
		span.RecordError(err)
		mylogger.Warn(ctx, s.logger, "Payment capture failed", zap.String("order_id", orderID.String()), zap.Error(err))
		return nil, fmt.Errorf("capture payment: %w", err)
	}

	now := time.Now().UTC()
	payment.ProcessedAt = &now
	if result.Approved {
		payment.Status = domain.StatusCompleted
		payment.TransactionID = transactionPrefix + uuid.NewString()
	} else {
		payment.Status = domain.StatusFailed
		payment.FailureReason = result.Reason
	}

	if err := s.repo.Update(ctx, payment); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store payment outcome: %w", err)
	}

	metrics.Payments.WithLabelValues(string(payment.Status)).Inc()
	mylogger.Info(
		ctx,
		s.logger,
		"Payment processed",
		zap.String("order_id", orderID.String()),
		zap.String("status", string(payment.Status)),
		zap.String("transaction_id", payment.TransactionID),
	)

	return payment, nil
}

func (s *paymentService) HandleInventoryReserved(ctx context.Context, event sagadomain.InventoryReservedEvent) error {
	ctx, span := s.tracer.Start(ctx, "PaymentService.HandleInventoryReserved")
	defer span.End()

	payment, err := s.ProcessPayment(ctx, event.OrderID, event.UserID, sagadomain.ItemsTotal(event.Items))
	if err != nil {
		return err
	}

	var outcome any
	switch payment.Status {
	case domain.StatusCompleted:
		outcome = sagadomain.PaymentProcessedEvent{
			OrderID:       payment.OrderID,
			UserID:        payment.UserID,
			Amount:        payment.Amount,
			TransactionID: payment.TransactionID,
			ProcessedAt:   processedAt(payment),
		}
	case domain.StatusFailed:
		outcome = sagadomain.PaymentFailedEvent{
			OrderID:  payment.OrderID,
			UserID:   payment.UserID,
			Amount:   payment.Amount,
			Reason:   payment.FailureReason,
			FailedAt: processedAt(payment),
		}
	default:
		return fmt.Errorf("payment for order %s left in status %s", payment.OrderID, payment.Status)
	}

	if err := s.publisher.Publish(ctx, outcome); err != nil {
		span.RecordError(err)
		mylogger.Warn(
			ctx,
			s.logger,
			"Failed to publish payment outcome",
			zap.String("order_id", payment.OrderID.String()),
			zap.Error(err),
		)

		return fmt.Errorf("publish %s: %w", eventbus.TypeName(outcome), err)
	}

	return nil
}

func processedAt(p *domain.Payment) time.Time {
	if p.ProcessedAt != nil {
		return *p.ProcessedAt
	}
	return p.UpdatedAt
}
