package service

import (
	"context"

	"github.com/sakashimaa/order-saga/internal/notification/domain"
	"github.com/sakashimaa/order-saga/internal/notification/infrastructure/sender"
	sagadomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// NotificationService tells customers how their order ended. Delivery is
// fire-and-forget: a failed send is logged and the event still acknowledged.
type NotificationService struct {
	sender sender.Sender
	logger *zap.Logger
	tracer trace.Tracer
}

func NewNotificationService(sender sender.Sender, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		sender: sender,
		logger: logger,
		tracer: otel.Tracer("notification-service"),
	}
}

func (s *NotificationService) HandlePaymentProcessed(ctx context.Context, event sagadomain.PaymentProcessedEvent) error {
	return s.notify(ctx, "NotificationService.HandlePaymentProcessed", domain.Notification{
		UserID:        event.UserID,
		OrderID:       event.OrderID,
		Outcome:       domain.OutcomeOrderConfirmed,
		Amount:        event.Amount,
		TransactionID: event.TransactionID,
	})
}

func (s *NotificationService) HandlePaymentFailed(ctx context.Context, event sagadomain.PaymentFailedEvent) error {
	return s.notify(ctx, "NotificationService.HandlePaymentFailed", domain.Notification{
		UserID:  event.UserID,
		OrderID: event.OrderID,
		Outcome: domain.OutcomePaymentFailed,
		Reason:  event.Reason,
		Amount:  event.Amount,
	})
}

func (s *NotificationService) HandleInventoryReservationFailed(ctx context.Context, event sagadomain.InventoryReservationFailedEvent) error {
	return s.notify(ctx, "NotificationService.HandleInventoryReservationFailed", domain.Notification{
		UserID:  event.UserID,
		OrderID: event.OrderID,
		Outcome: domain.OutcomeOrderCancelled,
		Reason:  event.Reason,
	})
}

func (s *NotificationService) notify(ctx context.Context, spanName string, n domain.Notification) error {
	ctx, span := s.tracer.Start(ctx, spanName)
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", n.OrderID.String()),
		attribute.String("outcome", string(n.Outcome)),
	)

	if err := s.sender.Send(ctx, n); err != nil {
		span.RecordError(err)
		mylogger.Warn(
			ctx,
			s.logger,
			"Notification not delivered",
			zap.String("order_id", n.OrderID.String()),
			zap.String("outcome", string(n.Outcome)),
			zap.Error(err),
		)
	}

	return nil
}
