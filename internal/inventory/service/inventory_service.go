package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/internal/inventory/domain"
	"github.com/sakashimaa/order-saga/internal/inventory/repository"
	sagadomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/eventbus"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	ReasonInsufficientStock = "Insufficient stock available"
	ReasonNoItems           = "Order has no line items"
)

var ErrReservationSettled = errors.New("reservation already settled the other way")

type InventoryService interface {
	SetStock(ctx context.Context, productID uuid.UUID, total int64) (*domain.Record, error)
	GetRecord(ctx context.Context, productID uuid.UUID) (*domain.Record, error)
	Reserve(ctx context.Context, productID uuid.UUID, qty int64) error
	Release(ctx context.Context, productID uuid.UUID, qty int64) error
	Confirm(ctx context.Context, productID uuid.UUID, qty int64) error

	// ReserveOrder reserves every line of an order or none of them. A
	// redelivered order returns the ledger entry recorded the first time.
	ReserveOrder(ctx context.Context, orderID uuid.UUID, userID string, items []sagadomain.OrderItem) (*domain.Reservation, error)
	// ReleaseOrder gives back the stock held for a reserved order.
	ReleaseOrder(ctx context.Context, orderID uuid.UUID) (*domain.Reservation, error)
	// ConfirmOrder removes the stock held for a reserved order from inventory.
	ConfirmOrder(ctx context.Context, orderID uuid.UUID) (*domain.Reservation, error)
	GetReservation(ctx context.Context, orderID uuid.UUID) (*domain.Reservation, error)

	HandleOrderCreated(ctx context.Context, event sagadomain.OrderCreatedEvent) error
	HandlePaymentProcessed(ctx context.Context, event sagadomain.PaymentProcessedEvent) error
	HandlePaymentFailed(ctx context.Context, event sagadomain.PaymentFailedEvent) error
}

type inventoryService struct {
	repo      repository.InventoryRepository
	publisher eventbus.Publisher
	logger    *zap.Logger
	tracer    trace.Tracer
}

func NewInventoryService(repo repository.InventoryRepository, publisher eventbus.Publisher, logger *zap.Logger) InventoryService {
	return &inventoryService{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("inventory_service"),
	}
}

func (s *inventoryService) SetStock(ctx context.Context, productID uuid.UUID, total int64) (*domain.Record, error) {
	return s.repo.SetStock(ctx, productID, total)
}

func (s *inventoryService) GetRecord(ctx context.Context, productID uuid.UUID) (*domain.Record, error) {
	return s.repo.GetRecord(ctx, productID)
}

func (s *inventoryService) Reserve(ctx context.Context, productID uuid.UUID, qty int64) error {
	return s.repo.Reserve(ctx, productID, qty)
}

func (s *inventoryService) Release(ctx context.Context, productID uuid.UUID, qty int64) error {
	return s.repo.Release(ctx, productID, qty)
}

func (s *inventoryService) Confirm(ctx context.Context, productID uuid.UUID, qty int64) error {
	return s.repo.Confirm(ctx, productID, qty)
}

func (s *inventoryService) GetReservation(ctx context.Context, orderID uuid.UUID) (*domain.Reservation, error) {
	return s.repo.GetReservation(ctx, orderID)
}

func (s *inventoryService) ReserveOrder(
	ctx context.Context,
	orderID uuid.UUID,
	userID string,
	items []sagadomain.OrderItem,
) (*domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.ReserveOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID.String()),
		attribute.Int("items_count", len(items)),
	)

	existing, err := s.repo.GetReservation(ctx, orderID)
	if err == nil {
		metrics.Reservations.WithLabelValues("duplicate").Inc()
		mylogger.Info(
			ctx,
			s.logger,
			"Order already processed by inventory, skipping",
			zap.String("order_id", orderID.String()),
			zap.String("status", string(existing.Status)),
		)

		return existing, nil
	}
	if !errors.Is(err, repository.ErrReservationNotFound) {
		span.RecordError(err)
		return nil, fmt.Errorf("lookup reservation: %w", err)
	}

	res := &domain.Reservation{
		OrderID: orderID,
		UserID:  userID,
		Items:   items,
	}

	if len(items) == 0 {
		return s.reject(ctx, res, ReasonNoItems)
	}

	products, demand := domain.Demand(items)

	// Holds left by an earlier delivery that crashed mid-way already count
	// against available stock, so they are skipped in the check phase.
	held, err := s.heldProducts(ctx, orderID)
	if err != nil {
		return nil, err
	}

	for _, productID := range products {
		if held[productID] {
			continue
		}

		rec, err := s.repo.GetRecord(ctx, productID)
		if errors.Is(err, repository.ErrProductNotFound) {
			return s.reject(ctx, res, fmt.Sprintf("Product %s not found", productID))
		}
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("check stock of %s: %w", productID, err)
		}

		if rec.Available() < demand[productID] {
			mylogger.Info(
				ctx,
				s.logger,
				"Insufficient stock in check phase",
				zap.String("order_id", orderID.String()),
				zap.String("product_id", productID.String()),
				zap.Int64("available", rec.Available()),
				zap.Int64("requested", demand[productID]),
			)

			return s.reject(ctx, res, ReasonInsufficientStock)
		}
	}

	for _, productID := range products {
		err := s.repo.HoldItem(ctx, orderID, productID, demand[productID])
		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, repository.ErrInsufficientStock):
			mylogger.Info(
				ctx,
				s.logger,
				"Stock taken since check phase, rolling back order",
				zap.String("order_id", orderID.String()),
				zap.String("product_id", productID.String()),
			)

			return s.reject(ctx, res, ReasonInsufficientStock)
		case errors.Is(err, repository.ErrProductNotFound):
			return s.reject(ctx, res, fmt.Sprintf("Product %s not found", productID))
		default:
			span.RecordError(err)
			if relErr := s.releaseHolds(ctx, orderID); relErr != nil {
				mylogger.Error(
					ctx,
					s.logger,
					"Failed to roll back partial reservation",
					zap.String("order_id", orderID.String()),
					zap.Error(relErr),
				)
			}

			return nil, fmt.Errorf("reserve %s: %w", productID, err)
		}
	}

	res.Status = domain.ReservationReserved
	if err := s.repo.SaveReservation(ctx, res); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("save reservation: %w", err)
	}

	metrics.Reservations.WithLabelValues("reserved").Inc()
	return res, nil
}

// reject releases every hold of the order and records the failure.
func (s *inventoryService) reject(ctx context.Context, res *domain.Reservation, reason string) (*domain.Reservation, error) {
	if err := s.releaseHolds(ctx, res.OrderID); err != nil {
		return nil, fmt.Errorf("roll back reservation: %w", err)
	}

	res.Status = domain.ReservationRejected
	res.Reason = reason
	if err := s.repo.SaveReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("save rejected reservation: %w", err)
	}

	metrics.Reservations.WithLabelValues("rejected").Inc()
	return res, nil
}

func (s *inventoryService) heldProducts(ctx context.Context, orderID uuid.UUID) (map[uuid.UUID]bool, error) {
	holds, err := s.repo.Holds(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load holds: %w", err)
	}

	held := make(map[uuid.UUID]bool, len(holds))
	for _, h := range holds {
		if h.Status == domain.HoldHeld {
			held[h.ProductID] = true
		}
	}
	return held, nil
}

func (s *inventoryService) releaseHolds(ctx context.Context, orderID uuid.UUID) error {
	return s.settleHolds(ctx, orderID, s.repo.ReleaseHold)
}

func (s *inventoryService) settleHolds(
	ctx context.Context,
	orderID uuid.UUID,
	settle func(ctx context.Context, orderID, productID uuid.UUID) error,
) error {
	holds, err := s.repo.Holds(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load holds: %w", err)
	}

	for _, h := range holds {
		if h.Status != domain.HoldHeld {
			continue
		}
		if err := settle(ctx, orderID, h.ProductID); err != nil {
			return fmt.Errorf("settle hold on %s: %w", h.ProductID, err)
		}
	}
	return nil
}

func (s *inventoryService) ReleaseOrder(ctx context.Context, orderID uuid.UUID) (*domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.ReleaseOrder")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID.String()))

	return s.settleOrder(ctx, orderID, domain.ReservationReleased, s.repo.ReleaseHold)
}

func (s *inventoryService) ConfirmOrder(ctx context.Context, orderID uuid.UUID) (*domain.Reservation, error) {
	ctx, span := s.tracer.Start(ctx, "InventoryService.ConfirmOrder")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID.String()))

	return s.settleOrder(ctx, orderID, domain.ReservationConfirmed, s.repo.ConfirmHold)
}

func (s *inventoryService) settleOrder(
	ctx context.Context,
	orderID uuid.UUID,
	to domain.ReservationStatus,
	settle func(ctx context.Context, orderID, productID uuid.UUID) error,
) (*domain.Reservation, error) {
	res, err := s.repo.GetReservation(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch res.Status {
	case to:
		return res, nil
	case domain.ReservationRejected:
		// Nothing is held for a rejected order.
		return res, nil
	case domain.ReservationReserved:
	default:
		return res, fmt.Errorf("%w: order %s is %s, wanted %s", ErrReservationSettled, orderID, res.Status, to)
	}

	if err := s.settleHolds(ctx, orderID, settle); err != nil {
		return nil, err
	}

	res.Status = to
	if err := s.repo.SaveReservation(ctx, res); err != nil {
		return nil, fmt.Errorf("save reservation: %w", err)
	}

	return res, nil
}

func (s *inventoryService) HandleOrderCreated(ctx context.Context, event sagadomain.OrderCreatedEvent) error {
	ctx, span := s.tracer.Start(ctx, "InventoryService.HandleOrderCreated")
	defer span.End()

	res, err := s.ReserveOrder(ctx, event.OrderID, event.UserID, event.Items)
	if err != nil {
		span.RecordError(err)
		return err
	}

	switch res.Status {
	case domain.ReservationReserved:
		return s.publish(ctx, sagadomain.InventoryReservedEvent{
			OrderID:    res.OrderID,
			UserID:     res.UserID,
			Items:      res.Items,
			ReservedAt: res.UpdatedAt,
		})
	case domain.ReservationRejected:
		return s.publish(ctx, sagadomain.InventoryReservationFailedEvent{
			OrderID:  res.OrderID,
			UserID:   res.UserID,
			Reason:   res.Reason,
			FailedAt: res.UpdatedAt,
		})
	default:
		mylogger.Info(
			ctx,
			s.logger,
			"Reservation already settled, not republishing",
			zap.String("order_id", res.OrderID.String()),
			zap.String("status", string(res.Status)),
		)

		return nil
	}
}

func (s *inventoryService) HandlePaymentProcessed(ctx context.Context, event sagadomain.PaymentProcessedEvent) error {
	_, err := s.ConfirmOrder(ctx, event.OrderID)
	return s.settlementError(ctx, event.OrderID, "confirm", err)
}

func (s *inventoryService) HandlePaymentFailed(ctx context.Context, event sagadomain.PaymentFailedEvent) error {
	_, err := s.ReleaseOrder(ctx, event.OrderID)
	return s.settlementError(ctx, event.OrderID, "release", err)
}

// settlementError sorts settlement failures: domain and invariant violations
// are dead-lettered, anything else is returned for redelivery.
func (s *inventoryService) settlementError(ctx context.Context, orderID uuid.UUID, op string, err error) error {
	if err == nil {
		return nil
	}

	fields := []zap.Field{
		zap.String("order_id", orderID.String()),
		zap.String("operation", op),
		zap.Error(err),
	}

	switch {
	case errors.Is(err, repository.ErrReservationNotFound):
		mylogger.Warn(ctx, s.logger, "No reservation for settled payment", fields...)
		return eventbus.DeadLetter(err)
	case errors.Is(err, ErrReservationSettled), errors.Is(err, repository.ErrReleaseExceedsReserved):
		mylogger.Error(ctx, s.logger, "Reservation settlement violates inventory state", fields...)
		return eventbus.DeadLetter(err)
	default:
		mylogger.Warn(ctx, s.logger, "Reservation settlement failed", fields...)
		return err
	}
}

func (s *inventoryService) publish(ctx context.Context, event any) error {
	if err := s.publisher.Publish(ctx, event); err != nil {
		mylogger.Warn(
			ctx,
			s.logger,
			"Failed to publish inventory outcome",
			zap.String("event", eventbus.TypeName(event)),
			zap.Error(err),
		)

		return fmt.Errorf("publish %s: %w", eventbus.TypeName(event), err)
	}
	return nil
}
