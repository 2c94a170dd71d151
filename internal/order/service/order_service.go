package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/internal/order/domain"
	"github.com/sakashimaa/order-saga/internal/order/repository"
	sagadomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/eventbus"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"github.com/sakashimaa/order-saga/pkg/utils"
	outboxDomain "github.com/sakashimaa/order-saga/pkg/outbox/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const aggregateType = "order"

// maxStatusRetries bounds compare-and-set retries when a concurrent
// consumer changes the same order.
const maxStatusRetries = 5

var (
	ErrInvalidOrder = errors.New("invalid order")
	ErrForbidden    = errors.New("order belongs to another user")
)

type OrderService interface {
	// CreateOrder persists a Pending order and queues its OrderCreated event.
	CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID uuid.UUID, userID string) (*domain.Order, error)
	ListUserOrders(ctx context.Context, userID string) ([]*domain.Order, error)
	// UpdateStatus moves the order to status to. Re-applying the current
	// status is a no-op.
	UpdateStatus(ctx context.Context, orderID uuid.UUID, to domain.Status) (*domain.Order, error)

	HandleInventoryReserved(ctx context.Context, event sagadomain.InventoryReservedEvent) error
	HandleInventoryReservationFailed(ctx context.Context, event sagadomain.InventoryReservationFailedEvent) error
	HandlePaymentProcessed(ctx context.Context, event sagadomain.PaymentProcessedEvent) error
	HandlePaymentFailed(ctx context.Context, event sagadomain.PaymentFailedEvent) error
}

type Options struct {
	// MarkProcessingOnReserve moves a Pending order to Processing once its
	// stock is reserved.
	MarkProcessingOnReserve bool
}

type orderService struct {
	repo     repository.OrderRepository
	validate *validator.Validate
	logger   *zap.Logger
	opts     Options
	tracer   trace.Tracer
}

func NewOrderService(repo repository.OrderRepository, logger *zap.Logger, opts Options) OrderService {
	return &orderService{
		repo:     repo,
		validate: utils.NewValidator(),
		logger:   logger,
		opts:     opts,
		tracer:   otel.Tracer("order_service"),
	}
}

func (s *orderService) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Int("items_count", len(req.Items)),
	)

	if err := s.validate.StructCtx(ctx, req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOrder, err)
	}

	items := make([]sagadomain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		productID, err := uuid.Parse(item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("%w: product id %q: %w", ErrInvalidOrder, item.ProductID, err)
		}
		items = append(items, sagadomain.OrderItem{
			ProductID:   productID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}

	now := time.Now().UTC()
	order := &domain.Order{
		ID:              uuid.New(),
		UserID:          req.UserID,
		Status:          domain.StatusPending,
		TotalAmount:     sagadomain.ItemsTotal(items),
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	env, err := eventbus.NewEnvelope(sagadomain.OrderCreatedEvent{
		OrderID:     order.ID,
		UserID:      order.UserID,
		CreatedAt:   order.CreatedAt,
		TotalAmount: order.TotalAmount,
		Items:       order.Items,
	})
	if err != nil {
		return nil, err
	}

	event, err := outboxDomain.NewOutboxEvent(aggregateType, env)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateOrder(ctx, order, event); err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Failed to create order", zap.Error(err))
		return nil, fmt.Errorf("create order: %w", err)
	}

	metrics.OrderTransitions.WithLabelValues(order.Status.String()).Inc()
	mylogger.Info(
		ctx,
		s.logger,
		"Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", order.UserID),
		zap.Int64("total_amount", order.TotalAmount),
	)

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID uuid.UUID, userID string) (*domain.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, ErrForbidden
	}
	return order, nil
}

func (s *orderService) ListUserOrders(ctx context.Context, userID string) ([]*domain.Order, error) {
	return s.repo.ListUserOrders(ctx, userID)
}

func (s *orderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, to domain.Status) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.UpdateStatus")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID.String()),
		attribute.String("to", to.String()),
	)

	for range maxStatusRetries {
		order, err := s.repo.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}

		from := order.Status
		changed, err := order.Transition(to, time.Now().UTC())
		if err != nil {
			return order, err
		}
		if !changed {
			return order, nil
		}

		err = s.repo.UpdateStatus(ctx, orderID, from, to)
		if errors.Is(err, repository.ErrStatusConflict) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		metrics.OrderTransitions.WithLabelValues(to.String()).Inc()
		mylogger.Info(
			ctx,
			s.logger,
			"Order status changed",
			zap.String("order_id", orderID.String()),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)

		return order, nil
	}

	return nil, fmt.Errorf("%w: order %s", repository.ErrStatusConflict, orderID)
}

func (s *orderService) HandleInventoryReserved(ctx context.Context, event sagadomain.InventoryReservedEvent) error {
	if !s.opts.MarkProcessingOnReserve {
		mylogger.Debug(ctx, s.logger, "Stock reserved, order stays pending", zap.String("order_id", event.OrderID.String()))
		return nil
	}
	return s.apply(ctx, event.OrderID, domain.StatusProcessing)
}

func (s *orderService) HandleInventoryReservationFailed(ctx context.Context, event sagadomain.InventoryReservationFailedEvent) error {
	return s.apply(ctx, event.OrderID, domain.StatusCancelled)
}

func (s *orderService) HandlePaymentProcessed(ctx context.Context, event sagadomain.PaymentProcessedEvent) error {
	return s.apply(ctx, event.OrderID, domain.StatusConfirmed)
}

func (s *orderService) HandlePaymentFailed(ctx context.Context, event sagadomain.PaymentFailedEvent) error {
	return s.apply(ctx, event.OrderID, domain.StatusCancelled)
}

// apply runs an event-driven status change. A missing order is dead-lettered
// and an illegal transition is acknowledged; both are logged.
func (s *orderService) apply(ctx context.Context, orderID uuid.UUID, to domain.Status) error {
	_, err := s.UpdateStatus(ctx, orderID, to)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrOrderNotFound):
		mylogger.Error(
			ctx,
			s.logger,
			"Order not found for status update",
			zap.String("order_id", orderID.String()),
			zap.String("to", to.String()),
		)

		return eventbus.DeadLetter(fmt.Errorf("order %s: %w", orderID, err))
	case errors.Is(err, domain.ErrIllegalTransition):
		mylogger.Warn(
			ctx,
			s.logger,
			"Ignoring illegal order transition",
			zap.String("order_id", orderID.String()),
			zap.Error(err),
		)

		return nil
	default:
		mylogger.Warn(ctx, s.logger, "Order status update failed", zap.String("order_id", orderID.String()), zap.Error(err))
		return err
	}
}
