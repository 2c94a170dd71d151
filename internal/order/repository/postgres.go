package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/order-saga/internal/order/domain"
	"github.com/sakashimaa/order-saga/pkg/db"
	sagadomain "github.com/sakashimaa/order-saga/pkg/domain"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	outboxDomain "github.com/sakashimaa/order-saga/pkg/outbox/domain"
	outboxRepository "github.com/sakashimaa/order-saga/pkg/outbox/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type orderRepo struct {
	pool   *pgxpool.Pool
	outbox outboxRepository.OutboxRepository
	logger *zap.Logger
	tracer trace.Tracer
}

func NewOrderRepository(pool *pgxpool.Pool, outbox outboxRepository.OutboxRepository, logger *zap.Logger) OrderRepository {
	return &orderRepo{
		pool:   pool,
		outbox: outbox,
		logger: logger,
		tracer: otel.Tracer("order_repository"),
	}
}

func (r *orderRepo) CreateOrder(ctx context.Context, order *domain.Order, event *outboxDomain.OutboxEvent) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", order.ID.String()),
		attribute.String("user_id", order.UserID),
		attribute.Int("items_count", len(order.Items)),
	)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer db.RollbackOnError(ctx, tx, r.logger)

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, status, total_amount, shipping_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, order.ID, order.UserID, order.Status.String(), order.TotalAmount, order.ShippingAddress, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to insert order", zap.Error(err))
		return fmt.Errorf("insert order: %w", err)
	}

	rows := make([][]any, 0, len(order.Items))
	for i, item := range order.Items {
		rows = append(rows, []any{order.ID, i, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice})
	}
	if _, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"order_items"},
		[]string{"order_id", "position", "product_id", "product_name", "quantity", "unit_price"},
		pgx.CopyFromRows(rows),
	); err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert order items: %w", err)
	}

	if err := r.outbox.SaveOutboxEvent(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit order: %w", err)
	}

	return nil
}

func (r *orderRepo) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.GetOrder")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID.String()))

	row := r.pool.QueryRow(ctx, `
		SELECT id, user_id, status, total_amount, shipping_address, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, orderID)

	order, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := r.items(ctx, []uuid.UUID{orderID})
	if err != nil {
		return nil, err
	}
	order.Items = items[orderID]

	return order, nil
}

func (r *orderRepo) ListUserOrders(ctx context.Context, userID string) ([]*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.ListUserOrders")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, status, total_amount, shipping_address, created_at, updated_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var (
		orders []*domain.Order
		ids    []uuid.UUID
	)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return orders, nil
	}

	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, order := range orders {
		order.Items = items[order.ID]
	}

	return orders, nil
}

func (r *orderRepo) items(ctx context.Context, orderIDs []uuid.UUID) (map[uuid.UUID][]sagadomain.OrderItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT order_id, product_id, product_name, quantity, unit_price
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, position
	`, orderIDs)
	if err != nil {
		mylogger.Error(ctx, r.logger, "Failed to query order_items", zap.Error(err))
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]sagadomain.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			orderID uuid.UUID
			item    sagadomain.OrderItem
		)
		if err := rows.Scan(&orderID, &item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		out[orderID] = append(out[orderID], item)
	}

	return out, rows.Err()
}

func (r *orderRepo) UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to domain.Status) error {
	ctx, span := r.tracer.Start(ctx, "OrderRepository.UpdateStatus")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID.String()),
		attribute.String("from", from.String()),
		attribute.String("to", to.String()),
	)

	tag, err := r.pool.Exec(ctx, `
		UPDATE orders
		SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2
	`, orderID, from.String(), to.String())
	if err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, r.logger, "Failed to update order", zap.Error(err))
		return fmt.Errorf("update order status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("lookup order: %w", err)
	}
	if !exists {
		return ErrOrderNotFound
	}
	return ErrStatusConflict
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	if err := row.Scan(
		&order.ID,
		&order.UserID,
		&status,
		&order.TotalAmount,
		&order.ShippingAddress,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := domain.ParseStatus(status)
	if err != nil {
		return nil, err
	}
	order.Status = parsed

	return &order, nil
}
