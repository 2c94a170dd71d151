package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/order-saga/internal/inventory/domain"
	"github.com/sakashimaa/order-saga/pkg/db"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type inventoryRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewInventoryRepository(pool *pgxpool.Pool, logger *zap.Logger) InventoryRepository {
	return &inventoryRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("inventory_repository"),
	}
}

func (r *inventoryRepo) SetStock(ctx context.Context, productID uuid.UUID, total int64) (*domain.Record, error) {
	ctx, span := r.tracer.Start(ctx, "InventoryRepository.SetStock")
	defer span.End()

	span.SetAttributes(
		attribute.String("product_id", productID.String()),
		attribute.Int64("total", total),
	)

	if total < 0 {
		return nil, fmt.Errorf("%w: total %d", ErrInvalidQuantity, total)
	}

	query := `
		INSERT INTO inventory (product_id, total, reserved, updated_at)
		VALUES ($1, $2, 0, NOW())
		ON CONFLICT (product_id) DO UPDATE
		SET total = EXCLUDED.total, updated_at = NOW()
		WHERE inventory.reserved <= EXCLUDED.total
		RETURNING product_id, total, reserved, updated_at
	`

	var rec domain.Record
	err := r.pool.QueryRow(ctx, query, productID, total).Scan(
		&rec.ProductID,
		&rec.Total,
		&rec.Reserved,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: product %s", ErrStockBelowReserved, productID)
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("set stock: %w", err)
	}

	return &rec, nil
}

func (r *inventoryRepo) GetRecord(ctx context.Context, productID uuid.UUID) (*domain.Record, error) {
	ctx, span := r.tracer.Start(ctx, "InventoryRepository.GetRecord")
	defer span.End()

	span.SetAttributes(attribute.String("product_id", productID.String()))

	query := `
		SELECT product_id, total, reserved, updated_at
		FROM inventory
		WHERE product_id = $1
	`

	var rec domain.Record
	err := r.pool.QueryRow(ctx, query, productID).Scan(
		&rec.ProductID,
		&rec.Total,
		&rec.Reserved,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get inventory record: %w", err)
	}

	return &rec, nil
}

func (r *inventoryRepo) Reserve(ctx context.Context, productID uuid.UUID, qty int64) error {
	if err := checkQuantity(qty); err != nil {
		return err
	}
	return r.withProductLock(ctx, "InventoryRepository.Reserve", productID, func(_ pgx.Tx, rec *domain.Record) (bool, error) {
		return true, applyReserve(rec, qty)
	})
}

func (r *inventoryRepo) Release(ctx context.Context, productID uuid.UUID, qty int64) error {
	if err := checkQuantity(qty); err != nil {
		return err
	}
	return r.withProductLock(ctx, "InventoryRepository.Release", productID, func(_ pgx.Tx, rec *domain.Record) (bool, error) {
		return true, applyRelease(rec, qty)
	})
}

func (r *inventoryRepo) Confirm(ctx context.Context, productID uuid.UUID, qty int64) error {
	if err := checkQuantity(qty); err != nil {
		return err
	}
	return r.withProductLock(ctx, "InventoryRepository.Confirm", productID, func(_ pgx.Tx, rec *domain.Record) (bool, error) {
		return true, applyConfirm(rec, qty)
	})
}

func (r *inventoryRepo) HoldItem(ctx context.Context, orderID, productID uuid.UUID, qty int64) error {
	if err := checkQuantity(qty); err != nil {
		return err
	}
	return r.withProductLock(ctx, "InventoryRepository.HoldItem", productID, func(tx pgx.Tx, rec *domain.Record) (bool, error) {
		var status domain.HoldStatus
		err := tx.QueryRow(ctx, `
			SELECT status
			FROM inventory_holds
			WHERE order_id = $1 AND product_id = $2
		`, orderID, productID).Scan(&status)
		exists := err == nil
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("lookup hold: %w", err)
		}
		if exists && status != domain.HoldReleased {
			return false, nil
		}

		if err := applyReserve(rec, qty); err != nil {
			return false, err
		}

		if exists {
			if _, err := tx.Exec(ctx, `
				UPDATE inventory_holds
				SET quantity = $3, status = $4, updated_at = NOW()
				WHERE order_id = $1 AND product_id = $2
			`, orderID, productID, qty, domain.HoldHeld); err != nil {
				return false, fmt.Errorf("restore hold: %w", err)
			}
			return true, nil
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO inventory_holds (order_id, product_id, quantity, status)
			VALUES ($1, $2, $3, $4)
		`, orderID, productID, qty, domain.HoldHeld); err != nil {
			return false, fmt.Errorf("insert hold: %w", err)
		}
		return true, nil
	})
}

func (r *inventoryRepo) ReleaseHold(ctx context.Context, orderID, productID uuid.UUID) error {
	return r.settleHold(ctx, "InventoryRepository.ReleaseHold", orderID, productID, domain.HoldReleased, applyRelease)
}

func (r *inventoryRepo) ConfirmHold(ctx context.Context, orderID, productID uuid.UUID) error {
	return r.settleHold(ctx, "InventoryRepository.ConfirmHold", orderID, productID, domain.HoldConfirmed, applyConfirm)
}

func (r *inventoryRepo) settleHold(
	ctx context.Context,
	spanName string,
	orderID, productID uuid.UUID,
	to domain.HoldStatus,
	apply func(*domain.Record, int64) error,
) error {
	return r.withProductLock(ctx, spanName, productID, func(tx pgx.Tx, rec *domain.Record) (bool, error) {
		var hold domain.Hold
		err := tx.QueryRow(ctx, `
			SELECT quantity, status
			FROM inventory_holds
			WHERE order_id = $1 AND product_id = $2
		`, orderID, productID).Scan(&hold.Quantity, &hold.Status)
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("lookup hold: %w", err)
		}
		if hold.Status != domain.HoldHeld {
			return false, nil
		}

		if err := apply(rec, hold.Quantity); err != nil {
			return false, err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE inventory_holds
			SET status = $3, updated_at = NOW()
			WHERE order_id = $1 AND product_id = $2
		`, orderID, productID, to); err != nil {
			return false, fmt.Errorf("update hold: %w", err)
		}
		return true, nil
	})
}

// withProductLock loads the record FOR UPDATE, lets fn mutate it and writes it
// back in the same transaction when fn reports a change.
func (r *inventoryRepo) withProductLock(
	ctx context.Context,
	spanName string,
	productID uuid.UUID,
	fn func(tx pgx.Tx, rec *domain.Record) (bool, error),
) error {
	ctx, span := r.tracer.Start(ctx, spanName)
	defer span.End()

	span.SetAttributes(attribute.String("product_id", productID.String()))

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer db.RollbackOnError(ctx, tx, r.logger)

	rec := domain.Record{ProductID: productID}
	err = tx.QueryRow(ctx, `
		SELECT total, reserved
		FROM inventory
		WHERE product_id = $1
		FOR UPDATE
	`, productID).Scan(&rec.Total, &rec.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrProductNotFound
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("lock inventory record: %w", err)
	}

	changed, err := fn(tx, &rec)
	if err != nil {
		if errors.Is(err, ErrReleaseExceedsReserved) {
			mylogger.Error(
				ctx,
				r.logger,
				"Inventory invariant violation",
				zap.String("product_id", productID.String()),
				zap.Int64("reserved", rec.Reserved),
				zap.Error(err),
			)
		}
		return err
	}
	if !changed {
		return nil
	}

	if _, err := tx.Exec(ctx, `
		UPDATE inventory
		SET total = $2, reserved = $3, updated_at = NOW()
		WHERE product_id = $1
	`, productID, rec.Total, rec.Reserved); err != nil {
		span.RecordError(err)
		return fmt.Errorf("update inventory record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit inventory change: %w", err)
	}

	return nil
}

func (r *inventoryRepo) Holds(ctx context.Context, orderID uuid.UUID) ([]domain.Hold, error) {
	ctx, span := r.tracer.Start(ctx, "InventoryRepository.Holds")
	defer span.End()

	rows, err := r.pool.Query(ctx, `
		SELECT order_id, product_id, quantity, status
		FROM inventory_holds
		WHERE order_id = $1
		ORDER BY seq ASC
	`, orderID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query holds: %w", err)
	}
	defer rows.Close()

	var holds []domain.Hold
	for rows.Next() {
		var h domain.Hold
		if err := rows.Scan(&h.OrderID, &h.ProductID, &h.Quantity, &h.Status); err != nil {
			return nil, fmt.Errorf("scan hold: %w", err)
		}
		holds = append(holds, h)
	}

	return holds, rows.Err()
}

func (r *inventoryRepo) GetReservation(ctx context.Context, orderID uuid.UUID) (*domain.Reservation, error) {
	ctx, span := r.tracer.Start(ctx, "InventoryRepository.GetReservation")
	defer span.End()

	span.SetAttributes(attribute.String("order_id", orderID.String()))

	var res domain.Reservation
	err := r.pool.QueryRow(ctx, `
		SELECT order_id, user_id, status, items, reason, created_at, updated_at
		FROM inventory_reservations
		WHERE order_id = $1
	`, orderID).Scan(
		&res.OrderID,
		&res.UserID,
		&res.Status,
		&res.Items,
		&res.Reason,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("get reservation: %w", err)
	}

	return &res, nil
}

func (r *inventoryRepo) SaveReservation(ctx context.Context, res *domain.Reservation) error {
	ctx, span := r.tracer.Start(ctx, "InventoryRepository.SaveReservation")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", res.OrderID.String()),
		attribute.String("status", string(res.Status)),
	)

	err := r.pool.QueryRow(ctx, `
		INSERT INTO inventory_reservations (order_id, user_id, status, items, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (order_id) DO UPDATE
		SET status = EXCLUDED.status, reason = EXCLUDED.reason, updated_at = NOW()
		RETURNING created_at, updated_at
	`, res.OrderID, res.UserID, res.Status, res.Items, res.Reason).Scan(&res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("save reservation: %w", err)
	}

	return nil
}
