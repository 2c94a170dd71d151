package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/internal/inventory/domain"
)

// InventoryRepository serializes every stock change per product. Each method
// is atomic on its own; multi-product atomicity is built on top by the
// service through holds and compensation.
type InventoryRepository interface {
	// SetStock creates the record or replaces its total.
	SetStock(ctx context.Context, productID uuid.UUID, total int64) (*domain.Record, error)
	GetRecord(ctx context.Context, productID uuid.UUID) (*domain.Record, error)

	Reserve(ctx context.Context, productID uuid.UUID, qty int64) error
	Release(ctx context.Context, productID uuid.UUID, qty int64) error
	Confirm(ctx context.Context, productID uuid.UUID, qty int64) error

	// HoldItem reserves qty for orderID. It is a no-op while the pair already
	// has a held or confirmed hold; a released hold is reserved again.
	HoldItem(ctx context.Context, orderID, productID uuid.UUID, qty int64) error
	// ReleaseHold and ConfirmHold act only on a hold in status held.
	ReleaseHold(ctx context.Context, orderID, productID uuid.UUID) error
	ConfirmHold(ctx context.Context, orderID, productID uuid.UUID) error
	Holds(ctx context.Context, orderID uuid.UUID) ([]domain.Hold, error)

	GetReservation(ctx context.Context, orderID uuid.UUID) (*domain.Reservation, error)
	SaveReservation(ctx context.Context, reservation *domain.Reservation) error
}

func checkQuantity(qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// applyReserve, applyRelease and applyConfirm hold the stock arithmetic shared
// by both stores. They leave rec untouched on error.
func applyReserve(rec *domain.Record, qty int64) error {
	if rec.Available() < qty {
		return ErrInsufficientStock
	}
	rec.Reserved += qty
	return nil
}

func applyRelease(rec *domain.Record, qty int64) error {
	if rec.Reserved < qty {
		return ErrReleaseExceedsReserved
	}
	rec.Reserved -= qty
	return nil
}

func applyConfirm(rec *domain.Record, qty int64) error {
	if rec.Reserved < qty {
		return ErrReleaseExceedsReserved
	}
	rec.Reserved -= qty
	rec.Total -= qty
	return nil
}
