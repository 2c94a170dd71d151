package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/internal/inventory/domain"
	sagadomain "github.com/sakashimaa/order-saga/pkg/domain"
)

type holdKey struct {
	orderID   uuid.UUID
	productID uuid.UUID
}

// memoryRepo locks per product. Lock order is product, then mu.
type memoryRepo struct {
	locks sync.Map // uuid.UUID -> *sync.Mutex

	mu           sync.Mutex
	records      map[uuid.UUID]*domain.Record
	holds        map[holdKey]*domain.Hold
	holdOrder    map[uuid.UUID][]uuid.UUID
	reservations map[uuid.UUID]*domain.Reservation
}

func NewMemoryRepository() InventoryRepository {
	return &memoryRepo{
		records:      make(map[uuid.UUID]*domain.Record),
		holds:        make(map[holdKey]*domain.Hold),
		holdOrder:    make(map[uuid.UUID][]uuid.UUID),
		reservations: make(map[uuid.UUID]*domain.Reservation),
	}
}

func (r *memoryRepo) lock(productID uuid.UUID) func() {
	m, _ := r.locks.LoadOrStore(productID, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (r *memoryRepo) SetStock(_ context.Context, productID uuid.UUID, total int64) (*domain.Record, error) {
	if total < 0 {
		return nil, fmt.Errorf("%w: total %d", ErrInvalidQuantity, total)
	}

	defer r.lock(productID)()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[productID]
	if !ok {
		rec = &domain.Record{ProductID: productID}
		r.records[productID] = rec
	}
	if total < rec.Reserved {
		return nil, fmt.Errorf("%w: total %d, reserved %d", ErrStockBelowReserved, total, rec.Reserved)
	}
	rec.Total = total
	rec.UpdatedAt = time.Now().UTC()

	out := *rec
	return &out, nil
}

func (r *memoryRepo) GetRecord(_ context.Context, productID uuid.UUID) (*domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[productID]
	if !ok {
		return nil, ErrProductNotFound
	}
	out := *rec
	return &out, nil
}

// mutate runs fn on a copy of the record under the product lock and stores
// the copy only when fn succeeds.
func (r *memoryRepo) mutate(productID uuid.UUID, fn func(rec *domain.Record) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[productID]
	if !ok {
		return ErrProductNotFound
	}

	next := *rec
	if err := fn(&next); err != nil {
		return err
	}
	next.UpdatedAt = time.Now().UTC()
	*rec = next
	return nil
}

func (r *memoryRepo) Reserve(_ context.Context, productID uuid.UUID, qty int64) error {
	if err := checkQuantity(qty); err != nil {
		return err
	}
	defer r.lock(productID)()
	return r.mutate(productID, func(rec *domain.Record) error { return applyReserve(rec, qty) })
}

func (r *memoryRepo) Release(_ context.Context, productID uuid.UUID, qty int64) error {
	if err := checkQuantity(qty); err != nil {
		return err
	}
	defer r.lock(productID)()
	return r.mutate(productID, func(rec *domain.Record) error { return applyRelease(rec, qty) })
}

func (r *memoryRepo) Confirm(_ context.Context, productID uuid.UUID, qty int64) error {
	if err := checkQuantity(qty); err != nil {
		return err
	}
	defer r.lock(productID)()
	return r.mutate(productID, func(rec *domain.Record) error { return applyConfirm(rec, qty) })
}

func (r *memoryRepo) HoldItem(_ context.Context, orderID, productID uuid.UUID, qty int64) error {
	if err := checkQuantity(qty); err != nil {
		return err
	}
	defer r.lock(productID)()

	key := holdKey{orderID: orderID, productID: productID}

	r.mu.Lock()
	hold, exists := r.holds[key]
	if exists && hold.Status != domain.HoldReleased {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	if err := r.mutate(productID, func(rec *domain.Record) error { return applyReserve(rec, qty) }); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if exists {
		hold.Quantity = qty
		hold.Status = domain.HoldHeld
		return nil
	}
	r.holds[key] = &domain.Hold{OrderID: orderID, ProductID: productID, Quantity: qty, Status: domain.HoldHeld}
	r.holdOrder[orderID] = append(r.holdOrder[orderID], productID)
	return nil
}

func (r *memoryRepo) ReleaseHold(_ context.Context, orderID, productID uuid.UUID) error {
	return r.settleHold(orderID, productID, domain.HoldReleased, applyRelease)
}

func (r *memoryRepo) ConfirmHold(_ context.Context, orderID, productID uuid.UUID) error {
	return r.settleHold(orderID, productID, domain.HoldConfirmed, applyConfirm)
}

func (r *memoryRepo) settleHold(orderID, productID uuid.UUID, to domain.HoldStatus, apply func(*domain.Record, int64) error) error {
	defer r.lock(productID)()

	key := holdKey{orderID: orderID, productID: productID}

	r.mu.Lock()
	hold, ok := r.holds[key]
	r.mu.Unlock()
	if !ok || hold.Status != domain.HoldHeld {
		return nil
	}

	if err := r.mutate(productID, func(rec *domain.Record) error { return apply(rec, hold.Quantity) }); err != nil {
		return err
	}

	r.mu.Lock()
	hold.Status = to
	r.mu.Unlock()
	return nil
}

func (r *memoryRepo) Holds(_ context.Context, orderID uuid.UUID) ([]domain.Hold, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	products := r.holdOrder[orderID]
	out := make([]domain.Hold, 0, len(products))
	for _, productID := range products {
		out = append(out, *r.holds[holdKey{orderID: orderID, productID: productID}])
	}
	return out, nil
}

func (r *memoryRepo) GetReservation(_ context.Context, orderID uuid.UUID) (*domain.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, ok := r.reservations[orderID]
	if !ok {
		return nil, ErrReservationNotFound
	}
	out := *res
	out.Items = append([]sagadomain.OrderItem(nil), res.Items...)
	return &out, nil
}

func (r *memoryRepo) SaveReservation(_ context.Context, reservation *domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	stored := *reservation
	stored.Items = append([]sagadomain.OrderItem(nil), reservation.Items...)
	if existing, ok := r.reservations[reservation.OrderID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.reservations[reservation.OrderID] = &stored

	reservation.CreatedAt = stored.CreatedAt
	reservation.UpdatedAt = stored.UpdatedAt
	return nil
}
