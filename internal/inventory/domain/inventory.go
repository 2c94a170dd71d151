package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/pkg/domain"
)

// Record tracks stock of one product. 0 <= Reserved <= Total always holds.
type Record struct {
	ProductID uuid.UUID `json:"product_id" db:"product_id"`
	Total     int64     `json:"total" db:"total"`
	Reserved  int64     `json:"reserved" db:"reserved"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

func (r Record) Available() int64 {
	return r.Total - r.Reserved
}

type HoldStatus string

const (
	HoldHeld      HoldStatus = "held"
	HoldReleased  HoldStatus = "released"
	HoldConfirmed HoldStatus = "confirmed"
)

// Hold is the quantity of one product reserved for one order.
type Hold struct {
	OrderID   uuid.UUID  `db:"order_id"`
	ProductID uuid.UUID  `db:"product_id"`
	Quantity  int64      `db:"quantity"`
	Status    HoldStatus `db:"status"`
}

type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "reserved"
	ReservationRejected  ReservationStatus = "rejected"
	ReservationReleased  ReservationStatus = "released"
	ReservationConfirmed ReservationStatus = "confirmed"
)

// Reservation is the ledger entry of an order's reservation outcome.
type Reservation struct {
	OrderID   uuid.UUID          `json:"order_id" db:"order_id"`
	UserID    string             `json:"user_id" db:"user_id"`
	Status    ReservationStatus  `json:"status" db:"status"`
	Items     []domain.OrderItem `json:"items" db:"items"`
	Reason    string             `json:"reason,omitempty" db:"reason"`
	CreatedAt time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt time.Time          `json:"updated_at" db:"updated_at"`
}

// Demand merges order lines by product, keeping first-seen product order.
func Demand(items []domain.OrderItem) ([]uuid.UUID, map[uuid.UUID]int64) {
	order := make([]uuid.UUID, 0, len(items))
	qty := make(map[uuid.UUID]int64, len(items))
	for _, item := range items {
		if _, ok := qty[item.ProductID]; !ok {
			order = append(order, item.ProductID)
		}
		qty[item.ProductID] += int64(item.Quantity)
	}
	return order, qty
}
