package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderItem is the line-item snapshot carried by saga events. Price and name
// are captured at order time and never re-read from the catalogue.
type OrderItem struct {
	ProductID   uuid.UUID `json:"product_id" db:"product_id"`
	ProductName string    `json:"product_name" db:"product_name"`
	Quantity    int32     `json:"quantity" db:"quantity"`
	UnitPrice   int64     `json:"unit_price" db:"unit_price"`
}

func (i OrderItem) LineTotal() int64 {
	return int64(i.Quantity) * i.UnitPrice
}

// ItemsTotal sums quantity × unit price over items.
func ItemsTotal(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.LineTotal()
	}
	return total
}

type OrderCreatedEvent struct {
	OrderID     uuid.UUID   `json:"order_id"`
	UserID      string      `json:"user_id"`
	CreatedAt   time.Time   `json:"created_at"`
	TotalAmount int64       `json:"total_amount"`
	Items       []OrderItem `json:"items"`
}

type InventoryReservedEvent struct {
	OrderID    uuid.UUID   `json:"order_id"`
	UserID     string      `json:"user_id"`
	Items      []OrderItem `json:"items"`
	ReservedAt time.Time   `json:"reserved_at"`
}

type InventoryReservationFailedEvent struct {
	OrderID  uuid.UUID `json:"order_id"`
	UserID   string    `json:"user_id"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

type PaymentProcessedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	UserID        string    `json:"user_id"`
	Amount        int64     `json:"amount"`
	TransactionID string    `json:"transaction_id"`
	ProcessedAt   time.Time `json:"processed_at"`
}

type PaymentFailedEvent struct {
	OrderID  uuid.UUID `json:"order_id"`
	UserID   string    `json:"user_id"`
	Amount   int64     `json:"amount"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}
