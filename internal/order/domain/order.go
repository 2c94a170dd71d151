package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/pkg/domain"
)

type Status int

const (
	StatusPending Status = iota
	StatusProcessing
	StatusConfirmed
	StatusShipped
	StatusDelivered
	StatusCancelled
)

var statusNames = [...]string{"pending", "processing", "confirmed", "shipped", "delivered", "cancelled"}

var ErrIllegalTransition = errors.New("illegal order status transition")

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

func ParseStatus(v string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(name, v) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown order status %q", v)
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// transitions lists forward moves. Cancelled is reachable from every
// non-terminal state and handled separately.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusConfirmed},
	StatusProcessing: {StatusConfirmed},
	StatusConfirmed:  {StatusShipped},
	StatusShipped:    {StatusDelivered},
}

func (s Status) CanTransitionTo(to Status) bool {
	if s.IsTerminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

type Order struct {
	ID              uuid.UUID          `json:"id"`
	UserID          string             `json:"user_id"`
	Status          Status             `json:"status"`
	TotalAmount     int64              `json:"total_amount"`
	Items           []domain.OrderItem `json:"items"`
	ShippingAddress *string            `json:"shipping_address,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Transition moves the order to status to. Re-applying the current status
// reports changed == false and no error.
func (o *Order) Transition(to Status, at time.Time) (changed bool, err error) {
	if o.Status == to {
		return false, nil
	}
	if !o.Status.CanTransitionTo(to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = at
	return true, nil
}

type CreateOrderItem struct {
	ProductID   string `json:"product_id" validate:"required,uuid"`
	ProductName string `json:"product_name" validate:"required"`
	Quantity    int32  `json:"quantity" validate:"gte=1"`
	UnitPrice   int64  `json:"unit_price" validate:"gte=0"`
}

type CreateOrderRequest struct {
	UserID          string            `json:"-" validate:"required"`
	ShippingAddress *string           `json:"shipping_address,omitempty"`
	Items           []CreateOrderItem `json:"items" validate:"required,min=1,dive"`
}
