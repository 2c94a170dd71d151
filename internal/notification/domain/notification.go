package domain

import (
	"fmt"

	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeOrderConfirmed Outcome = "order_confirmed"
	OutcomePaymentFailed  Outcome = "payment_failed"
	OutcomeOrderCancelled Outcome = "order_cancelled"
)

type Notification struct {
	UserID  string
	OrderID uuid.UUID
	Outcome Outcome
	// Reason is set for failure outcomes.
	Reason        string
	Amount        int64
	TransactionID string
}

func (n Notification) Subject() string {
	switch n.Outcome {
	case OutcomeOrderConfirmed:
		return "Your order is confirmed"
	case OutcomePaymentFailed:
		return "Payment for your order failed"
	case OutcomeOrderCancelled:
		return "Your order was cancelled"
	default:
		return "Order update"
	}
}

func (n Notification) Body() string {
	switch n.Outcome {
	case OutcomeOrderConfirmed:
		return fmt.Sprintf(
			"<h1>Thank you for your order!</h1><p>Order %s is confirmed. We charged %s (transaction %s).</p>",
			n.OrderID, FormatAmount(n.Amount), n.TransactionID,
		)
	case OutcomePaymentFailed:
		return fmt.Sprintf(
			"<h1>We could not charge you</h1><p>Payment for order %s failed: %s. The order has been cancelled.</p>",
			n.OrderID, n.Reason,
		)
	case OutcomeOrderCancelled:
		return fmt.Sprintf(
			"<h1>Your order was cancelled</h1><p>Order %s could not be fulfilled: %s.</p>",
			n.OrderID, n.Reason,
		)
	default:
		return fmt.Sprintf("<p>Order %s was updated.</p>", n.OrderID)
	}
}

// FormatAmount renders minor units as a decimal amount, e.g. 4599 -> "45.99".
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
