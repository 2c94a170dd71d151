package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestFormatAmount(t *testing.T) {
	require.Equal(t, "45.99", FormatAmount(4599))
	require.Equal(t, "0.05", FormatAmount(5))
	require.Equal(t, "-1.00", FormatAmount(-100))
}

func TestNotification_Body(t *testing.T) {
	orderID := uuid.New()

	confirmed := Notification{OrderID: orderID, Outcome: OutcomeOrderConfirmed, Amount: 1250, TransactionID: "TXN-1"}
	require.Contains(t, confirmed.Body(), "12.50")
	require.Contains(t, confirmed.Body(), "TXN-1")
	require.Equal(t, "Your order is confirmed", confirmed.Subject())

	cancelled := Notification{OrderID: orderID, Outcome: OutcomeOrderCancelled, Reason: "Insufficient stock available"}
	require.Contains(t, cancelled.Body(), orderID.String())
	require.Contains(t, cancelled.Body(), "Insufficient stock available")
}
