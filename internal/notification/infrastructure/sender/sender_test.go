package sender

import (
	"context"
	"net/smtp"
	"testing"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/internal/notification/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSMTPSender(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{
		Host:            "smtp.local",
		Port:            "2525",
		User:            "shop@example.com",
		RecipientDomain: "example.com",
	}, zap.NewNop()).(*smtpSender)

	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotMsg  string
	)
	s.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, string(msg)
		return nil
	}

	n := domain.Notification{UserID: "user-1", OrderID: uuid.New(), Outcome: domain.OutcomePaymentFailed, Reason: "card expired"}
	require.NoError(t, s.Send(context.Background(), n))

	require.Equal(t, "smtp.local:2525", gotAddr)
	require.Equal(t, "shop@example.com", gotFrom)
	require.Equal(t, []string{"user-1@example.com"}, gotTo)
	require.Contains(t, gotMsg, "Subject: Payment for your order failed")
	require.Contains(t, gotMsg, "card expired")
}
