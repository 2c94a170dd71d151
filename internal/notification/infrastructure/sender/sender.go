package sender

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/sakashimaa/order-saga/internal/notification/domain"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Sender interface {
	Send(ctx context.Context, n domain.Notification) error
}

type logSender struct {
	logger *zap.Logger
}

// NewLogSender writes notifications to the log instead of delivering them.
func NewLogSender(logger *zap.Logger) Sender {
	return &logSender{logger: logger}
}

func (s *logSender) Send(ctx context.Context, n domain.Notification) error {
	mylogger.Info(
		ctx,
		s.logger,
		"Notification",
		zap.String("user_id", n.UserID),
		zap.String("order_id", n.OrderID.String()),
		zap.String("outcome", string(n.Outcome)),
		zap.String("subject", n.Subject()),
		zap.String("reason", n.Reason),
	)
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	// RecipientDomain builds the address "<user id>@<domain>".
	RecipientDomain string
}

type smtpSender struct {
	cfg    SMTPConfig
	logger *zap.Logger
	tracer trace.Tracer
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg SMTPConfig, logger *zap.Logger) Sender {
	return &smtpSender{
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("notification/infrastructure/sender"),
		send:   smtp.SendMail,
	}
}

func (s *smtpSender) Send(ctx context.Context, n domain.Notification) error {
	ctx, span := s.tracer.Start(ctx, "smtp.Send")
	defer span.End()

	to := fmt.Sprintf("%s@%s", n.UserID, s.cfg.RecipientDomain)
	span.SetAttributes(
		attribute.String("to", to),
		attribute.String("outcome", string(n.Outcome)),
	)

	subject := "Subject: " + n.Subject() + "\n"
	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte(subject + mime + n.Body())
	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)
	auth := smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)

	mylogger.Info(ctx, s.logger, "Sending order email", zap.String("to", to), zap.String("outcome", string(n.Outcome)))

	if err := s.send(addr, auth, s.cfg.User, []string{to}, msg); err != nil {
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Error sending order email", zap.String("to", to), zap.Error(err))
		return fmt.Errorf("failed to send mail: %w", err)
	}

	return nil
}
