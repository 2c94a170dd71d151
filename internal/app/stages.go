package app

import (
	"github.com/sakashimaa/order-saga/internal/inventory/repository"
	inventoryService "github.com/sakashimaa/order-saga/internal/inventory/service"
	inventoryConsumer "github.com/sakashimaa/order-saga/internal/inventory/transport/consumer"
	"github.com/sakashimaa/order-saga/internal/notification/infrastructure/sender"
	notificationService "github.com/sakashimaa/order-saga/internal/notification/service"
	notificationConsumer "github.com/sakashimaa/order-saga/internal/notification/transport/consumer"
	orderRepository "github.com/sakashimaa/order-saga/internal/order/repository"
	orderService "github.com/sakashimaa/order-saga/internal/order/service"
	orderConsumer "github.com/sakashimaa/order-saga/internal/order/transport/consumer"
	paymentRepository "github.com/sakashimaa/order-saga/internal/payment/repository"
	paymentService "github.com/sakashimaa/order-saga/internal/payment/service"
	paymentConsumer "github.com/sakashimaa/order-saga/internal/payment/transport/consumer"
	"github.com/sakashimaa/order-saga/pkg/config"
	outboxRepository "github.com/sakashimaa/order-saga/pkg/outbox/repository"
	"github.com/sakashimaa/order-saga/pkg/outbox/worker"
	"go.uber.org/zap"
)

type OrderStage struct {
	Service orderService.OrderService
	Relay   *worker.OutboxProcessor
}

// NewOrderStage builds the order service with its outbox relay and
// subscribes its consumer.
func NewOrderStage(cfg *config.Config, infra *Infra, logger *zap.Logger) (*OrderStage, error) {
	var (
		repo   orderRepository.OrderRepository
		outbox worker.OutboxRepository
	)
	if infra.Pool != nil {
		pgOutbox := outboxRepository.NewOutboxRepository(infra.Pool, logger)
		repo = orderRepository.NewOrderRepository(infra.Pool, pgOutbox, logger)
		outbox = pgOutbox
	} else {
		memOutbox := outboxRepository.NewMemoryOutbox()
		repo = orderRepository.NewMemoryRepository(memOutbox)
		outbox = memOutbox
	}

	svc := orderService.NewOrderService(repo, logger, orderService.Options{
		MarkProcessingOnReserve: cfg.Saga.MarkProcessingOnReserve,
	})

	if err := orderConsumer.NewConsumer(svc, infra.DedupStore("order"), logger).Register(infra.Bus); err != nil {
		return nil, err
	}

	return &OrderStage{
		Service: svc,
		Relay:   worker.NewOutboxProcessor(outbox, infra.Bus, logger, cfg.Outbox.BatchSize, cfg.Outbox.Interval),
	}, nil
}

func NewInventoryStage(infra *Infra, logger *zap.Logger) (inventoryService.InventoryService, error) {
	var repo repository.InventoryRepository
	if infra.Pool != nil {
		repo = repository.NewInventoryRepository(infra.Pool, logger)
	} else {
		repo = repository.NewMemoryRepository()
	}

	svc := inventoryService.NewInventoryService(repo, infra.Bus, logger)
	if err := inventoryConsumer.NewConsumer(svc, logger).Register(infra.Bus); err != nil {
		return nil, err
	}
	return svc, nil
}

func NewPaymentStage(cfg *config.Config, infra *Infra, logger *zap.Logger) (paymentService.PaymentService, error) {
	var repo paymentRepository.PaymentRepository
	if infra.Pool != nil {
		repo = paymentRepository.NewPaymentRepository(infra.Pool, logger)
	} else {
		repo = paymentRepository.NewMemoryRepository()
	}

	svc := paymentService.NewPaymentService(repo, CaptureStrategy(cfg.Payment, logger), infra.Bus, logger)
	if err := paymentConsumer.NewConsumer(svc, logger).Register(infra.Bus); err != nil {
		return nil, err
	}
	return svc, nil
}

// CaptureStrategy builds the configured gateway behind a circuit breaker.
func CaptureStrategy(cfg config.Payment, logger *zap.Logger) paymentService.CaptureStrategy {
	var strategy paymentService.CaptureStrategy
	switch cfg.Strategy {
	case "approve":
		strategy = paymentService.AlwaysApprove{}
	case "decline":
		strategy = paymentService.AlwaysDecline{Reason: cfg.DeclineReason}
	default:
		strategy = paymentService.NewProbabilistic(cfg.SuccessRate, cfg.DeclineReason, nil)
	}

	return paymentService.NewBreakerCapture(strategy, paymentService.BreakerSettings{
		MaxRequests:         cfg.Breaker.MaxRequests,
		Interval:            cfg.Breaker.Interval,
		Timeout:             cfg.Breaker.Timeout,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
	}, logger)
}

func NewNotificationStage(cfg *config.Config, infra *Infra, logger *zap.Logger) (*notificationService.NotificationService, error) {
	var snd sender.Sender
	if cfg.Notifier.Sender == "smtp" {
		snd = sender.NewSMTPSender(sender.SMTPConfig{
			Host:            cfg.Notifier.SMTPHost,
			Port:            cfg.Notifier.SMTPPort,
			User:            cfg.Notifier.SMTPUser,
			Password:        cfg.Notifier.SMTPPass,
			RecipientDomain: cfg.Notifier.RecipientDomain,
		}, logger)
	} else {
		snd = sender.NewLogSender(logger)
	}

	svc := notificationService.NewNotificationService(snd, logger)
	if err := notificationConsumer.NewConsumer(svc, infra.DedupStore("notification"), logger).Register(infra.Bus); err != nil {
		return nil, err
	}
	return svc, nil
}
