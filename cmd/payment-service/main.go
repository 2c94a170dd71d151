package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sakashimaa/order-saga/internal/app"
	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/metrics"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.uber.org/zap"
)

const serviceName = "payment-service"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()

	logger, err := config.NewLogger(cfg.LoggerConfig(serviceName))
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	shutdownTracing, err := app.InitTracing(ctx, cfg, serviceName)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}

	infra, err := app.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to open infrastructure: %v", err)
	}

	if _, err := app.NewPaymentStage(cfg, infra, logger); err != nil {
		log.Fatalf("failed to start payment stage: %v", err)
	}

	metricsServer := metrics.Serve(cfg.Metrics.Addr)
	mylogger.Info(ctx, logger, "Payment service started", zap.String("strategy", cfg.Payment.Strategy))

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mylogger.Info(shutdownCtx, logger, "Shutting down payment service")

	if err := infra.Close(); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to close infrastructure", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to shut down metrics server", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to shut down telemetry", zap.Error(err))
	}
}
