package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sakashimaa/order-saga/internal/app"
	inventoryHTTP "github.com/sakashimaa/order-saga/internal/inventory/transport/http"
	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/httpserver"
	"github.com/sakashimaa/order-saga/pkg/mylogger"
	"go.uber.org/zap"
)

const serviceName = "inventory-service"

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

	inventory, err := app.NewInventoryStage(infra, logger)
	if err != nil {
		log.Fatalf("failed to start inventory stage: %v", err)
	}

	server := httpserver.New(httpserver.Config{
		AppName:    serviceName,
		Timeout:    cfg.HTTP.Timeout,
		RateLimit:  cfg.HTTP.RateLimit,
		RateWindow: cfg.HTTP.RateWindow,
	}, logger)
	inventoryHTTP.RegisterRoutes(server, inventoryHTTP.NewInventoryHandler(inventory, logger))

	go func() {
		mylogger.Info(ctx, logger, "HTTP server listening", zap.String("addr", cfg.HTTP.Port))
		if err := server.Listen(cfg.HTTP.Port); err != nil {
			mylogger.Error(ctx, logger, "HTTP server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mylogger.Info(shutdownCtx, logger, "Shutting down inventory service")

	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to shut down HTTP server", zap.Error(err))
	}
	if err := infra.Close(); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to close infrastructure", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		mylogger.Warn(shutdownCtx, logger, "Failed to shut down telemetry", zap.Error(err))
	}
}
