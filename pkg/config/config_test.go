package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: prod
kafka:
  brokers: ["k1:9092", "k2:9092"]
bus:
  driver: memory
  max_redeliveries: 5
saga:
  mark_processing_on_reserve: true
payment:
  strategy: approve
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "prod", cfg.Env)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	require.Equal(t, "order_management_exchange", cfg.Kafka.Exchange)
	require.Equal(t, "memory", cfg.Bus.Driver)
	require.Equal(t, 5, cfg.Bus.MaxRedeliveries)
	require.Equal(t, 200*time.Millisecond, cfg.Bus.RetryInitialInterval)
	require.True(t, cfg.Saga.MarkProcessingOnReserve)
	require.Equal(t, "approve", cfg.Payment.Strategy)
	require.InDelta(t, 0.9, cfg.Payment.SuccessRate, 1e-9)
	require.Equal(t, "Payment gateway declined transaction", cfg.Payment.DeclineReason)
	require.Equal(t, 50, cfg.Outbox.BatchSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	cfg := &config.Config{Env: "local", Log: config.Log{Level: "debug"}}

	logger, err := config.NewLogger(cfg.LoggerConfig("inventory-service"))
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = config.NewLogger(config.LoggerConfig{Level: "loud"})
	require.Error(t, err)
}
