// Package app wires saga stages to the infrastructure selected in config.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/order-saga/pkg/config"
	"github.com/sakashimaa/order-saga/pkg/db"
	"github.com/sakashimaa/order-saga/pkg/dedup"
	"github.com/sakashimaa/order-saga/pkg/eventbus"
	"go.uber.org/zap"
)

const (
	StorageMemory = "memory"
	BusMemory     = "memory"
)

// Infra holds the connections a stage process shares between its stages.
// Pool and Redis are nil when the matching backend runs in memory.
type Infra struct {
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Bus         eventbus.Bus
	DeadLetters eventbus.DeadLetterSink

	cfg     *config.Config
	closers []func() error
}

func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Infra, err error) {
	infra := &Infra{cfg: cfg}
	defer func() {
		if err != nil {
			_ = infra.Close()
		}
	}()

	if cfg.Storage.Driver != StorageMemory {
		if err := db.RunMigrations(cfg.Postgres.MigrationsPath, cfg.Postgres.URL, logger); err != nil {
			return nil, err
		}

		pool, err := db.NewPostgresDB(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, err
		}
		infra.Pool = pool
		infra.closers = append(infra.closers, func() error {
			pool.Close()
			return nil
		})
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		infra.Redis = client
		infra.closers = append(infra.closers, client.Close)
		infra.DeadLetters = eventbus.NewRedisDeadLetters(client, cfg.Bus.DeadLetterPrefix)
	} else {
		infra.DeadLetters = eventbus.NewMemoryDeadLetters()
	}

	bus, err := NewBus(cfg, infra.DeadLetters, logger)
	if err != nil {
		return nil, err
	}
	infra.Bus = bus

	return infra, nil
}

func NewBus(cfg *config.Config, deadLetters eventbus.DeadLetterSink, logger *zap.Logger) (eventbus.Bus, error) {
	opts := eventbus.Options{
		MaxRedeliveries:      cfg.Bus.MaxRedeliveries,
		DeadLetters:          deadLetters,
		RetryInitialInterval: cfg.Bus.RetryInitialInterval,
		RetryMaxInterval:     cfg.Bus.RetryMaxInterval,
	}

	if cfg.Bus.Driver == BusMemory {
		return eventbus.NewMemoryBus(logger, opts), nil
	}

	return eventbus.NewKafkaBus(eventbus.KafkaConfig{
		Brokers:  cfg.Kafka.Brokers,
		Exchange: cfg.Kafka.Exchange,
	}, logger, opts)
}

// DedupStore returns a store whose keys do not collide with other
// consumers sharing the same Redis.
func (i *Infra) DedupStore(consumer string) dedup.Store {
	if i.Redis == nil {
		return dedup.NewMemoryStore(i.cfg.Redis.DedupTTL)
	}
	return dedup.NewRedisStore(i.Redis, "saga:dedup:"+consumer+":", i.cfg.Redis.DedupTTL)
}

// Close stops the bus first so no handler runs against closed stores.
func (i *Infra) Close() error {
	var errs []error
	if i.Bus != nil {
		errs = append(errs, i.Bus.Close())
	}
	for j := len(i.closers) - 1; j >= 0; j-- {
		errs = append(errs, i.closers[j]())
	}
	return errors.Join(errs...)
}
