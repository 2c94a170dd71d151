// Package testsuite starts the containers the integration tests run against.
package testsuite

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/order-saga/pkg/db"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

type BaseSuite struct {
	suite.Suite
	PgContainer    *postgres.PostgresContainer
	KafkaContainer *kafka.KafkaContainer
	RedisContainer *tcredis.RedisContainer

	DbPool       *pgxpool.Pool
	DbURL        string
	Redis        *redis.Client
	RedisAddr    string
	KafkaBrokers []string
	Ctx          context.Context
}

// SetupInfrastructure starts Postgres, Kafka and Redis and applies the
// migrations found at migrationsRelPath.
func (s *BaseSuite) SetupInfrastructure(migrationsRelPath string) {
	s.Ctx = context.Background()

	var err error
	s.PgContainer, err = postgres.Run(
		s.Ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)

	s.DbURL, err = s.PgContainer.ConnectionString(s.Ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.KafkaContainer, err = kafka.Run(
		s.Ctx,
		"confluentinc/cp-kafka:7.5.0",
		kafka.WithClusterID("test-cluster"),
	)
	s.Require().NoError(err)

	s.KafkaBrokers, err = s.KafkaContainer.Brokers(s.Ctx)
	s.Require().NoError(err)

	s.RedisContainer, err = tcredis.Run(s.Ctx, "redis:7-alpine")
	s.Require().NoError(err)

	redisURI, err := s.RedisContainer.ConnectionString(s.Ctx)
	s.Require().NoError(err)
	s.RedisAddr = strings.TrimPrefix(redisURI, "redis://")
	s.Redis = redis.NewClient(&redis.Options{Addr: s.RedisAddr})

	log.Printf("🔨 Running migrations from: %s", migrationsRelPath)
	s.Require().NoError(db.RunMigrations(migrationsRelPath, s.DbURL, zap.NewNop()))

	s.DbPool, err = db.NewPostgresDB(s.Ctx, s.DbURL)
	s.Require().NoError(err)
}

func (s *BaseSuite) TearDownInfrastructure() {
	if s.DbPool != nil {
		s.DbPool.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}

	if s.PgContainer != nil {
		terminate(s.Ctx, "postgres", s.PgContainer)
	}
	if s.KafkaContainer != nil {
		terminate(s.Ctx, "kafka", s.KafkaContainer)
	}
	if s.RedisContainer != nil {
		terminate(s.Ctx, "redis", s.RedisContainer)
	}
}

func terminate(ctx context.Context, name string, c testcontainers.Container) {
	if err := c.Terminate(ctx); err != nil {
		log.Printf("Failed to terminate %s container: %v", name, err)
	}
}

func (s *BaseSuite) TruncateTables(tables ...string) {
	_, err := s.DbPool.Exec(s.Ctx, fmt.Sprintf("TRUNCATE %s CASCADE", strings.Join(tables, ", ")))
	s.Require().NoError(err)
	s.Require().NoError(s.Redis.FlushDB(s.Ctx).Err())
}
