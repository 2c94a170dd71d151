package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/sakashimaa/order-saga/pkg/utils"
)

type Config struct {
	Env      string   `yaml:"env" env:"ENV" env-default:"local"`
	Log      Log      `yaml:"log"`
	HTTP     HTTP     `yaml:"http"`
	Postgres PG       `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Bus      Bus      `yaml:"bus"`
	Storage  Storage  `yaml:"storage"`
	Saga     Saga     `yaml:"saga"`
	Payment  Payment  `yaml:"payment"`
	Outbox   Outbox   `yaml:"outbox"`
	Metrics  Metrics  `yaml:"metrics"`
	Tracing  Tracing  `yaml:"tracing"`
	Notifier Notifier `yaml:"notifier"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type HTTP struct {
	Port    string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	Timeout time.Duration `yaml:"timeout" env-default:"4s"`
	// RateLimit is requests per IP per RateWindow; zero disables limiting.
	RateLimit  int           `yaml:"rate_limit" env:"HTTP_RATE_LIMIT" env-default:"20"`
	RateWindow time.Duration `yaml:"rate_window" env-default:"5s"`
}

type PG struct {
	URL            string `yaml:"url" env:"DB_URL"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
}

type Redis struct {
	// Enabled backs dedup and dead letters with Redis instead of memory.
	Enabled  bool          `yaml:"enabled" env:"REDIS_ENABLED" env-default:"true"`
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	DedupTTL time.Duration `yaml:"dedup_ttl" env:"REDIS_DEDUP_TTL" env-default:"168h"`
}

type Kafka struct {
	Brokers  []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	Exchange string   `yaml:"exchange" env:"KAFKA_EXCHANGE" env-default:"order_management_exchange"`
}

type Bus struct {
	// Driver is "kafka" or "memory".
	Driver               string        `yaml:"driver" env:"BUS_DRIVER" env-default:"kafka"`
	MaxRedeliveries      int           `yaml:"max_redeliveries" env:"BUS_MAX_REDELIVERIES" env-default:"0"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval" env-default:"200ms"`
	RetryMaxInterval     time.Duration `yaml:"retry_max_interval" env-default:"10s"`
	DeadLetterPrefix     string        `yaml:"dead_letter_prefix" env-default:"saga:dlq:"`
}

type Storage struct {
	// Driver is "postgres" or "memory".
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
}

type Saga struct {
	MarkProcessingOnReserve bool `yaml:"mark_processing_on_reserve" env:"SAGA_MARK_PROCESSING_ON_RESERVE" env-default:"false"`
}

type Payment struct {
	// Strategy is "probabilistic", "approve" or "decline".
	Strategy      string  `yaml:"strategy" env:"PAYMENT_STRATEGY" env-default:"probabilistic"`
	SuccessRate   float64 `yaml:"success_rate" env:"PAYMENT_SUCCESS_RATE" env-default:"0.9"`
	DeclineReason string  `yaml:"decline_reason" env-default:"Payment gateway declined transaction"`
	Breaker       Breaker `yaml:"breaker"`
}

type Breaker struct {
	MaxRequests         uint32        `yaml:"max_requests" env-default:"3"`
	Interval            time.Duration `yaml:"interval" env-default:"30s"`
	Timeout             time.Duration `yaml:"timeout" env-default:"15s"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" env-default:"5"`
}

type Outbox struct {
	BatchSize int           `yaml:"batch_size" env-default:"50"`
	Interval  time.Duration `yaml:"interval" env-default:"500ms"`
}

type Metrics struct {
	Addr string `yaml:"addr" env:"METRICS_ADDR" env-default:":2112"`
}

type Tracing struct {
	Enabled  bool   `yaml:"enabled" env:"TRACING_ENABLED" env-default:"true"`
	Endpoint string `yaml:"endpoint" env:"JAEGER_ENDPOINT" env-default:"localhost:4318"`
}

type Notifier struct {
	// Sender is "log" or "smtp".
	Sender   string `yaml:"sender" env:"NOTIFIER_SENDER" env-default:"log"`
	SMTPHost string `yaml:"smtp_host" env:"SMTP_HOST"`
	SMTPPort string `yaml:"smtp_port" env:"SMTP_PORT" env-default:"587"`
	SMTPUser string `yaml:"smtp_user" env:"SMTP_USER"`
	SMTPPass string `yaml:"smtp_password" env:"SMTP_PASSWORD"`
	// RecipientDomain turns a user id into "<user id>@<domain>".
	RecipientDomain string `yaml:"recipient_domain" env-default:"example.com"`
}

func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %w", err)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	configPath := utils.EnvOr("CONFIG_PATH", "./config/local.yaml")

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}

	return cfg
}
