package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/autoparts/internal/service/payment"
	"github.com/vladislavdragonenkov/autoparts/internal/service/pricing"
	"github.com/vladislavdragonenkov/autoparts/internal/tracing"
)

// Драйверы хранилища заказов и каталога.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverMongo    = "mongo"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	StorageDriver       string `yaml:"storage_driver"`
	PostgresDSN         string `yaml:"postgres_dsn"`
	PostgresAutoMigrate bool   `yaml:"postgres_auto_migrate"`
	MongoURI            string `yaml:"mongo_uri"`
	MongoDatabase       string `yaml:"mongo_database"`
	// RedisAddr включает Redis как хранилище ключей идемпотентности.
	RedisAddr string `yaml:"redis_addr"`

	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`

	OutboxPollInterval time.Duration `yaml:"outbox_poll_interval"`
	OutboxBatchSize    int           `yaml:"outbox_batch_size"`
	OutboxMaxAttempts  int           `yaml:"outbox_max_attempts"`
	OutboxRetryDelay   time.Duration `yaml:"outbox_retry_delay"`

	IdempotencyTTL              time.Duration `yaml:"idempotency_ttl"`
	IdempotencyCleanupInterval  time.Duration `yaml:"idempotency_cleanup_interval"`
	IdempotencyCleanupBatchSize int           `yaml:"idempotency_cleanup_batch_size"`

	Pricing      pricing.Config      `yaml:"pricing"`
	Payment      payment.Config      `yaml:"payment"`
	PaymentRetry payment.RetryConfig `yaml:"payment_retry"`
	Tracing      tracing.Config      `yaml:"tracing"`
}

// DefaultConfig возвращает конфигурацию для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		MongoDatabase:       "autoparts",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  5,
		OutboxRetryDelay:   500 * time.Millisecond,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,

		Pricing:      pricing.DefaultConfig(),
		Payment:      payment.Config{Delay: 50 * time.Millisecond, DeclineRate: 0.1, TemporaryFailureRate: 0.05},
		PaymentRetry: payment.DefaultRetryConfig(),
		Tracing:      tracing.DefaultConfig(),
	}
}

// LoadFile накладывает YAML-файл поверх cfg. Отсутствующие в файле ключи не меняются.
func LoadFile(path string, cfg *Config) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate проверяет согласованность настроек перед запуском.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres storage requires postgres dsn"))
		}
	case StorageDriverMongo:
		if c.MongoURI == "" {
			errs = append(errs, errors.New("mongo storage requires mongo uri"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http addr is required"))
	}
	if err := c.Pricing.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, err)
	}
	if !validRate(c.Payment.DeclineRate) || !validRate(c.Payment.TemporaryFailureRate) {
		errs = append(errs, errors.New("payment failure rates must be in [0, 1]"))
	}
	if c.PaymentRetry.MaxAttempts < 1 {
		errs = append(errs, errors.New("payment retry max attempts must be >= 1"))
	}
	return errors.Join(errs...)
}

func validRate(v float64) bool { return v >= 0 && v <= 1 }
