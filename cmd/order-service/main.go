package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/autoparts/internal/app"
	"github.com/vladislavdragonenkov/autoparts/internal/version"
)

const (
	envConfigFile = "OMS_CONFIG_FILE"
	envLogLevel   = "OMS_LOG_LEVEL"
	envLogFormat  = "OMS_LOG_FORMAT"

	envHTTPAddr    = "OMS_HTTP_ADDR"
	envGRPCAddr    = "OMS_GRPC_ADDR"
	envMetricsAddr = "OMS_METRICS_ADDR"

	envStorageDriver       = "OMS_STORAGE_DRIVER"
	envPostgresDSN         = "OMS_POSTGRES_DSN"
	envPostgresAutoMigrate = "OMS_POSTGRES_AUTO_MIGRATE"
	envMongoURI            = "OMS_MONGO_URI"
	envMongoDatabase       = "OMS_MONGO_DATABASE"
	envRedisAddr           = "OMS_REDIS_ADDR"

	envKafkaBrokers = "OMS_KAFKA_BROKERS"
	envKafkaTopic   = "OMS_KAFKA_TOPIC"

	envOutboxPollInterval = "OMS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize    = "OMS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts  = "OMS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay   = "OMS_OUTBOX_RETRY_DELAY"

	envIdempotencyTTL              = "OMS_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "OMS_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "OMS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"

	envTaxRate               = "OMS_TAX_RATE"
	envFreeShippingThreshold = "OMS_FREE_SHIPPING_THRESHOLD"
	envShippingFee           = "OMS_SHIPPING_FEE"

	envPaymentDelay       = "OMS_PAYMENT_DELAY"
	envPaymentDeclineRate = "OMS_PAYMENT_DECLINE_RATE"
	envPaymentFailureRate = "OMS_PAYMENT_FAILURE_RATE"

	envTraceExporter = "OMS_TRACE_EXPORTER"
)

type envLookup func(key string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	if format, _ := lookup(envLogFormat); strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	level := log.InfoLevel
	if raw, ok := lookup(envLogLevel); ok && strings.TrimSpace(raw) != "" {
		parsed, err := log.ParseLevel(strings.TrimSpace(raw))
		if err != nil {
			log.WithError(err).Warn("invalid log level, using info")
		} else {
			level = parsed
		}
	}
	log.SetLevel(level)
}

// readConfig собирает конфигурацию: значения по умолчанию, затем YAML-файл
// из OMS_CONFIG_FILE, затем переменные окружения.
func readConfig(lookup envLookup) (app.Config, []string, error) {
	cfg := app.DefaultConfig()
	if path, ok := lookup(envConfigFile); ok && strings.TrimSpace(path) != "" {
		if err := app.LoadFile(strings.TrimSpace(path), &cfg); err != nil {
			return app.Config{}, nil, err
		}
	}
	cfg, warnings := applyEnv(cfg, lookup)
	return cfg, warnings, nil
}

// readConfigFromEnv — значения по умолчанию с переопределениями из окружения.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	return applyEnv(app.DefaultConfig(), lookup)
}

// applyEnv переопределяет cfg из окружения. Некорректные значения не применяются
// и возвращаются предупреждениями.
func applyEnv(cfg app.Config, lookup envLookup) (app.Config, []string) {
	var warnings []string
	warn := func(key string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
	}

	setString := func(key string, dst *string, normalize func(string) string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = normalize(strings.TrimSpace(v))
		}
	}
	keep := func(s string) string { return s }

	setString(envHTTPAddr, &cfg.HTTPAddr, keep)
	setString(envGRPCAddr, &cfg.GRPCAddr, keep)
	setString(envMetricsAddr, &cfg.MetricsAddr, keep)
	setString(envStorageDriver, &cfg.StorageDriver, strings.ToLower)
	setString(envPostgresDSN, &cfg.PostgresDSN, keep)
	setString(envMongoURI, &cfg.MongoURI, keep)
	setString(envMongoDatabase, &cfg.MongoDatabase, keep)
	setString(envRedisAddr, &cfg.RedisAddr, keep)
	setString(envKafkaTopic, &cfg.KafkaTopic, keep)
	setString(envTraceExporter, &cfg.Tracing.Exporter, strings.ToLower)

	if v, ok := lookup(envKafkaBrokers); ok && strings.TrimSpace(v) != "" {
		cfg.KafkaBrokers = splitList(v)
	}

	if v, ok := lookup(envPostgresAutoMigrate); ok {
		if parsed, err := parseBool(v); err != nil {
			warn(envPostgresAutoMigrate, err)
		} else {
			cfg.PostgresAutoMigrate = parsed
		}
	}

	positive := func(v int) bool { return v > 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	ints := []struct {
		key string
		dst *int
	}{
		{envOutboxBatchSize, &cfg.OutboxBatchSize},
		{envOutboxMaxAttempts, &cfg.OutboxMaxAttempts},
		{envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize},
	}
	for _, item := range ints {
		if v, ok := lookup(item.key); ok {
			if parsed, err := parseInt(v, positive, "must be > 0"); err != nil {
				warn(item.key, err)
			} else {
				*item.dst = parsed
			}
		}
	}

	durations := []struct {
		key     string
		dst     *time.Duration
		isValid func(time.Duration) bool
		rule    string
	}{
		{envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0"},
		{envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0"},
		{envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0"},
		{envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0"},
		{envPaymentDelay, &cfg.Payment.Delay, nonNegativeDuration, "must be >= 0"},
	}
	for _, item := range durations {
		if v, ok := lookup(item.key); ok {
			if parsed, err := parseDuration(v, item.isValid, item.rule); err != nil {
				warn(item.key, err)
			} else {
				*item.dst = parsed
			}
		}
	}

	floats := []struct {
		key string
		dst *float64
		min float64
		max float64
	}{
		{envTaxRate, &cfg.Pricing.TaxRate, 0, 100},
		{envPaymentDeclineRate, &cfg.Payment.DeclineRate, 0, 1},
		{envPaymentFailureRate, &cfg.Payment.TemporaryFailureRate, 0, 1},
	}
	for _, item := range floats {
		if v, ok := lookup(item.key); ok {
			if parsed, err := parseFloat(v, item.min, item.max); err != nil {
				warn(item.key, err)
			} else {
				*item.dst = parsed
			}
		}
	}

	money := []struct {
		key string
		dst *int64
	}{
		{envFreeShippingThreshold, &cfg.Pricing.FreeShippingThreshold},
		{envShippingFee, &cfg.Pricing.ShippingFee},
	}
	for _, item := range money {
		if v, ok := lookup(item.key); ok {
			if parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err != nil || parsed < 0 {
				warn(item.key, fmt.Errorf("must be a non-negative integer, got %q", v))
			} else {
				*item.dst = parsed
			}
		}
	}

	return cfg, warnings
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, isValid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q: %w", raw, err)
	}
	if !isValid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, isValid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if !isValid(value) {
		return 0, fmt.Errorf("duration %s %s", value, rule)
	}
	return value, nil
}

func parseFloat(raw string, min, max float64) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value %q: %w", raw, err)
	}
	if value < min || value > max {
		return 0, fmt.Errorf("value %v must be in [%v, %v]", value, min, max)
	}
	return value, nil
}

func main() {
	setupLogger(os.LookupEnv)

	cfg, warnings, err := readConfig(os.LookupEnv)
	if err != nil {
		log.WithError(err).Fatal("не удалось прочитать конфигурацию")
	}
	for _, w := range warnings {
		log.WithField("warning", w).Warn("некорректная переменная окружения проигнорирована")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":      cfg.HTTPAddr,
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
		"version":        version.String(),
	}).Info("запускаем сервис заказов")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("сервис заказов остановлен")
}
