package app

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// StorageDriver выбирает реализацию хранилища.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	RedisAddr string
	CacheTTL  time.Duration

	KafkaBrokers string
	// KafkaConsumerGroup — group id consumer-а, сбрасывающего кэш по
	// событиям заказов и товаров.
	KafkaConsumerGroup string

	// FeeRecipient — идентичность платформы, получающей комиссию.
	FeeRecipient string
	// FeeRateBps — ставка комиссии в базисных пунктах [0, 10000].
	FeeRateBps int64
	// OperatorID — идентичность арбитра споров. Пустое значение
	// означает, что споры решает получатель комиссии.
	OperatorID string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает настройки по умолчанию: in-memory хранилище,
// без Kafka и Redis.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		CacheTTL:                    5 * time.Minute,
		KafkaConsumerGroup:          "farmline-market-service",
		FeeRecipient:                "platform",
		FeeRateBps:                  250,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            500 * time.Millisecond,
		OutboxMaxPending:            1000,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// LoadConfig читает конфигурацию из окружения поверх значений по умолчанию.
// Файл .env подхватывается, если присутствует.
func LoadConfig(logger *log.Entry) (Config, error) {
	if logger == nil {
		logger = log.WithField("component", "config")
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			logger.WithError(err).Warn("failed to load .env file")
		}
	}

	cfg := DefaultConfig()

	if v := os.Getenv("FARMLINE_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("FARMLINE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("FARMLINE_STORAGE_DRIVER"); v != "" {
		cfg.StorageDriver = StorageDriver(v)
	}
	if v := os.Getenv("FARMLINE_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	if v := os.Getenv("FARMLINE_POSTGRES_AUTO_MIGRATE"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("FARMLINE_POSTGRES_AUTO_MIGRATE: %w", err)
		}
		cfg.PostgresAutoMigrate = parsed
	}
	if v := os.Getenv("FARMLINE_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("FARMLINE_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = v
	}
	if v := os.Getenv("FARMLINE_KAFKA_CONSUMER_GROUP"); v != "" {
		cfg.KafkaConsumerGroup = v
	}
	if v := os.Getenv("FARMLINE_FEE_RECIPIENT"); v != "" {
		cfg.FeeRecipient = v
	}
	if v := os.Getenv("FARMLINE_FEE_RATE_BPS"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("FARMLINE_FEE_RATE_BPS: %w", err)
		}
		cfg.FeeRateBps = parsed
	}
	if v := os.Getenv("FARMLINE_OPERATOR_ID"); v != "" {
		cfg.OperatorID = v
	}

	var err error
	if cfg.CacheTTL, err = envDuration("FARMLINE_CACHE_TTL", cfg.CacheTTL); err != nil {
		return Config{}, err
	}
	if cfg.OutboxPollInterval, err = envDuration("FARMLINE_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.OutboxRetryDelay, err = envDuration("FARMLINE_OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyCleanupInterval, err = envDuration("FARMLINE_IDEMPOTENCY_CLEANUP_INTERVAL", cfg.IdempotencyCleanupInterval); err != nil {
		return Config{}, err
	}
	if cfg.OutboxBatchSize, err = envInt("FARMLINE_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize); err != nil {
		return Config{}, err
	}
	if cfg.OutboxMaxAttempts, err = envInt("FARMLINE_OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.OutboxMaxPending, err = envInt("FARMLINE_OUTBOX_MAX_PENDING", cfg.OutboxMaxPending); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyCleanupBatchSize, err = envInt("FARMLINE_IDEMPOTENCY_CLEANUP_BATCH_SIZE", cfg.IdempotencyCleanupBatchSize); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return parsed, nil
}

func envInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return parsed, nil
}
