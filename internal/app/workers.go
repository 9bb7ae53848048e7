package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmline/internal/messaging/kafka"
	idemsvc "github.com/vladislavdragonenkov/farmline/internal/service/idempotency"
	"github.com/vladislavdragonenkov/farmline/internal/service/outbox"
)

// createOutboxWorker собирает outbox-воркер с publisher-ом и DLQ. Без Kafka
// воркер не создаётся: события копятся в outbox до появления брокера.
func createOutboxWorker(
	deps *runtimeDependencies,
	producer *kafka.Producer,
	cfg Config,
	logger *log.Entry,
) *outbox.Worker {
	if producer == nil {
		return nil
	}

	publisher := kafka.NewOutboxPublisher(producer, kafka.TopicOrderEvents, kafka.TopicProductEvents)
	dlqPublisher := kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue, kafka.TopicDeadLetterQueue)

	return outbox.NewWorker(
		deps.outboxRepo,
		publisher,
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithDLQPublisher(dlqPublisher),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		outbox.WithMaxPending(cfg.OutboxMaxPending),
	)
}

// createCleanupWorker собирает воркер очистки протухших idempotency-ключей.
func createCleanupWorker(deps *runtimeDependencies, cfg Config, logger *log.Entry) *idemsvc.CleanupWorker {
	return idemsvc.NewCleanupWorker(
		deps.idempotencyRepo,
		idemsvc.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idemsvc.WithInterval(cfg.IdempotencyCleanupInterval),
		idemsvc.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
}
