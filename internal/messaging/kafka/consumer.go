package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const (
	defaultConsumerRetries    = 3
	defaultConsumerRetryDelay = 100 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение из Kafka.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// GroupConsumer читает события farmline через consumer group. Отказ
// обработчика повторяется внутри процесса; исчерпанный retry-бюджет
// уводит сообщение в DLQ, если та настроена, иначе offset не двигается.
type GroupConsumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	handler    MessageHandler
	logger     *log.Entry
	dlq        *Producer
	maxRetries int
	retryDelay time.Duration
	wg         sync.WaitGroup
}

// ConsumerOption настраивает GroupConsumer.
type ConsumerOption func(*GroupConsumer)

// WithDLQ задаёт producer, в который уходят сообщения после исчерпания retry.
func WithDLQ(producer *Producer) ConsumerOption {
	return func(c *GroupConsumer) {
		c.dlq = producer
	}
}

// WithMaxRetries задаёт retry-бюджет обработки одного сообщения.
func WithMaxRetries(maxRetries int) ConsumerOption {
	return func(c *GroupConsumer) {
		if maxRetries > 0 {
			c.maxRetries = maxRetries
		}
	}
}

// WithRetryDelay задаёт паузу между повторами обработчика.
func WithRetryDelay(delay time.Duration) ConsumerOption {
	return func(c *GroupConsumer) {
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

// NewGroupConsumer подключает consumer group к брокерам.
func NewGroupConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, options ...ConsumerOption) (*GroupConsumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}

	consumer := &GroupConsumer{
		group:      group,
		topics:     topics,
		handler:    handler,
		logger:     log.WithField("component", "kafka-consumer"),
		maxRetries: defaultConsumerRetries,
		retryDelay: defaultConsumerRetryDelay,
	}
	for _, option := range options {
		option(consumer)
	}
	return consumer, nil
}

// Start запускает циклы потребления и чтения ошибок. Возврат из Consume
// без ошибки означает rebalance, поэтому вызов повторяется до отмены ctx.
func (c *GroupConsumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("consumer group session failed")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
}

// Stop закрывает группу и дожидается фоновых goroutine.
func (c *GroupConsumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup — часть sarama.ConsumerGroupHandler.
func (c *GroupConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup — часть sarama.ConsumerGroupHandler.
func (c *GroupConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim прокачивает partition claim через обработчик. Сообщение
// маркируется только после успеха или ухода в DLQ: необработанное
// сообщение вернётся при следующей доставке.
func (c *GroupConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			if err := c.process(session.Context(), message); err != nil {
				c.logger.WithError(err).WithFields(log.Fields{
					"topic":     message.Topic,
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Error("message left unmarked after failed processing")
				continue
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// process исполняет обработчик с учётом retry-бюджета. Счётчик прошлых
// доставок приходит в header x-retry-count и уменьшает число локальных
// попыток.
func (c *GroupConsumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	remaining := c.maxRetries - deliveryRetryCount(message)

	var lastErr error
	for attempt := 1; attempt <= remaining; attempt++ {
		if lastErr = c.handler(ctx, message); lastErr == nil {
			return nil
		}

		c.logger.WithError(lastErr).WithFields(log.Fields{
			"topic":   message.Topic,
			"offset":  message.Offset,
			"attempt": attempt,
		}).Warn("message processing failed")

		if attempt >= remaining || c.retryDelay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("retry budget exhausted after %d prior deliveries", deliveryRetryCount(message))
	}

	if c.dlq == nil {
		return lastErr
	}
	if dlqErr := c.quarantine(message, lastErr); dlqErr != nil {
		return fmt.Errorf("quarantine message: %w", dlqErr)
	}

	c.logger.WithFields(log.Fields{
		"topic":  message.Topic,
		"offset": message.Offset,
	}).Info("message sent to dlq after exhausted retries")
	return nil
}

// quarantine публикует исходное сообщение в DLQ вместе с контекстом
// отказа. Формат читает cmd/dlq-reprocess — менять поля согласованно.
func (c *GroupConsumer) quarantine(message *sarama.ConsumerMessage, processingErr error) error {
	record := map[string]any{
		"original_topic":     message.Topic,
		"original_partition": message.Partition,
		"original_offset":    message.Offset,
		"original_key":       string(message.Key),
		"original_value":     string(message.Value),
		"error_message":      processingErr.Error(),
		"failed_at":          time.Now().UTC().Format(time.RFC3339),
		"retry_count":        deliveryRetryCount(message),
	}
	return c.dlq.PublishEvent(TopicDeadLetterQueue, string(message.Key), record)
}

// deliveryRetryCount читает число прошлых неудачных доставок из headers.
func deliveryRetryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if string(header.Key) != HeaderRetryCount {
			continue
		}
		if count, err := strconv.Atoi(string(header.Value)); err == nil && count > 0 {
			return count
		}
	}
	return 0
}

// ParseProductEvent декодирует событие каталога.
func ParseProductEvent(message *sarama.ConsumerMessage) (*ProductEvent, error) {
	var event ProductEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("unmarshal product event: %w", err)
	}
	return &event, nil
}

// ParseOrderEvent декодирует событие escrow-журнала.
func ParseOrderEvent(message *sarama.ConsumerMessage) (*OrderEvent, error) {
	var event OrderEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return nil, fmt.Errorf("unmarshal order event: %w", err)
	}
	return &event, nil
}
