package app

import (
	"context"
	"strings"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmline/internal/cache"
	"github.com/vladislavdragonenkov/farmline/internal/messaging/kafka"
)

// startCacheInvalidator подписывает consumer group на события заказов и
// товаров и сбрасывает соответствующие записи Redis-кэша. Так инстансы
// сервиса не отдают устаревший снапшот после мутации на другом инстансе.
// Без Redis или Kafka инвалидатор не запускается.
func startCacheInvalidator(
	ctx context.Context,
	cfg Config,
	orderCache *cache.Cache,
	dlqProducer *kafka.Producer,
	logger *log.Entry,
) (*kafka.GroupConsumer, error) {
	if orderCache == nil || cfg.KafkaBrokers == "" {
		return nil, nil
	}

	options := []kafka.ConsumerOption{}
	if dlqProducer != nil {
		options = append(options, kafka.WithDLQ(dlqProducer))
	}

	consumer, err := kafka.NewGroupConsumer(
		strings.Split(cfg.KafkaBrokers, ","),
		cfg.KafkaConsumerGroup,
		[]string{kafka.TopicOrderEvents, kafka.TopicProductEvents},
		cacheInvalidationHandler(orderCache, logger.WithField("component", "cache-invalidator")),
		options...,
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create cache invalidator, cache entries expire by TTL only")
		return nil, err
	}

	consumer.Start(ctx)
	logger.WithField("group", cfg.KafkaConsumerGroup).Info("cache invalidator started")
	return consumer, nil
}

// cacheInvalidationHandler сбрасывает кэш той сущности, о которой пришло
// событие. Нечитаемое событие — ошибка обработки: сообщение уйдёт в DLQ.
func cacheInvalidationHandler(orderCache *cache.Cache, logger *log.Entry) kafka.MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		switch message.Topic {
		case kafka.TopicOrderEvents:
			event, err := kafka.ParseOrderEvent(message)
			if err != nil {
				return err
			}
			orderCache.InvalidateOrder(ctx, event.Payload.OrderID)
			logger.WithField("order_id", event.Payload.OrderID).Debug("order cache invalidated")
		case kafka.TopicProductEvents:
			event, err := kafka.ParseProductEvent(message)
			if err != nil {
				return err
			}
			orderCache.InvalidateProduct(ctx, event.Payload.ProductID)
			logger.WithField("product_id", event.Payload.ProductID).Debug("product cache invalidated")
		}
		return nil
	}
}

// stopCacheInvalidator останавливает consumer, если он был запущен.
func stopCacheInvalidator(consumer *kafka.GroupConsumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop cache invalidator")
	}
}
