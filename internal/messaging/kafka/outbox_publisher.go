package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/farmline/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в Kafka, выбирая topic
// по типу агрегата: каталог и заказы уходят в разные потоки.
type OutboxTopicPublisher struct {
	producer     *Producer
	orderTopic   string
	productTopic string
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, orderTopic, productTopic string) domain.OutboxPublisher {
	if orderTopic == "" {
		orderTopic = TopicOrderEvents
	}
	if productTopic == "" {
		productTopic = TopicProductEvents
	}
	return &OutboxTopicPublisher{
		producer:     producer,
		orderTopic:   orderTopic,
		productTopic: productTopic,
	}
}

func (p *OutboxTopicPublisher) Publish(event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}

	envelope := struct {
		ID            string          `json:"id"`
		AggregateType string          `json:"aggregate_type"`
		AggregateID   string          `json:"aggregate_id"`
		EventType     string          `json:"event_type"`
		Payload       json.RawMessage `json:"payload"`
		PublishedAt   time.Time       `json:"published_at"`
	}{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	}

	return p.producer.PublishEvent(p.topicFor(event.AggregateType), key, envelope)
}

func (p *OutboxTopicPublisher) topicFor(aggregateType string) string {
	if aggregateType == "product" {
		return p.productTopic
	}
	return p.orderTopic
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
