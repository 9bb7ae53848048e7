package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Product события
	EventTypeProductListed      EventType = "product.listed"
	EventTypeProductUpdated     EventType = "product.updated"
	EventTypeProductDeactivated EventType = "product.deactivated"

	// Order события
	EventTypeOrderCreated   EventType = "order.created"
	EventTypeOrderConfirmed EventType = "order.confirmed"
	EventTypeOrderShipped   EventType = "order.shipped"
	EventTypeOrderDelivered EventType = "order.delivered"
	EventTypeOrderCancelled EventType = "order.cancelled"
	EventTypeOrderDisputed  EventType = "order.disputed"
	EventTypeOrderResolved  EventType = "order.dispute_resolved"
)

// Topics для Kafka
const (
	TopicProductEvents   = "farmline.product.events"
	TopicOrderEvents     = "farmline.order.events"
	TopicDeadLetterQueue = "farmline.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// ProductEventPayload описывает полезную нагрузку событий каталога.
type ProductEventPayload struct {
	ProductID         int64  `json:"product_id"`
	ProducerID        string `json:"producer_id"`
	Name              string `json:"name"`
	PriceMinor        int64  `json:"price_minor"`
	Quantity          int64  `json:"quantity"`
	RemainingQuantity int64  `json:"remaining_quantity"`
	Active            bool   `json:"active"`
}

// OrderEventPayload описывает полезную нагрузку событий escrow-журнала.
type OrderEventPayload struct {
	OrderID     int64  `json:"order_id"`
	ProductID   int64  `json:"product_id"`
	BuyerID     string `json:"buyer_id"`
	SellerID    string `json:"seller_id"`
	Status      string `json:"status"`
	TotalMinor  int64  `json:"total_minor"`
	FeeMinor    int64  `json:"fee_minor"`
	Reason      string `json:"reason,omitempty"`
	Certificate string `json:"certificate,omitempty"`
}

// OrderEvent — сообщение, уходящее в Kafka после публикации из outbox.
type OrderEvent struct {
	EventType EventType         `json:"event_type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   OrderEventPayload `json:"payload"`
}

// ProductEvent — сообщение каталога для внешних потребителей.
type ProductEvent struct {
	EventType EventType           `json:"event_type"`
	Timestamp time.Time           `json:"timestamp"`
	Payload   ProductEventPayload `json:"payload"`
}
