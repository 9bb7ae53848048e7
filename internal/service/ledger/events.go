package ledger

import (
	"encoding/json"
	"errors"
	"strconv"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/farmline/internal/domain"
	"github.com/vladislavdragonenkov/farmline/internal/messaging/kafka"
)

// enqueueOrderEvent кладёт событие заказа в transactional outbox.
// Ядро своих событий не потребляет, поэтому ошибка постановки в очередь
// логируется, но операцию не откатывает.
func (e *Engine) enqueueOrderEvent(eventType kafka.EventType, order domain.Order, reason, certificate string) {
	if e.outbox == nil {
		return
	}

	payload, err := json.Marshal(kafka.OrderEventPayload{
		OrderID:     order.ID,
		ProductID:   order.ProductID,
		BuyerID:     order.BuyerID,
		SellerID:    order.SellerID,
		Status:      string(order.Status),
		TotalMinor:  order.TotalMinor,
		FeeMinor:    order.FeeMinor,
		Reason:      reason,
		Certificate: certificate,
	})
	if err != nil {
		e.logger.WithError(err).Warn("failed to marshal order event payload")
		return
	}

	_, err = e.outbox.Enqueue(domain.OutboxMessage{
		ID:            uuid.NewString(),
		AggregateType: "order",
		AggregateID:   strconv.FormatInt(order.ID, 10),
		EventType:     string(eventType),
		Payload:       payload,
	})
	if err != nil {
		e.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to enqueue order event")
	}
}

// rejectReason сводит ошибку к метке для метрики отказов.
func rejectReason(err error) string {
	switch {
	case domain.IsNotFound(err):
		return "not_found"
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return "invalid_state_transition"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}
