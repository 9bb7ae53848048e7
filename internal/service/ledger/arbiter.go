package ledger

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmline/internal/access"
	"github.com/vladislavdragonenkov/farmline/internal/domain"
	"github.com/vladislavdragonenkov/farmline/internal/messaging/kafka"
)

// Arbiter закрывает споры решением оператора платформы. Это единственный
// выход из статуса disputed: либо возврат покупателю, либо выплата
// продавцу — оба исхода терминальны и различимы в аудите.
type Arbiter struct {
	engine   *Engine
	operator string
}

// NewArbiter конструирует арбитра с идентичностью оператора платформы.
func NewArbiter(engine *Engine, operator string) *Arbiter {
	return &Arbiter{engine: engine, operator: operator}
}

// ResolveDispute решает спор. favorBuyer=true зеркалит отмену: возврат
// total+fee покупателю и восстановление остатка; иначе зеркалится
// settlement доставки: total продавцу, fee платформе.
func (a *Arbiter) ResolveDispute(caller string, orderID int64, favorBuyer bool) (domain.Order, error) {
	e := a.engine

	release, err := e.guard.Enter(access.OpResolveDispute)
	if err != nil {
		return domain.Order{}, err
	}
	defer release()
	defer e.observe(access.OpResolveDispute, time.Now())

	if err := access.Authorize(access.OpResolveDispute, caller, access.Parties{Operator: a.operator}); err != nil {
		return domain.Order{}, e.reject(access.OpResolveDispute, err)
	}

	order, err := e.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, e.reject(access.OpResolveDispute, err)
	}
	if order.Status != domain.OrderStatusDisputed {
		return domain.Order{}, e.reject(access.OpResolveDispute,
			fmt.Errorf("order %d is not disputed: %w", orderID, domain.ErrInvalidInput))
	}

	outcome := "seller"
	if favorBuyer {
		outcome = "buyer"
		order.Status = domain.OrderStatusDisputeRefunded
	} else {
		order.Status = domain.OrderStatusDisputeReleased
	}
	if err := e.saveOrder(&order); err != nil {
		return domain.Order{}, err
	}

	// Статус уже терминальный; неудачная выплата оставляет средства в
	// escrow, и дрейф поднимает ReconcileCustody.
	if favorBuyer {
		if err := e.refund(&order); err != nil {
			return domain.Order{}, err
		}
	} else {
		if err := e.settle(&order); err != nil {
			return domain.Order{}, err
		}
	}

	e.appendTimeline(order.ID, "dispute_resolved", "favor_"+outcome, e.nowFn())
	e.enqueueOrderEvent(kafka.EventTypeOrderResolved, order, "favor_"+outcome, "")
	if e.metrics != nil {
		e.metrics.RecordDisputeResolved(favorBuyer)
		e.metrics.SetEscrowedMinor(e.vault.EscrowedMinor())
	}

	e.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"outcome":  outcome,
	}).Info("dispute resolved")
	return order, nil
}
