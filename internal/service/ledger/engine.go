// Package ledger реализует escrow-машину состояний заказа: удержание средств
// при создании, протокол доставки и пути возврата. Только этот пакет двигает
// custody-баланс.
package ledger

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmline/internal/access"
	"github.com/vladislavdragonenkov/farmline/internal/custody"
	"github.com/vladislavdragonenkov/farmline/internal/domain"
	"github.com/vladislavdragonenkov/farmline/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/farmline/internal/metrics"
	"github.com/vladislavdragonenkov/farmline/internal/service/catalog"
)

// CreateOrderInput содержит аргументы размещения заказа.
type CreateOrderInput struct {
	ProductID       int64
	Quantity        int64
	DeliveryAddress string
	// PaymentMinor — сумма, приложенная к заказу. Должна покрывать
	// total+fee; излишек возвращается вызывающему синхронно.
	PaymentMinor int64
}

// Engine — ядро escrow-журнала. Все мутирующие операции проходят через
// общий guard: проверки выполняются до эффектов, эффекты — до любых
// перемещений средств (checks-effects-interactions).
type Engine struct {
	orders   domain.OrderRepository
	catalog  *catalog.Service
	vault    *custody.Vault
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	guard    *access.Guard
	logger   *log.Entry
	metrics  *metrics.LedgerMetrics
	nowFn    func() time.Time

	mu           sync.Mutex
	initialized  bool
	issuer       domain.CertificateIssuer
	feeRecipient string
	feeRateBps   int64
}

// Option настраивает Engine.
type Option func(*Engine)

// WithMetrics задаёт метрики ledger-а.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithNowFunc переопределяет источник времени, в основном для тестов.
func WithNowFunc(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.nowFn = now
		}
	}
}

// NewEngine конструирует ledger с зависимостями. Guard должен быть общим
// с каталогом, чтобы reentrancy-защита покрывала обе поверхности.
func NewEngine(
	orders domain.OrderRepository,
	productCatalog *catalog.Service,
	vault *custody.Vault,
	timeline domain.TimelineRepository,
	outbox domain.OutboxRepository,
	guard *access.Guard,
	logger *log.Entry,
	options ...Option,
) *Engine {
	if logger == nil {
		logger = log.New().WithField("component", "ledger")
	}
	if guard == nil {
		guard = access.NewGuard()
	}
	if vault == nil {
		vault = custody.NewVault()
	}
	e := &Engine{
		orders:   orders,
		catalog:  productCatalog,
		vault:    vault,
		timeline: timeline,
		outbox:   outbox,
		guard:    guard,
		logger:   logger,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// Init выполняет одноразовую настройку инстанса: эмитент сертификатов,
// получатель комиссии и ставка в базисных пунктах. Повторный вызов
// возвращает ErrAlreadyInitialized.
func (e *Engine) Init(issuer domain.CertificateIssuer, feeRecipient string, feeRateBps int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return domain.ErrAlreadyInitialized
	}
	if feeRecipient == "" {
		return fmt.Errorf("fee recipient is required: %w", domain.ErrInvalidInput)
	}
	if !domain.ValidFeeRateBps(feeRateBps) {
		return fmt.Errorf("fee rate %d is out of range [0, %d]: %w",
			feeRateBps, domain.FeeRateDivisor, domain.ErrInvalidInput)
	}

	e.issuer = issuer
	e.feeRecipient = feeRecipient
	e.feeRateBps = feeRateBps
	e.initialized = true

	e.logger.WithFields(log.Fields{
		"fee_recipient": feeRecipient,
		"fee_rate_bps":  feeRateBps,
	}).Info("ledger initialized")
	return nil
}

// FeeRecipient возвращает идентичность получателя комиссии.
func (e *Engine) FeeRecipient() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feeRecipient
}

// FeeRateBps возвращает ставку комиссии в базисных пунктах.
func (e *Engine) FeeRateBps() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feeRateBps
}

// Vault открывает custody-хранилище для чтения балансов.
func (e *Engine) Vault() *custody.Vault {
	return e.vault
}

// CreateOrder размещает заказ: резервирует количество, удерживает
// total+fee в escrow и возвращает заказ вместе со сдачей.
func (e *Engine) CreateOrder(caller string, input CreateOrderInput) (domain.Order, int64, error) {
	release, err := e.guard.Enter(access.OpCreateOrder)
	if err != nil {
		return domain.Order{}, 0, err
	}
	defer release()
	defer e.observe(access.OpCreateOrder, time.Now())

	if err := access.Authorize(access.OpCreateOrder, caller, access.Parties{}); err != nil {
		return domain.Order{}, 0, e.reject(access.OpCreateOrder, err)
	}
	if err := e.requireInitialized(); err != nil {
		return domain.Order{}, 0, err
	}
	if input.Quantity <= 0 {
		return domain.Order{}, 0, e.reject(access.OpCreateOrder,
			fmt.Errorf("quantity must be positive: %w", domain.ErrInvalidInput))
	}
	if input.PaymentMinor < 0 {
		return domain.Order{}, 0, e.reject(access.OpCreateOrder,
			fmt.Errorf("payment must not be negative: %w", domain.ErrInvalidInput))
	}

	product, err := e.catalog.GetProduct(input.ProductID)
	if err != nil {
		return domain.Order{}, 0, e.reject(access.OpCreateOrder, err)
	}
	if !product.Active {
		return domain.Order{}, 0, e.reject(access.OpCreateOrder,
			fmt.Errorf("product is inactive: %w", domain.ErrInvalidInput))
	}
	if product.RemainingQuantity < input.Quantity {
		return domain.Order{}, 0, e.reject(access.OpCreateOrder,
			fmt.Errorf("insufficient remaining quantity %d < %d: %w",
				product.RemainingQuantity, input.Quantity, domain.ErrInvalidInput))
	}

	totalMinor := product.PriceMinor * input.Quantity
	feeMinor, _ := domain.SplitFee(totalMinor, e.feeRateBps)
	escrowMinor := totalMinor + feeMinor

	if input.PaymentMinor < escrowMinor {
		return domain.Order{}, 0, e.reject(access.OpCreateOrder,
			fmt.Errorf("payment %d is below required %d: %w",
				input.PaymentMinor, escrowMinor, domain.ErrInsufficientFunds))
	}
	changeMinor := input.PaymentMinor - escrowMinor

	// Все проверки пройдены: дальше только эффекты.
	if _, err := e.catalog.Reserve(product.ID, input.Quantity); err != nil {
		return domain.Order{}, 0, err
	}
	if err := e.vault.Lock(escrowMinor); err != nil {
		// Откатываем резерв, чтобы не оставить частичный эффект.
		if restoreErr := e.catalog.Restore(product.ID, input.Quantity); restoreErr != nil {
			e.logger.WithError(restoreErr).Error("failed to roll back reservation")
		}
		return domain.Order{}, 0, err
	}

	now := e.nowFn()
	order := domain.Order{
		ProductID:       product.ID,
		BuyerID:         caller,
		SellerID:        product.ProducerID,
		Quantity:        input.Quantity,
		TotalMinor:      totalMinor,
		FeeMinor:        feeMinor,
		Status:          domain.OrderStatusPending,
		DeliveryAddress: input.DeliveryAddress,
		CreatedAt:       now,
	}

	created, err := e.orders.Create(order)
	if err != nil {
		if releaseErr := e.vault.Release(caller, escrowMinor); releaseErr != nil {
			e.logger.WithError(releaseErr).Error("failed to roll back escrow lock")
		}
		if restoreErr := e.catalog.Restore(product.ID, input.Quantity); restoreErr != nil {
			e.logger.WithError(restoreErr).Error("failed to roll back reservation")
		}
		return domain.Order{}, 0, err
	}

	e.appendTimeline(created.ID, "order_created", "", now)
	e.enqueueOrderEvent(kafka.EventTypeOrderCreated, created, "", "")
	if e.metrics != nil {
		e.metrics.RecordOrderCreated()
		e.metrics.SetEscrowedMinor(e.vault.EscrowedMinor())
	}

	e.logger.WithFields(log.Fields{
		"order_id":     created.ID,
		"product_id":   created.ProductID,
		"escrow_minor": escrowMinor,
		"change_minor": changeMinor,
	}).Info("order created")
	return created, changeMinor, nil
}

// ConfirmOrder — продавец принимает заказ в работу.
func (e *Engine) ConfirmOrder(caller string, orderID int64) (domain.Order, error) {
	release, err := e.guard.Enter(access.OpConfirmOrder)
	if err != nil {
		return domain.Order{}, err
	}
	defer release()
	defer e.observe(access.OpConfirmOrder, time.Now())

	order, err := e.loadForTransition(access.OpConfirmOrder, caller, orderID, domain.OrderStatusConfirmed)
	if err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatusConfirmed
	if err := e.saveOrder(&order); err != nil {
		return domain.Order{}, err
	}

	e.appendTimeline(order.ID, "order_confirmed", "", e.nowFn())
	e.enqueueOrderEvent(kafka.EventTypeOrderConfirmed, order, "", "")
	if e.metrics != nil {
		e.metrics.RecordOrderConfirmed()
	}
	return order, nil
}

// ShipOrder — продавец отгружает заказ и фиксирует трекинг.
func (e *Engine) ShipOrder(caller string, orderID int64, trackingRef string) (domain.Order, error) {
	release, err := e.guard.Enter(access.OpShipOrder)
	if err != nil {
		return domain.Order{}, err
	}
	defer release()
	defer e.observe(access.OpShipOrder, time.Now())

	if trackingRef == "" {
		return domain.Order{}, e.reject(access.OpShipOrder,
			fmt.Errorf("tracking reference is required: %w", domain.ErrInvalidInput))
	}

	order, err := e.loadForTransition(access.OpShipOrder, caller, orderID, domain.OrderStatusShipped)
	if err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatusShipped
	order.TrackingRef = trackingRef
	if err := e.saveOrder(&order); err != nil {
		return domain.Order{}, err
	}

	e.appendTimeline(order.ID, "order_shipped", trackingRef, e.nowFn())
	e.enqueueOrderEvent(kafka.EventTypeOrderShipped, order, "", "")
	if e.metrics != nil {
		e.metrics.RecordOrderShipped()
	}
	return order, nil
}

// ConfirmDelivery закрывает протокол доставки: статус становится
// терминальным, после чего escrow выплачивается продавцу и платформе.
// Это единственный путь, по которому продавец получает оплату.
func (e *Engine) ConfirmDelivery(caller string, orderID int64) (domain.Order, error) {
	release, err := e.guard.Enter(access.OpConfirmDelivery)
	if err != nil {
		return domain.Order{}, err
	}
	defer release()
	defer e.observe(access.OpConfirmDelivery, time.Now())

	order, err := e.loadForTransition(access.OpConfirmDelivery, caller, orderID, domain.OrderStatusDelivered)
	if err != nil {
		return domain.Order{}, err
	}

	now := e.nowFn()
	order.Status = domain.OrderStatusDelivered
	order.DeliveredAt = &now
	if err := e.saveOrder(&order); err != nil {
		return domain.Order{}, err
	}

	// Состояние зафиксировано, можно перемещать средства. Выплата
	// отказывает только при уже нарушенном custody-инварианте; заказ
	// тогда остаётся терминальным с зависшим escrow, и расхождение
	// всплывает в ReconcileCustody и custody health-чекере.
	if err := e.settle(&order); err != nil {
		return domain.Order{}, err
	}

	certificate := e.mintCertificate(&order)

	e.appendTimeline(order.ID, "order_delivered", "", now)
	e.enqueueOrderEvent(kafka.EventTypeOrderDelivered, order, "", certificate)
	if e.metrics != nil {
		e.metrics.RecordOrderDelivered()
		e.metrics.SetEscrowedMinor(e.vault.EscrowedMinor())
	}

	e.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"total_minor": order.TotalMinor,
		"fee_minor":   order.FeeMinor,
	}).Info("escrow settled to seller")
	return order, nil
}

// CancelOrder — покупатель отменяет ещё не подтверждённый заказ:
// полный возврат total+fee и восстановление остатка.
func (e *Engine) CancelOrder(caller string, orderID int64) (domain.Order, error) {
	release, err := e.guard.Enter(access.OpCancelOrder)
	if err != nil {
		return domain.Order{}, err
	}
	defer release()
	defer e.observe(access.OpCancelOrder, time.Now())

	order, err := e.loadForTransition(access.OpCancelOrder, caller, orderID, domain.OrderStatusCancelled)
	if err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatusCancelled
	if err := e.saveOrder(&order); err != nil {
		return domain.Order{}, err
	}

	// Как и при settlement: отказ возврата возможен лишь при сломанном
	// custody-инварианте, заказ остаётся cancelled, дрейф виден через
	// ReconcileCustody.
	if err := e.refund(&order); err != nil {
		return domain.Order{}, err
	}

	e.appendTimeline(order.ID, "order_cancelled", "", e.nowFn())
	e.enqueueOrderEvent(kafka.EventTypeOrderCancelled, order, "", "")
	if e.metrics != nil {
		e.metrics.RecordOrderCancelled()
		e.metrics.SetEscrowedMinor(e.vault.EscrowedMinor())
	}
	return order, nil
}

// DisputeOrder — любая из сторон открывает спор по отгруженному заказу.
// Средства остаются в escrow до решения арбитра.
func (e *Engine) DisputeOrder(caller string, orderID int64, reason string) (domain.Order, error) {
	release, err := e.guard.Enter(access.OpDisputeOrder)
	if err != nil {
		return domain.Order{}, err
	}
	defer release()
	defer e.observe(access.OpDisputeOrder, time.Now())

	if reason == "" {
		return domain.Order{}, e.reject(access.OpDisputeOrder,
			fmt.Errorf("dispute reason is required: %w", domain.ErrInvalidInput))
	}

	order, err := e.loadForTransition(access.OpDisputeOrder, caller, orderID, domain.OrderStatusDisputed)
	if err != nil {
		return domain.Order{}, err
	}

	order.Status = domain.OrderStatusDisputed
	order.DisputeReason = reason
	if err := e.saveOrder(&order); err != nil {
		return domain.Order{}, err
	}

	e.appendTimeline(order.ID, "order_disputed", reason, e.nowFn())
	e.enqueueOrderEvent(kafka.EventTypeOrderDisputed, order, reason, "")
	if e.metrics != nil {
		e.metrics.RecordOrderDisputed()
	}

	e.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"reason":   reason,
	}).Warn("dispute opened")
	return order, nil
}

// GetOrder возвращает заказ по идентификатору.
func (e *Engine) GetOrder(id int64) (domain.Order, error) {
	return e.orders.Get(id)
}

// ListByBuyer возвращает заказы покупателя.
func (e *Engine) ListByBuyer(buyerID string, limit int) ([]domain.Order, error) {
	return e.orders.ListByBuyer(buyerID, limit)
}

// ListBySeller возвращает заказы продавца.
func (e *Engine) ListBySeller(sellerID string, limit int) ([]domain.Order, error) {
	return e.orders.ListBySeller(sellerID, limit)
}

// Timeline возвращает аудит-след заказа в хронологическом порядке.
func (e *Engine) Timeline(orderID int64) ([]domain.TimelineEvent, error) {
	if e.timeline == nil {
		return nil, nil
	}
	return e.timeline.List(orderID)
}

// ReconcileCustody сверяет баланс escrow с суммой total+fee всех
// открытых заказов. Расхождение означает нарушенный custody-инвариант.
func (e *Engine) ReconcileCustody() (escrowed, expected int64, err error) {
	open, err := e.orders.ListOpen()
	if err != nil {
		return 0, 0, err
	}
	for i := range open {
		expected += open[i].EscrowMinor()
	}
	return e.vault.EscrowedMinor(), expected, nil
}

// settle выплачивает total продавцу и fee платформе.
func (e *Engine) settle(order *domain.Order) error {
	if err := e.vault.Release(order.SellerID, order.TotalMinor); err != nil {
		e.logger.WithError(err).WithField("order_id", order.ID).Error("seller payout failed")
		return err
	}
	if order.FeeMinor > 0 {
		if err := e.vault.Release(e.feeRecipient, order.FeeMinor); err != nil {
			e.logger.WithError(err).WithField("order_id", order.ID).Error("fee payout failed")
			return err
		}
	}
	return nil
}

// refund возвращает покупателю ровно удержанную сумму и восстанавливает
// зарезервированное количество товара.
func (e *Engine) refund(order *domain.Order) error {
	if err := e.vault.Release(order.BuyerID, order.EscrowMinor()); err != nil {
		e.logger.WithError(err).WithField("order_id", order.ID).Error("buyer refund failed")
		return err
	}
	if err := e.catalog.Restore(order.ProductID, order.Quantity); err != nil {
		e.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to restore product quantity")
	}
	return nil
}

// mintCertificate запрашивает у эмитента сертификат подлинности для
// органической продукции. Ошибка выпуска не откатывает settlement.
func (e *Engine) mintCertificate(order *domain.Order) string {
	if e.issuer == nil {
		return ""
	}
	product, err := e.catalog.GetProduct(order.ProductID)
	if err != nil || !product.IsOrganic {
		return ""
	}

	certificate, err := e.issuer.Mint(product.ID, product.Name, product.IsOrganic, order.BuyerID)
	if err != nil {
		e.logger.WithError(err).WithField("order_id", order.ID).Warn("certificate mint failed")
		if e.metrics != nil {
			e.metrics.RecordCertificateFailed()
		}
		return ""
	}

	if e.metrics != nil {
		e.metrics.RecordCertificateMinted()
	}
	return certificate
}

// loadForTransition загружает заказ, проверяет права вызывающего и
// легальность перехода к целевому статусу. Никаких эффектов.
func (e *Engine) loadForTransition(op access.Operation, caller string, orderID int64, target domain.OrderStatus) (domain.Order, error) {
	order, err := e.orders.Get(orderID)
	if err != nil {
		return domain.Order{}, e.reject(op, err)
	}

	parties := access.Parties{Buyer: order.BuyerID, Seller: order.SellerID}
	if err := access.Authorize(op, caller, parties); err != nil {
		return domain.Order{}, e.reject(op, err)
	}

	if !order.Status.CanTransition(target) {
		return domain.Order{}, e.reject(op, fmt.Errorf("%s → %s: %w",
			order.Status, target, domain.ErrInvalidStateTransition))
	}
	return order, nil
}

func (e *Engine) saveOrder(order *domain.Order) error {
	if err := e.orders.Save(*order); err != nil {
		e.logger.WithError(err).WithField("order_id", order.ID).Error("failed to save order")
		return err
	}
	order.Version++
	return nil
}

func (e *Engine) requireInitialized() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return fmt.Errorf("ledger is not initialized: %w", domain.ErrInvalidInput)
	}
	return nil
}

// reject классифицирует отказ для метрик и возвращает ошибку без изменений.
func (e *Engine) reject(op access.Operation, err error) error {
	if e.metrics != nil {
		e.metrics.RecordRejected(string(op), rejectReason(err))
	}
	return err
}

func (e *Engine) observe(op access.Operation, start time.Time) {
	if e.metrics != nil {
		e.metrics.RecordOperationDuration(string(op), time.Since(start))
	}
}

func (e *Engine) appendTimeline(orderID int64, eventType, reason string, occurred time.Time) {
	if e.timeline == nil {
		return
	}
	err := e.timeline.Append(domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: occurred,
	})
	if err != nil {
		e.logger.WithError(err).WithField("order_id", orderID).Warn("failed to append timeline event")
	}
}
