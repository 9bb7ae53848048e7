package domain

import "time"

// OrderStatus описывает жизненный цикл заказа в escrow-машине состояний.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, средства удержаны в escrow.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed — продавец подтвердил заказ.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusShipped — заказ отгружен, трекинг зафиксирован.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered — доставка подтверждена, escrow выплачен продавцу.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — покупатель отменил заказ до подтверждения, средства возвращены.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusDisputed — после отгрузки открыт спор; закрывается только арбитром.
	OrderStatusDisputed OrderStatus = "disputed"
	// OrderStatusDisputeRefunded — спор решён в пользу покупателя: возврат средств и остатка.
	OrderStatusDisputeRefunded OrderStatus = "dispute_refunded"
	// OrderStatusDisputeReleased — спор решён в пользу продавца: выплата как при доставке.
	// Отдельный от delivered терминальный статус, чтобы аудит различал исходы.
	OrderStatusDisputeReleased OrderStatus = "dispute_released"
)

// Order агрегирует состояние заказа в escrow.
type Order struct {
	// ID — положительный монотонный идентификатор.
	ID        int64
	ProductID int64
	BuyerID   string
	// SellerID копируется из товара при создании и далее неизменен,
	// даже если запись товара поменяется.
	SellerID string
	Quantity int64
	// TotalMinor = PriceMinor*Quantity на момент создания; не меняется при
	// последующем изменении цены товара.
	TotalMinor int64
	// FeeMinor фиксируется при создании той же формулой, что и при settlement.
	FeeMinor        int64
	Status          OrderStatus
	DeliveryAddress string
	TrackingRef     string
	DisputeReason   string
	Version         int64
	CreatedAt       time.Time
	DeliveredAt     *time.Time
}

// orderTransitions задаёт легальные рёбра машины состояний. Ни один переход
// не пропускает состояние.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed: {OrderStatusShipped},
	OrderStatusShipped:   {OrderStatusDelivered, OrderStatusDisputed},
	OrderStatusDisputed:  {OrderStatusDisputeRefunded, OrderStatusDisputeReleased},
}

// CanTransition сообщает, определено ли ребро from→to.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal сообщает, что из статуса не определено ни одного перехода.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// EscrowOpen сообщает, удерживаются ли по заказу средства в escrow.
// Сумма total+fee всех открытых заказов равна балансу escrow — это
// центральный custody-инвариант.
func (s OrderStatus) EscrowOpen() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped, OrderStatusDisputed:
		return true
	default:
		return false
	}
}

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusDisputed,
		OrderStatusDisputeRefunded, OrderStatusDisputeReleased:
		return true
	default:
		return false
	}
}

// EscrowMinor возвращает сумму, удержанную в escrow по заказу.
func (o *Order) EscrowMinor() int64 {
	return o.TotalMinor + o.FeeMinor
}

// ValidateInvariants проверяет базовые инварианты заказа.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.BuyerID == "" || o.SellerID == "" {
		errs = append(errs, ErrInvalidInput)
	}
	if o.ProductID <= 0 {
		errs = append(errs, ErrInvalidInput)
	}
	if o.Quantity <= 0 {
		errs = append(errs, ErrInvalidInput)
	}
	if o.TotalMinor < 0 || o.FeeMinor < 0 {
		errs = append(errs, ErrInvalidInput)
	}
	if !o.Status.Valid() {
		errs = append(errs, ErrInvalidInput)
	}

	return errs
}
