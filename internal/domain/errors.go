package domain

import "errors"

// Базовая таксономия ошибок ledger-а. Каждая мутирующая операция либо
// завершается успешно, либо возвращает одну из этих категорий без
// частичных изменений состояния.
var (
	// ErrNotFound — неизвестный идентификатор товара или заказа.
	ErrNotFound = errors.New("record not found")
	// ErrUnauthorized — вызывающая сторона не имеет нужной роли для операции.
	ErrUnauthorized = errors.New("caller is not authorized for this operation")
	// ErrInvalidInput — нулевые/отрицательные цены и количества, некорректные аргументы.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInsufficientFunds — приложенный платёж меньше требуемой суммы total+fee.
	ErrInsufficientFunds = errors.New("attached payment is below required total")
	// ErrInvalidStateTransition — операция недопустима из текущего статуса заказа.
	ErrInvalidStateTransition = errors.New("order status does not permit this operation")
	// ErrReentrantCall — вложенный повторный вход в мутирующую операцию из ещё не завершённой.
	ErrReentrantCall = errors.New("reentrant call rejected")
	// ErrAlreadyInitialized — повторная инициализация ledger-инстанса.
	ErrAlreadyInitialized = errors.New("ledger is already initialized")
)

// Ошибки уровня хранилищ и инфраструктуры.
var (
	// ErrProductNotFound возвращается, если товар не найден в репозитории.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrVersionConflict = errors.New("record version conflict")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
	// ErrCustodyUnderflow — попытка выплатить из escrow больше, чем удержано.
	// Появление этой ошибки означает нарушение custody-инварианта.
	ErrCustodyUnderflow = errors.New("custody balance underflow")
)

// Ошибки подсистемы идемпотентности.
var (
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key is used with different request payload")
)

// IsNotFound проверяет, относится ли ошибка к категории NotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrOrderNotFound)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
