package domain

import "time"

// Product описывает запись товара в каталоге. Записи никогда не удаляются:
// деактивация — это терминальный флаг, а не удаление, чтобы сохранить
// аудируемую историю.
type Product struct {
	// ID — положительный монотонный идентификатор; никогда не переиспользуется.
	ID int64
	// ProducerID — владелец товара; только он может менять запись.
	ProducerID string
	// Описательные поля прозрачны для ядра и не интерпретируются.
	Name        string
	Description string
	ImageRef    string
	Category    string
	Location    string
	// IsOrganic участвует в выпуске сертификата подлинности после доставки.
	IsOrganic bool
	// PriceMinor — цена за единицу в минимальных денежных единицах.
	PriceMinor int64
	// Quantity — полный объём партии; RemainingQuantity — доступный остаток.
	// Инвариант: 0 <= RemainingQuantity <= Quantity.
	Quantity          int64
	RemainingQuantity int64
	Active            bool
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ValidateInvariants проверяет базовые инварианты товара.
func (p *Product) ValidateInvariants() []error {
	var errs []error

	if p.ProducerID == "" {
		errs = append(errs, ErrInvalidInput)
	}
	if p.PriceMinor <= 0 {
		errs = append(errs, ErrInvalidInput)
	}
	if p.Quantity <= 0 {
		errs = append(errs, ErrInvalidInput)
	}
	if p.RemainingQuantity < 0 || p.RemainingQuantity > p.Quantity {
		errs = append(errs, ErrInvalidInput)
	}

	return errs
}
