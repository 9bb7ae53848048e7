// Package custody держит средства escrow между созданием заказа и
// settlement/refund. Единственный писатель баланса — OrderLedger.
package custody

import (
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/farmline/internal/domain"
)

// Vault хранит удержанную сумму escrow и payout-балансы сторон.
// Инвариант: escrowed равен сумме total+fee всех открытых заказов;
// каждая выплата уменьшает escrowed ровно на зачисленную сумму.
type Vault struct {
	mu       sync.Mutex
	escrowed int64
	balances map[string]int64
}

// NewVault создаёт пустое хранилище.
func NewVault() *Vault {
	return &Vault{balances: make(map[string]int64)}
}

// Lock удерживает amount в escrow при создании заказа.
func (v *Vault) Lock(amountMinor int64) error {
	if amountMinor <= 0 {
		return fmt.Errorf("custody: lock amount must be positive: %w", domain.ErrInvalidInput)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.escrowed += amountMinor
	return nil
}

// Release выплачивает amount из escrow на payout-баланс стороны.
// Используется и для выплаты продавцу, и для возврата покупателю —
// ledger решает, кому и сколько.
func (v *Vault) Release(party string, amountMinor int64) error {
	if party == "" {
		return fmt.Errorf("custody: release party is required: %w", domain.ErrInvalidInput)
	}
	if amountMinor <= 0 {
		return fmt.Errorf("custody: release amount must be positive: %w", domain.ErrInvalidInput)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if amountMinor > v.escrowed {
		return fmt.Errorf("custody: release %d exceeds escrowed %d: %w",
			amountMinor, v.escrowed, domain.ErrCustodyUnderflow)
	}
	v.escrowed -= amountMinor
	v.balances[party] += amountMinor
	return nil
}

// EscrowedMinor возвращает текущую удержанную сумму.
func (v *Vault) EscrowedMinor() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.escrowed
}

// BalanceMinor возвращает payout-баланс стороны.
func (v *Vault) BalanceMinor(party string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[party]
}

// Balances возвращает копию всех payout-балансов.
func (v *Vault) Balances() map[string]int64 {
	v.mu.Lock()
	defer v.mu.Unlock()

	result := make(map[string]int64, len(v.balances))
	for party, balance := range v.balances {
		result[party] = balance
	}
	return result
}
