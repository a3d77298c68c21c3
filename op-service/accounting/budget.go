package accounting

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"
)

type OverdraftError struct {
	Remaining *uint256.Int
	Requested *uint256.Int
}

func (e *OverdraftError) Error() string {
	return fmt.Sprintf("overdraft: requested %s wei with %s wei remaining", e.Requested.Dec(), e.Remaining.Dec())
}

// Budget is a thread-safe wei balance. An overdraft empties it, so a depleted
// budget stays depleted until it is credited again.
type Budget struct {
	mu      sync.Mutex
	balance *uint256.Int
}

func NewBudget(initial *uint256.Int) *Budget {
	return &Budget{
		balance: new(uint256.Int).Set(initial),
	}
}

func (b *Budget) Debit(amount *uint256.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balance.Lt(amount) {
		b.balance.Clear()
		return &OverdraftError{
			Remaining: new(uint256.Int),
			Requested: new(uint256.Int).Set(amount),
		}
	}
	b.balance.Sub(b.balance, amount)
	return nil
}

// Credit adds amount to the balance, saturating at the max uint256 value.
func (b *Budget) Credit(amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, overflow := b.balance.AddOverflow(b.balance, amount); overflow {
		b.balance.SetAllOne()
	}
}

func (b *Budget) Balance() *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(uint256.Int).Set(b.balance)
}
