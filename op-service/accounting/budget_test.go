package accounting_test

import (
	"errors"
	"math"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/yhl125/op-soak/op-service/accounting"
)

func ether(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1e18))
}

var maxU256 = new(uint256.Int).SetAllOne()

func TestBudgetDebit(t *testing.T) {
	t.Run("successful debit reduces remaining balance", func(t *testing.T) {
		budget := accounting.NewBudget(ether(10))

		require.NoError(t, budget.Debit(ether(3)))
		require.Equal(t, ether(7), budget.Balance())

		require.NoError(t, budget.Debit(ether(2)))
		require.Equal(t, ether(5), budget.Balance())
	})

	t.Run("exact debit empties budget", func(t *testing.T) {
		budget := accounting.NewBudget(ether(5))

		err := budget.Debit(ether(5))
		require.NoError(t, err)
		require.True(t, budget.Balance().IsZero())
	})

	t.Run("debit with insufficient funds returns error", func(t *testing.T) {
		budget := accounting.NewBudget(ether(3))

		err := budget.Debit(ether(5))
		require.Error(t, err)

		var insufficientErr *accounting.OverdraftError
		require.True(t, errors.As(err, &insufficientErr))
		require.Equal(t, &accounting.OverdraftError{
			Remaining: new(uint256.Int),
			Requested: ether(5),
		}, insufficientErr)
		require.True(t, budget.Balance().IsZero())
	})

	t.Run("debit from zero budget returns error", func(t *testing.T) {
		budget := accounting.NewBudget(new(uint256.Int))

		err := budget.Debit(uint256.NewInt(1))
		var overdraftErr *accounting.OverdraftError
		require.ErrorAs(t, err, &overdraftErr)
		require.Equal(t, uint256.NewInt(1), overdraftErr.Requested)
		require.True(t, budget.Balance().IsZero())
	})

	t.Run("multiple overdrafts maintain zero balance", func(t *testing.T) {
		budget := accounting.NewBudget(ether(1))

		require.Error(t, budget.Debit(ether(2)))
		require.True(t, budget.Balance().IsZero())

		require.Error(t, budget.Debit(uint256.NewInt(1)))
		require.True(t, budget.Balance().IsZero())
	})

	t.Run("balance is a copy", func(t *testing.T) {
		budget := accounting.NewBudget(ether(1))
		bal := budget.Balance()
		bal.SetUint64(math.MaxUint64)
		require.Equal(t, ether(1), budget.Balance())
	})
}

func TestBudgetCredit(t *testing.T) {
	t.Run("credit increases remaining balance", func(t *testing.T) {
		budget := accounting.NewBudget(ether(5))

		budget.Credit(ether(3))
		require.Equal(t, ether(8), budget.Balance())

		budget.Credit(ether(2))
		require.Equal(t, ether(10), budget.Balance())
	})

	t.Run("credit to zero budget", func(t *testing.T) {
		budget := accounting.NewBudget(new(uint256.Int))
		budget.Credit(ether(7))
		require.Equal(t, ether(7), budget.Balance())
	})

	t.Run("credit prevents overflow by setting to max", func(t *testing.T) {
		budget := accounting.NewBudget(maxU256)
		budget.Credit(uint256.NewInt(1))
		require.Equal(t, maxU256, budget.Balance())
	})

	t.Run("credit near-max value causes overflow protection", func(t *testing.T) {
		// Start with a value close to max
		nearMax := new(uint256.Int).Sub(maxU256, ether(1))
		budget := accounting.NewBudget(nearMax)

		// Credit more than the remaining space
		budget.Credit(ether(2))
		require.Equal(t, maxU256, budget.Balance())
	})
}
