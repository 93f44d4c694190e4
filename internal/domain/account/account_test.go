package account_test

import (
	"testing"
	"time"

	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/pkg/apperrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func activeAccount(balance, overdraft string) *account.Account {
	acc := account.New("ACC-1", account.TypeChecking, "")
	acc.ID = 1
	acc.Status = account.StatusActive
	acc.Balance = dec(balance)
	acc.OverdraftLimit = dec(overdraft)
	return acc
}

func TestNewAccount(t *testing.T) {
	acc := account.New("ACC-42", account.TypeSavings, "")

	assert.Equal(t, "ACC-42", acc.Number)
	assert.Equal(t, account.TypeSavings, acc.Type)
	assert.Equal(t, account.StatusPendingApproval, acc.Status)
	assert.Equal(t, account.DefaultCurrency, acc.Currency)
	assert.True(t, acc.Balance.IsZero())
	assert.True(t, acc.OverdraftLimit.IsZero())
	assert.Nil(t, acc.InterestRate)
	assert.Equal(t, acc.CreatedAt, acc.UpdatedAt)
}

func TestAccountDebitOverdraftBoundary(t *testing.T) {
	now := time.Now()

	t.Run("withdrawing balance plus overdraft reaches the floor", func(t *testing.T) {
		acc := activeAccount("100.00", "50.00")
		require.NoError(t, acc.Debit(dec("150.00"), now))
		assert.True(t, acc.Balance.Equal(dec("-50.00")))
	})

	t.Run("one more cent is insufficient", func(t *testing.T) {
		acc := activeAccount("100.00", "50.00")
		err := acc.Debit(dec("150.01"), now)
		assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
		assert.True(t, acc.Balance.Equal(dec("100.00")))
	})

	t.Run("no overdraft by default", func(t *testing.T) {
		acc := activeAccount("10.00", "0")
		assert.ErrorIs(t, acc.Debit(dec("10.01"), now), apperrors.ErrInsufficientFunds)
	})
}

func TestAccountMutationsRequireActive(t *testing.T) {
	now := time.Now()
	for _, status := range []account.Status{account.StatusPendingApproval, account.StatusFrozen, account.StatusClosed} {
		t.Run(string(status), func(t *testing.T) {
			acc := activeAccount("10", "0")
			acc.Status = status
			assert.ErrorIs(t, acc.Credit(dec("1"), now), apperrors.ErrInvalidState)
			assert.ErrorIs(t, acc.Debit(dec("1"), now), apperrors.ErrInvalidState)
		})
	}
}

func TestAccountLifecycle(t *testing.T) {
	now := time.Now()
	acc := account.New("ACC-7", account.TypeChecking, "EUR")

	require.NoError(t, acc.Activate(now))
	assert.Equal(t, account.StatusActive, acc.Status)

	require.NoError(t, acc.Freeze(now))
	assert.Equal(t, account.StatusFrozen, acc.Status)
	assert.ErrorIs(t, acc.Freeze(now), apperrors.ErrInvalidState)

	require.NoError(t, acc.Activate(now))

	acc.Balance = dec("0.01")
	assert.ErrorIs(t, acc.Close(now), apperrors.ErrInvalidState)

	acc.Balance = decimal.Zero
	require.NoError(t, acc.Close(now))
	assert.Equal(t, account.StatusClosed, acc.Status)
	assert.ErrorIs(t, acc.Close(now), apperrors.ErrInvalidState)
	assert.ErrorIs(t, acc.Activate(now), apperrors.ErrInvalidState)
}

func TestMonthlyInterest(t *testing.T) {
	tests := []struct {
		name     string
		balance  string
		rate     string
		expected string
	}{
		{name: "rounds up from a third of a cent", balance: "1000.00", rate: "0.05", expected: "4.17"},
		{name: "half cent rounds up", balance: "30.00", rate: "0.05", expected: "0.13"},
		{name: "exact", balance: "1200.00", rate: "0.12", expected: "12.00"},
		{name: "zero balance", balance: "0", rate: "0.05", expected: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := activeAccount(tt.balance, "0")
			rate := dec(tt.rate)
			acc.InterestRate = &rate
			assert.True(t, acc.MonthlyInterest().Equal(dec(tt.expected)), "got %s", acc.MonthlyInterest())
		})
	}

	t.Run("no rate yields zero", func(t *testing.T) {
		assert.True(t, activeAccount("100", "0").MonthlyInterest().IsZero())
	})
}

func TestEligibleForInterest(t *testing.T) {
	rate := dec("0.02")

	acc := activeAccount("1", "0")
	assert.False(t, acc.EligibleForInterest())

	acc.InterestRate = &rate
	assert.True(t, acc.EligibleForInterest())

	acc.Status = account.StatusFrozen
	assert.False(t, acc.EligibleForInterest())
}

func TestCloneIsDeep(t *testing.T) {
	rate := dec("0.02")
	acc := activeAccount("1", "0")
	acc.InterestRate = &rate

	c := acc.Clone()
	*c.InterestRate = dec("0.5")
	c.Balance = dec("99")

	assert.True(t, acc.InterestRate.Equal(dec("0.02")))
	assert.True(t, acc.Balance.Equal(dec("1")))
}
