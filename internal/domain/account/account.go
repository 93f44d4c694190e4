package account

import (
	"fmt"
	"time"

	"ledger-engine/internal/pkg/apperrors"

	"github.com/shopspring/decimal"
)

const (
	DefaultCurrency = "USD"
	MoneyPlaces     = 2
	monthsPerYear   = 12
)

type Type string

const (
	TypeChecking   Type = "CHECKING"
	TypeSavings    Type = "SAVINGS"
	TypeInvestment Type = "INVESTMENT"
)

func (t Type) Valid() bool {
	switch t {
	case TypeChecking, TypeSavings, TypeInvestment:
		return true
	}
	return false
}

type Status string

const (
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusActive          Status = "ACTIVE"
	StatusFrozen          Status = "FROZEN"
	StatusClosed          Status = "CLOSED"
)

// Account is a versioned balance record. Version is owned by the store and
// advances by one on every successful write.
type Account struct {
	ID                 int64
	Number             string
	Type               Type
	Status             Status
	Currency           string
	Balance            decimal.Decimal
	InterestRate       *decimal.Decimal
	OverdraftLimit     decimal.Decimal
	LastInterestPeriod string
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func New(number string, t Type, currency string) *Account {
	if currency == "" {
		currency = DefaultCurrency
	}
	now := time.Now()
	return &Account{
		Number:         number,
		Type:           t,
		Status:         StatusPendingApproval,
		Currency:       currency,
		Balance:        decimal.Zero,
		OverdraftLimit: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (a *Account) Clone() *Account {
	c := *a
	if a.InterestRate != nil {
		r := *a.InterestRate
		c.InterestRate = &r
	}
	return &c
}

// Floor is the lowest balance the account may reach.
func (a *Account) Floor() decimal.Decimal {
	return a.OverdraftLimit.Neg()
}

func (a *Account) CanDebit(amount decimal.Decimal) bool {
	return !a.Balance.Sub(amount).LessThan(a.Floor())
}

func (a *Account) requireActive() error {
	if a.Status != StatusActive {
		return fmt.Errorf("%w: account %d is %s", apperrors.ErrInvalidState, a.ID, a.Status)
	}
	return nil
}

func (a *Account) Credit(amount decimal.Decimal, now time.Time) error {
	if err := a.requireActive(); err != nil {
		return err
	}
	a.Balance = a.Balance.Add(amount)
	a.UpdatedAt = now
	return nil
}

func (a *Account) Debit(amount decimal.Decimal, now time.Time) error {
	if err := a.requireActive(); err != nil {
		return err
	}
	if !a.CanDebit(amount) {
		return fmt.Errorf("%w: account %d balance %s cannot cover %s (floor %s)",
			apperrors.ErrInsufficientFunds, a.ID, a.Balance.StringFixed(MoneyPlaces), amount.StringFixed(MoneyPlaces), a.Floor().StringFixed(MoneyPlaces))
	}
	a.Balance = a.Balance.Sub(amount)
	a.UpdatedAt = now
	return nil
}

func (a *Account) Activate(now time.Time) error {
	switch a.Status {
	case StatusActive:
		return nil
	case StatusPendingApproval, StatusFrozen:
		a.Status = StatusActive
		a.UpdatedAt = now
		return nil
	}
	return fmt.Errorf("%w: cannot activate account %d in status %s", apperrors.ErrInvalidState, a.ID, a.Status)
}

func (a *Account) Freeze(now time.Time) error {
	if a.Status != StatusActive {
		return fmt.Errorf("%w: cannot freeze account %d in status %s", apperrors.ErrInvalidState, a.ID, a.Status)
	}
	a.Status = StatusFrozen
	a.UpdatedAt = now
	return nil
}

// Close requires a zero balance.
func (a *Account) Close(now time.Time) error {
	if a.Status == StatusClosed {
		return fmt.Errorf("%w: account %d is already closed", apperrors.ErrInvalidState, a.ID)
	}
	if !a.Balance.IsZero() {
		return fmt.Errorf("%w: account %d has non-zero balance %s", apperrors.ErrInvalidState, a.ID, a.Balance.StringFixed(MoneyPlaces))
	}
	a.Status = StatusClosed
	a.UpdatedAt = now
	return nil
}

func (a *Account) EligibleForInterest() bool {
	return a.InterestRate != nil && a.Status == StatusActive
}

// MonthlyInterest is balance * annual rate / 12 rounded half-up to cents.
func (a *Account) MonthlyInterest() decimal.Decimal {
	if a.InterestRate == nil {
		return decimal.Zero
	}
	return a.Balance.Mul(*a.InterestRate).Div(decimal.NewFromInt(monthsPerYear)).Round(MoneyPlaces)
}
