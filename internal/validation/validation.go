// Package validation holds the stateless checks run before any ledger or
// onboarding I/O. Every function is pure and safe for concurrent use.
package validation

import (
	"fmt"
	"strings"

	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/domain/customer"
	"ledger-engine/internal/pkg/apperrors"

	"github.com/shopspring/decimal"
)

// errTransferAmount is both an invalid argument and an invalid amount.
var errTransferAmount = fmt.Errorf("%w: %w", apperrors.ErrInvalidArgument, apperrors.ErrInvalidAmount)

func checkAmount(kind error, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.NewValidationError(kind, "amount",
			fmt.Sprintf("amount must be positive, got %s", amount.String()))
	}
	if !amount.Equal(amount.Truncate(account.MoneyPlaces)) {
		return apperrors.NewValidationError(kind, "amount",
			fmt.Sprintf("amount %s has more than %d decimal places", amount.String(), account.MoneyPlaces))
	}
	return nil
}

// ValidateAmount accepts strictly positive values with at most two decimal places.
func ValidateAmount(amount decimal.Decimal) error {
	return checkAmount(apperrors.ErrInvalidAmount, amount)
}

// ParseAmount parses a decimal string and validates it.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, apperrors.NewValidationError(apperrors.ErrInvalidAmount, "amount", "amount is required")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperrors.NewValidationError(apperrors.ErrInvalidAmount, "amount",
			fmt.Sprintf("amount %q is not a decimal number", raw))
	}
	if err := ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

func ValidateAccountID(field string, id int64) error {
	if id <= 0 {
		return apperrors.NewValidationError(apperrors.ErrInvalidArgument, field,
			fmt.Sprintf("account id must be positive, got %d", id))
	}
	return nil
}

func ValidateTransferRequest(fromID, toID int64, amount decimal.Decimal) error {
	if err := ValidateAccountID("fromAccountId", fromID); err != nil {
		return err
	}
	if err := ValidateAccountID("toAccountId", toID); err != nil {
		return err
	}
	if fromID == toID {
		return apperrors.NewValidationError(apperrors.ErrInvalidArgument, "toAccountId",
			fmt.Sprintf("cannot transfer from account %d to itself", fromID))
	}
	return checkAmount(errTransferAmount, amount)
}

// ValidateCustomerState rejects missing, deleted and frozen customers.
func ValidateCustomerState(c *customer.Customer) error {
	if c == nil {
		return apperrors.ErrCustomerNotFound
	}
	switch c.Status {
	case customer.StatusDeleted:
		return fmt.Errorf("%w: customer %d is deleted", apperrors.ErrInvalidState, c.ID)
	case customer.StatusFrozen:
		return fmt.Errorf("%w: customer %d is frozen", apperrors.ErrInvalidState, c.ID)
	}
	return nil
}

func ValidateAccountState(a *account.Account) error {
	if a == nil {
		return apperrors.ErrAccountNotFound
	}
	if a.Status != account.StatusActive {
		return fmt.Errorf("%w: account %d is %s", apperrors.ErrInvalidState, a.ID, a.Status)
	}
	return nil
}

func ValidateAccountType(t account.Type) error {
	if !t.Valid() {
		return apperrors.NewValidationError(apperrors.ErrInvalidArgument, "type",
			fmt.Sprintf("unknown account type %q", string(t)))
	}
	return nil
}
