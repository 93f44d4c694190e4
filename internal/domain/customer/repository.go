package customer

import (
	"context"
)

// Repository returns apperrors.ErrCustomerNotFound for missing customers,
// apperrors.ErrProfileNotFound for an existing customer without a profile and
// apperrors.ErrAlreadyExists when an email is taken.
type Repository interface {
	// Save inserts when ID is zero and updates otherwise.
	Save(ctx context.Context, customer *Customer) error

	FindByID(ctx context.Context, customerID int64) (*Customer, error)

	FindByEmail(ctx context.Context, email string) (*Customer, error)

	SaveProfile(ctx context.Context, profile *Profile) error

	FindProfile(ctx context.Context, customerID int64) (*Profile, error)

	// AddAccount and RemoveAccount maintain the customer/account association
	// table. Both are idempotent.
	AddAccount(ctx context.Context, customerID, accountID int64) error

	RemoveAccount(ctx context.Context, customerID, accountID int64) error

	AccountIDs(ctx context.Context, customerID int64) ([]int64, error)
}
