package account

import (
	"context"

	"ledger-engine/internal/pkg/txscope"
)

// VersionedWrite pairs an updated account with the version it was read at.
type VersionedWrite struct {
	Account         *Account
	ExpectedVersion int64
}

// Release ends a pessimistic lock. It is safe to call more than once.
type Release func()

// Repository is the Ledger Store contract for accounts. Implementations
// return apperrors.ErrAccountNotFound for missing rows and
// apperrors.ErrConcurrentModification when a stored version no longer matches.
type Repository interface {
	txscope.Beginner

	// Create inserts a new account and assigns its ID and initial version.
	Create(ctx context.Context, acc *Account) error

	Load(ctx context.Context, id int64) (*Account, error)

	LoadByNumber(ctx context.Context, number string) (*Account, error)

	// SaveIfVersionMatches persists acc only if the stored version equals
	// expectedVersion. On success acc.Version is advanced and returned.
	SaveIfVersionMatches(ctx context.Context, acc *Account, expectedVersion int64) (int64, error)

	// SaveAll applies every write atomically: all versions must match or
	// nothing is written.
	SaveAll(ctx context.Context, writes []VersionedWrite) error

	// LockForUpdate takes an exclusive lock on one account. Stores backed by
	// a database bind the lock to the active transaction scope and fail with
	// apperrors.ErrInvalidState outside one.
	LockForUpdate(ctx context.Context, id int64) (Release, error)

	// ListInterestEligible returns active accounts carrying an interest rate.
	ListInterestEligible(ctx context.Context) ([]*Account, error)
}
