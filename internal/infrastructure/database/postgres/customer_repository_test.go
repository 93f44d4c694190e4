package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"ledger-engine/internal/domain/customer"
	"ledger-engine/internal/pkg/apperrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCustomerRepo(t *testing.T) (context.Context, *CustomerRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to open a stub database connection: %v", err)
	}

	ctx := context.Background()
	repo := NewCustomerRepository(mockPool, logger)

	return ctx, repo, mockPool
}

var customerColumns = []string{"id", "name", "email", "status", "created_at", "updated_at"}

func TestCreateCustomerWhenSuccess(t *testing.T) {
	ctx, repo, mockPool := setupCustomerRepo(t)
	defer mockPool.Close()

	cust := customer.NewCustomer("John Doe", "john@example.com")
	now := time.Now()
	mockPool.ExpectQuery(regexp.QuoteMeta("INSERT INTO customers (name, email, status, created_at, updated_at)")).
		WithArgs("John Doe", "john@example.com", "PENDING").
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(int64(1), now, now))

	err := repo.Save(ctx, cust)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), cust.ID)
	assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
}

func TestCreateCustomerWhenEmailTaken(t *testing.T) {
	ctx, repo, mockPool := setupCustomerRepo(t)
	defer mockPool.Close()

	mockPool.ExpectQuery(regexp.QuoteMeta("INSERT INTO customers")).
		WithArgs("John Doe", "john@example.com", "PENDING").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "customers_email_key"})

	err := repo.Save(ctx, customer.NewCustomer("John Doe", "john@example.com"))
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
	assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
}

func TestSaveExistingCustomerWhenSuccess(t *testing.T) {
	ctx, repo, mockPool := setupCustomerRepo(t)
	defer mockPool.Close()

	cust := &customer.Customer{ID: 4, Name: "John Doe", Email: "john@example.com", Status: customer.StatusActive}
	mockPool.ExpectExec(regexp.QuoteMeta("UPDATE customers")).
		WithArgs("John Doe", "john@example.com", "ACTIVE", int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, repo.Save(ctx, cust))
	assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
}

func TestSaveExistingCustomerWhenMissing(t *testing.T) {
	ctx, repo, mockPool := setupCustomerRepo(t)
	defer mockPool.Close()

	mockPool.ExpectExec(regexp.QuoteMeta("UPDATE customers")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), int64(4)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Save(ctx, &customer.Customer{ID: 4, Status: customer.StatusActive})
	assert.ErrorIs(t, err, apperrors.ErrCustomerNotFound)
}

func TestFindCustomerByIDLoadsAccounts(t *testing.T) {
	ctx, repo, mockPool := setupCustomerRepo(t)
	defer mockPool.Close()

	now := time.Now()
	mockPool.ExpectQuery(regexp.QuoteMeta("FROM customers")).
		WithArgs(int64(4)).
		WillReturnRows(pgxmock.NewRows(customerColumns).AddRow(int64(4), "John Doe", "john@example.com", "ACTIVE", now, now))
	mockPool.ExpectQuery(regexp.QuoteMeta("SELECT account_id FROM customer_accounts")).
		WithArgs(int64(4)).
		WillReturnRows(pgxmock.NewRows([]string{"account_id"}).AddRow(int64(10)).AddRow(int64(12)))

	cust, err := repo.FindByID(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, customer.StatusActive, cust.Status)
	assert.Equal(t, []int64{10, 12}, cust.AccountIDs)
	assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
}

func TestFindCustomerByEmailNotFound(t *testing.T) {
	ctx, repo, mockPool := setupCustomerRepo(t)
	defer mockPool.Close()

	mockPool.ExpectQuery(regexp.QuoteMeta("WHERE email = $1")).
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.FindByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, apperrors.ErrCustomerNotFound)
}

func TestSaveAndFindProfile(t *testing.T) {
	ctx, repo, mockPool := setupCustomerRepo(t)
	defer mockPool.Close()

	dob := time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC)
	profile := &customer.Profile{CustomerID: 4, KYCStatus: customer.KYCVerified, TaxID: "T-1", Nationality: "ID", DateOfBirth: dob}

	mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO customer_profiles")).
		WithArgs(int64(4), "VERIFIED", "T-1", "ID", &dob, "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectQuery(regexp.QuoteMeta("FROM customer_profiles")).
		WithArgs(int64(4)).
		WillReturnRows(pgxmock.NewRows([]string{"customer_id", "kyc_status", "tax_id", "nationality", "date_of_birth", "phone", "updated_at"}).
			AddRow(int64(4), "VERIFIED", "T-1", "ID", &dob, "", time.Now()))

	require.NoError(t, repo.SaveProfile(ctx, profile))
	got, err := repo.FindProfile(ctx, 4)
	require.NoError(t, err)
	assert.True(t, got.Verified())
	assert.True(t, got.DateOfBirth.Equal(dob))
	assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
}

func TestFindProfileWhenMissing(t *testing.T) {
	t.Run("Customer without profile", func(t *testing.T) {
		ctx, repo, mockPool := setupCustomerRepo(t)
		defer mockPool.Close()

		mockPool.ExpectQuery(regexp.QuoteMeta("FROM customer_profiles")).
			WithArgs(int64(4)).
			WillReturnError(pgx.ErrNoRows)
		mockPool.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)")).
			WithArgs(int64(4)).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		_, err := repo.FindProfile(ctx, 4)
		assert.ErrorIs(t, err, apperrors.ErrProfileNotFound)
		assert.NotErrorIs(t, err, apperrors.ErrCustomerNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
	})

	t.Run("Unknown customer", func(t *testing.T) {
		ctx, repo, mockPool := setupCustomerRepo(t)
		defer mockPool.Close()

		mockPool.ExpectQuery(regexp.QuoteMeta("FROM customer_profiles")).
			WithArgs(int64(9)).
			WillReturnError(pgx.ErrNoRows)
		mockPool.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
			WithArgs(int64(9)).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := repo.FindProfile(ctx, 9)
		assert.ErrorIs(t, err, apperrors.ErrCustomerNotFound)
		assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
	})
}

func TestAccountLinks(t *testing.T) {
	t.Run("Add is idempotent", func(t *testing.T) {
		ctx, repo, mockPool := setupCustomerRepo(t)
		defer mockPool.Close()

		mockPool.ExpectExec(regexp.QuoteMeta("ON CONFLICT DO NOTHING")).
			WithArgs(int64(4), int64(10)).
			WillReturnResult(pgxmock.NewResult("INSERT", 0))

		assert.NoError(t, repo.AddAccount(ctx, 4, 10))
		assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
	})

	t.Run("Add with missing account", func(t *testing.T) {
		ctx, repo, mockPool := setupCustomerRepo(t)
		defer mockPool.Close()

		mockPool.ExpectExec(regexp.QuoteMeta("INSERT INTO customer_accounts")).
			WithArgs(int64(4), int64(99)).
			WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "customer_accounts_account_id_fkey"})

		assert.ErrorIs(t, repo.AddAccount(ctx, 4, 99), apperrors.ErrNotFound)
	})

	t.Run("Remove", func(t *testing.T) {
		ctx, repo, mockPool := setupCustomerRepo(t)
		defer mockPool.Close()

		mockPool.ExpectExec(regexp.QuoteMeta("DELETE FROM customer_accounts")).
			WithArgs(int64(4), int64(10)).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		assert.NoError(t, repo.RemoveAccount(ctx, 4, 10))
		assert.NoError(t, mockPool.ExpectationsWereMet(), pgxmockExpectationsNotMetMsg)
	})
}
