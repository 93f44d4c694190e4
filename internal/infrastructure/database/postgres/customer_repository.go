package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"ledger-engine/internal/domain/customer"
	"ledger-engine/internal/pkg/apperrors"

	"github.com/jackc/pgx/v5"
)

type CustomerRepository struct {
	db     DBPool
	logger *slog.Logger
}

var _ customer.Repository = (*CustomerRepository)(nil)

func NewCustomerRepository(db DBPool, logger *slog.Logger) *CustomerRepository {
	if db == nil {
		panic("DBPool cannot be nil for CustomerRepository")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		logger.Warn("Warning: No logger provided to NewCustomerRepository, using default stderr handler")
	}
	return &CustomerRepository{
		db:     db,
		logger: logger.With("component", "CustomerRepository"),
	}
}

func (r *CustomerRepository) Save(ctx context.Context, cust *customer.Customer) error {
	if cust == nil {
		return fmt.Errorf("%w: customer cannot be nil", apperrors.ErrInvalidArgument)
	}

	if cust.ID == 0 {
		return r.createCustomer(ctx, cust)
	}
	return r.updateCustomer(ctx, cust)
}

func (r *CustomerRepository) createCustomer(ctx context.Context, cust *customer.Customer) error {
	r.logger.InfoContext(ctx, "Attempting to insert new customer")

	query := `
        INSERT INTO customers (name, email, status, created_at, updated_at)
        VALUES ($1, $2, $3, NOW(), NOW())
        RETURNING id, created_at, updated_at`

	start := time.Now()
	err := conn(ctx, r.db).QueryRow(ctx, query,
		cust.Name,
		cust.Email,
		string(cust.Status),
	).Scan(
		&cust.ID,
		&cust.CreatedAt,
		&cust.UpdatedAt,
	)
	observe("customer_insert", start, err)

	if err != nil {
		translatedErr := translateDBError(err, r.logger)
		if errors.Is(translatedErr, apperrors.ErrAlreadyExists) {
			r.logger.WarnContext(ctx, "Failed to insert customer due to unique constraint violation")
			return translatedErr
		}
		r.logger.ErrorContext(ctx, "Failed to insert customer", slog.Any("error", err))
		return fmt.Errorf("%w: failed to insert customer: %w", apperrors.ErrDatabase, err)
	}

	r.logger.InfoContext(ctx, "Customer inserted successfully", slog.Int64("customerID", cust.ID))
	return nil
}

func (r *CustomerRepository) updateCustomer(ctx context.Context, cust *customer.Customer) error {
	query := `
        UPDATE customers
        SET name = $1,
            email = $2,
            status = $3,
            updated_at = NOW()
        WHERE id = $4`

	start := time.Now()
	cmdTag, err := conn(ctx, r.db).Exec(ctx, query,
		cust.Name,
		cust.Email,
		string(cust.Status),
		cust.ID,
	)
	observe("customer_update", start, err)

	if err != nil {
		translatedErr := translateDBError(err, r.logger)
		if errors.Is(translatedErr, apperrors.ErrAlreadyExists) {
			r.logger.WarnContext(ctx, "Failed to update customer due to unique constraint violation", slog.Any("error", err))
			return translatedErr
		}
		r.logger.ErrorContext(ctx, "Failed to update customer", slog.Any("error", err))
		return fmt.Errorf("%w: failed to update customer: %w", apperrors.ErrDatabase, err)
	}

	if cmdTag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Update affected zero rows, customer likely not found", slog.Int64("customerID", cust.ID))
		return fmt.Errorf("%w: id %d", apperrors.ErrCustomerNotFound, cust.ID)
	}

	return nil
}

func (r *CustomerRepository) findOne(ctx context.Context, queryName, where string, arg any) (*customer.Customer, error) {
	query := `
        SELECT id, name, email, status, created_at, updated_at
        FROM customers
        WHERE ` + where

	var (
		cust   customer.Customer
		status string
	)
	start := time.Now()
	err := conn(ctx, r.db).QueryRow(ctx, query, arg).Scan(
		&cust.ID,
		&cust.Name,
		&cust.Email,
		&status,
		&cust.CreatedAt,
		&cust.UpdatedAt,
	)
	observe(queryName, start, err)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Customer not found", slog.Any("key", arg))
			return nil, fmt.Errorf("%w: %v", apperrors.ErrCustomerNotFound, arg)
		}
		r.logger.ErrorContext(ctx, "Failed to query/scan customer", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to get customer: %w", apperrors.ErrDatabase, err)
	}
	cust.Status = customer.Status(status)

	ids, err := r.AccountIDs(ctx, cust.ID)
	if err != nil {
		return nil, err
	}
	cust.AccountIDs = ids
	return &cust, nil
}

func (r *CustomerRepository) FindByID(ctx context.Context, customerID int64) (*customer.Customer, error) {
	return r.findOne(ctx, "customer_by_id", "id = $1", customerID)
}

func (r *CustomerRepository) FindByEmail(ctx context.Context, email string) (*customer.Customer, error) {
	return r.findOne(ctx, "customer_by_email", "email = $1", email)
}

func (r *CustomerRepository) SaveProfile(ctx context.Context, profile *customer.Profile) error {
	if profile == nil {
		return fmt.Errorf("%w: profile cannot be nil", apperrors.ErrInvalidArgument)
	}

	query := `
        INSERT INTO customer_profiles (customer_id, kyc_status, tax_id, nationality, date_of_birth, phone, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
        ON CONFLICT (customer_id) DO UPDATE
        SET kyc_status = EXCLUDED.kyc_status,
            tax_id = EXCLUDED.tax_id,
            nationality = EXCLUDED.nationality,
            date_of_birth = EXCLUDED.date_of_birth,
            phone = EXCLUDED.phone,
            updated_at = NOW()`

	var dob *time.Time
	if !profile.DateOfBirth.IsZero() {
		dob = &profile.DateOfBirth
	}

	start := time.Now()
	_, err := conn(ctx, r.db).Exec(ctx, query,
		profile.CustomerID,
		string(profile.KYCStatus),
		profile.TaxID,
		profile.Nationality,
		dob,
		profile.Phone,
	)
	observe("profile_upsert", start, err)
	if err != nil {
		translated := translateDBError(err, r.logger)
		if errors.Is(translated, apperrors.ErrNotFound) {
			return fmt.Errorf("%w: id %d", apperrors.ErrCustomerNotFound, profile.CustomerID)
		}
		r.logger.ErrorContext(ctx, "Failed to save profile", slog.Int64("customerID", profile.CustomerID), slog.Any("error", err))
		return translated
	}
	return nil
}

func (r *CustomerRepository) FindProfile(ctx context.Context, customerID int64) (*customer.Profile, error) {
	query := `
        SELECT customer_id, kyc_status, tax_id, nationality, date_of_birth, phone, updated_at
        FROM customer_profiles
        WHERE customer_id = $1`

	var (
		p      customer.Profile
		status string
		dob    *time.Time
	)
	start := time.Now()
	err := conn(ctx, r.db).QueryRow(ctx, query, customerID).Scan(
		&p.CustomerID,
		&status,
		&p.TaxID,
		&p.Nationality,
		&dob,
		&p.Phone,
		&p.UpdatedAt,
	)
	observe("profile_by_customer", start, err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.missingProfile(ctx, customerID)
		}
		r.logger.ErrorContext(ctx, "Failed to query/scan profile", slog.Int64("customerID", customerID), slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to get profile: %w", apperrors.ErrDatabase, err)
	}
	p.KYCStatus = customer.KYCStatus(status)
	if dob != nil {
		p.DateOfBirth = *dob
	}
	return &p, nil
}

// missingProfile tells a missing customer apart from a customer without a
// profile row.
func (r *CustomerRepository) missingProfile(ctx context.Context, customerID int64) error {
	var exists bool
	err := conn(ctx, r.db).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, customerID).Scan(&exists)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to check customer existence", slog.Int64("customerID", customerID), slog.Any("error", err))
		return fmt.Errorf("%w: failed to get profile: %w", apperrors.ErrDatabase, err)
	}
	if !exists {
		return fmt.Errorf("%w: id %d", apperrors.ErrCustomerNotFound, customerID)
	}
	r.logger.WarnContext(ctx, "Customer has no profile", slog.Int64("customerID", customerID))
	return fmt.Errorf("%w: customer %d", apperrors.ErrProfileNotFound, customerID)
}

func (r *CustomerRepository) AddAccount(ctx context.Context, customerID, accountID int64) error {
	query := `
        INSERT INTO customer_accounts (customer_id, account_id)
        VALUES ($1, $2)
        ON CONFLICT DO NOTHING`

	start := time.Now()
	_, err := conn(ctx, r.db).Exec(ctx, query, customerID, accountID)
	observe("customer_account_link", start, err)
	if err != nil {
		translated := translateDBError(err, r.logger)
		if errors.Is(translated, apperrors.ErrNotFound) {
			r.logger.WarnContext(ctx, "Link references a missing customer or account", slog.Int64("customerID", customerID), slog.Int64("accountID", accountID))
		}
		return translated
	}
	r.logger.InfoContext(ctx, "Account linked to customer", slog.Int64("customerID", customerID), slog.Int64("accountID", accountID))
	return nil
}

func (r *CustomerRepository) RemoveAccount(ctx context.Context, customerID, accountID int64) error {
	query := `DELETE FROM customer_accounts WHERE customer_id = $1 AND account_id = $2`

	start := time.Now()
	_, err := conn(ctx, r.db).Exec(ctx, query, customerID, accountID)
	observe("customer_account_unlink", start, err)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to unlink account", slog.Any("error", err))
		return translateDBError(err, r.logger)
	}
	return nil
}

func (r *CustomerRepository) AccountIDs(ctx context.Context, customerID int64) ([]int64, error) {
	query := `SELECT account_id FROM customer_accounts WHERE customer_id = $1 ORDER BY account_id`

	start := time.Now()
	rows, err := conn(ctx, r.db).Query(ctx, query, customerID)
	observe("customer_accounts", start, err)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to query customer accounts", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to query customer accounts: %w", apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: failed scanning account id: %w", apperrors.ErrDatabase, err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating customer accounts: %w", apperrors.ErrDatabase, err)
	}
	return ids, nil
}
