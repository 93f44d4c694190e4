package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/pkg/apperrors"
	"ledger-engine/internal/pkg/txscope"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const accountColumns = `id, number, type, status, currency, balance::text, interest_rate::text,
        overdraft_limit::text, last_interest_period, version, created_at, updated_at`

// advisoryLockSpace keeps account locks apart from other advisory lock users.
const advisoryLockSpace = 7001

type AccountRepository struct {
	db     DBPool
	logger *slog.Logger
}

var _ account.Repository = (*AccountRepository)(nil)

func NewAccountRepository(db DBPool, logger *slog.Logger) *AccountRepository {
	if db == nil {
		panic("DBPool cannot be nil for AccountRepository")
	}
	return &AccountRepository{db: db, logger: logger.With("component", "AccountRepository")}
}

func (r *AccountRepository) BeginScope(ctx context.Context, iso txscope.Isolation) (txscope.Tx, error) {
	return beginScope(ctx, r.db, iso, r.logger)
}

func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		acc                       account.Account
		balance, overdraft        string
		rate                      *string
		accountType, accountState string
	)
	err := row.Scan(
		&acc.ID,
		&acc.Number,
		&accountType,
		&accountState,
		&acc.Currency,
		&balance,
		&rate,
		&overdraft,
		&acc.LastInterestPeriod,
		&acc.Version,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	acc.Type = account.Type(accountType)
	acc.Status = account.Status(accountState)

	if acc.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("bad balance %q: %w", balance, err)
	}
	if acc.OverdraftLimit, err = decimal.NewFromString(overdraft); err != nil {
		return nil, fmt.Errorf("bad overdraft limit %q: %w", overdraft, err)
	}
	if rate != nil {
		d, err := decimal.NewFromString(*rate)
		if err != nil {
			return nil, fmt.Errorf("bad interest rate %q: %w", *rate, err)
		}
		acc.InterestRate = &d
	}
	return &acc, nil
}

func nullableRate(rate *decimal.Decimal) *string {
	if rate == nil {
		return nil
	}
	s := rate.String()
	return &s
}

func (r *AccountRepository) Create(ctx context.Context, acc *account.Account) error {
	if acc == nil {
		return fmt.Errorf("%w: account cannot be nil", apperrors.ErrInvalidArgument)
	}
	r.logger.DebugContext(ctx, "Attempting to insert new account", slog.String("number", acc.Number))

	query := `
        INSERT INTO accounts (number, type, status, currency, balance, interest_rate, overdraft_limit, last_interest_period, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, NOW(), NOW())
        RETURNING id, version, created_at, updated_at`

	start := time.Now()
	err := conn(ctx, r.db).QueryRow(ctx, query,
		acc.Number,
		string(acc.Type),
		string(acc.Status),
		acc.Currency,
		acc.Balance.String(),
		nullableRate(acc.InterestRate),
		acc.OverdraftLimit.String(),
		acc.LastInterestPeriod,
	).Scan(&acc.ID, &acc.Version, &acc.CreatedAt, &acc.UpdatedAt)
	observe("account_insert", start, err)

	if err != nil {
		translated := translateDBError(err, r.logger)
		if errors.Is(translated, apperrors.ErrAlreadyExists) {
			r.logger.WarnContext(ctx, "Account number already taken", slog.String("number", acc.Number))
			return translated
		}
		r.logger.ErrorContext(ctx, "Failed to insert account", slog.Any("error", err))
		return translated
	}

	r.logger.InfoContext(ctx, "Account inserted successfully", slog.Int64("accountID", acc.ID))
	return nil
}

func (r *AccountRepository) Load(ctx context.Context, id int64) (*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	start := time.Now()
	acc, err := scanAccount(conn(ctx, r.db).QueryRow(ctx, query, id))
	observe("account_load", start, err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Account not found", slog.Int64("accountID", id))
			return nil, fmt.Errorf("%w: id %d", apperrors.ErrAccountNotFound, id)
		}
		r.logger.ErrorContext(ctx, "Failed to query/scan account by ID", slog.Int64("accountID", id), slog.Any("error", err))
		return nil, translateDBError(err, r.logger)
	}
	return acc, nil
}

func (r *AccountRepository) LoadByNumber(ctx context.Context, number string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE number = $1`

	start := time.Now()
	acc, err := scanAccount(conn(ctx, r.db).QueryRow(ctx, query, number))
	observe("account_load_by_number", start, err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: number %s", apperrors.ErrAccountNotFound, number)
		}
		r.logger.ErrorContext(ctx, "Failed to query/scan account by number", slog.Any("error", err))
		return nil, translateDBError(err, r.logger)
	}
	return acc, nil
}

const versionedUpdate = `
        UPDATE accounts
        SET status = $1,
            balance = $2,
            interest_rate = $3,
            overdraft_limit = $4,
            last_interest_period = $5,
            version = version + 1,
            updated_at = $6
        WHERE id = $7 AND version = $8
        RETURNING version`

func (r *AccountRepository) update(ctx context.Context, q querier, acc *account.Account, expected int64) (int64, error) {
	start := time.Now()
	var version int64
	err := q.QueryRow(ctx, versionedUpdate,
		string(acc.Status),
		acc.Balance.String(),
		nullableRate(acc.InterestRate),
		acc.OverdraftLimit.String(),
		acc.LastInterestPeriod,
		acc.UpdatedAt,
		acc.ID,
		expected,
	).Scan(&version)
	observe("account_update", start, err)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, r.missOrConflict(ctx, q, acc.ID, expected)
	}
	if err != nil {
		return 0, translateDBError(err, r.logger)
	}
	return version, nil
}

// missOrConflict tells a deleted row apart from a stale version after an
// update matched nothing.
func (r *AccountRepository) missOrConflict(ctx context.Context, q querier, id, expected int64) error {
	var current int64
	err := q.QueryRow(ctx, `SELECT version FROM accounts WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: id %d", apperrors.ErrAccountNotFound, id)
	}
	if err != nil {
		return translateDBError(err, r.logger)
	}
	r.logger.WarnContext(ctx, "Stale account version", slog.Int64("accountID", id), slog.Int64("expected", expected), slog.Int64("current", current))
	return fmt.Errorf("%w: account %d is at version %d, expected %d", apperrors.ErrConcurrentModification, id, current, expected)
}

func (r *AccountRepository) SaveIfVersionMatches(ctx context.Context, acc *account.Account, expectedVersion int64) (int64, error) {
	version, err := r.update(ctx, conn(ctx, r.db), acc, expectedVersion)
	if err != nil {
		return 0, err
	}
	acc.Version = version
	return version, nil
}

func (r *AccountRepository) SaveAll(ctx context.Context, writes []account.VersionedWrite) error {
	if len(writes) == 0 {
		return nil
	}
	ordered := make([]account.VersionedWrite, len(writes))
	copy(ordered, writes)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Account.ID < ordered[j].Account.ID })
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Account.ID == ordered[i-1].Account.ID {
			return fmt.Errorf("%w: account %d written twice in one batch", apperrors.ErrInvalidArgument, ordered[i].Account.ID)
		}
	}

	apply := func(ctx context.Context) error {
		q := conn(ctx, r.db)
		versions := make([]int64, len(ordered))
		for i, w := range ordered {
			v, err := r.update(ctx, q, w.Account, w.ExpectedVersion)
			if err != nil {
				return err
			}
			versions[i] = v
		}
		for i, w := range ordered {
			w.Account.Version = versions[i]
		}
		return nil
	}

	// A batch outside any scope still needs its own transaction.
	return txscope.Run(ctx, r, txscope.Required, txscope.ReadCommitted, apply)
}

// LockForUpdate takes a transaction-scoped advisory lock on the connection of
// the active scope. The lock is released by that transaction's commit or
// rollback, so the returned Release does nothing.
func (r *AccountRepository) LockForUpdate(ctx context.Context, id int64) (account.Release, error) {
	tx, _, ok := txscope.Current(ctx)
	scope, isPg := tx.(*pgScope)
	if !ok || !isPg {
		return nil, fmt.Errorf("%w: locking account %d requires an active transaction", apperrors.ErrInvalidState, id)
	}

	start := time.Now()
	_, err := scope.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, advisoryLockSpace, id)
	observe("account_lock", start, err)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: waiting for lock on account %d: %w", apperrors.ErrTimeout, id, ctx.Err())
		}
		r.logger.ErrorContext(ctx, "Failed to lock account", slog.Int64("accountID", id), slog.Any("error", err))
		return nil, translateDBError(err, r.logger)
	}
	return func() {}, nil
}

func (r *AccountRepository) ListInterestEligible(ctx context.Context) ([]*account.Account, error) {
	logCtx := r.logger.With(slog.String("operation", "ListInterestEligible"))
	logCtx.DebugContext(ctx, "Attempting to list interest-eligible accounts")

	query := `SELECT ` + accountColumns + `
        FROM accounts
        WHERE status = $1 AND interest_rate IS NOT NULL
        ORDER BY id`

	start := time.Now()
	rows, err := conn(ctx, r.db).Query(ctx, query, string(account.StatusActive))
	observe("account_list_eligible", start, err)
	if err != nil {
		logCtx.ErrorContext(ctx, "Failed to query eligible accounts", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to query eligible accounts: %w", apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	accounts := make([]*account.Account, 0)
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			logCtx.ErrorContext(ctx, "Failed to scan account row", slog.Any("error", err))
			return nil, fmt.Errorf("%w: failed scanning account: %w", apperrors.ErrDatabase, err)
		}
		accounts = append(accounts, acc)
	}
	if err = rows.Err(); err != nil {
		logCtx.ErrorContext(ctx, "Error iterating account rows", slog.Any("error", err))
		return nil, fmt.Errorf("%w: error iterating accounts: %w", apperrors.ErrDatabase, err)
	}

	logCtx.DebugContext(ctx, "Finished listing eligible accounts", slog.Int("count", len(accounts)))
	return accounts, nil
}
