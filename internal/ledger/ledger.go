// Package ledger applies deposits, withdrawals, transfers and interest to
// versioned accounts. Every operation re-reads the accounts it touches,
// visits them in ascending id order and writes them back under a version
// check, optionally holding per-account locks for the whole
// read-modify-write. Version conflicts are retried a bounded number of times
// with jittered exponential backoff.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/event"
	"ledger-engine/internal/infrastructure/monitoring"
	"ledger-engine/internal/pkg/apperrors"
	"ledger-engine/internal/pkg/txscope"
	"ledger-engine/internal/validation"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const periodLayout = "2006-01"

type Ledger struct {
	repo     account.Repository
	notifier event.Notifier
	opts     Options
	now      func() time.Time
	logger   *slog.Logger
}

func New(repo account.Repository, notifier event.Notifier, opts Options, logger *slog.Logger) *Ledger {
	if repo == nil {
		panic("account repository cannot be nil")
	}
	if notifier == nil {
		notifier = event.Nop{}
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Ledger{
		repo:     repo,
		notifier: notifier,
		opts:     opts,
		now:      time.Now,
		logger:   logger.With("component", "Ledger"),
	}
}

// working is the set of accounts loaded for one attempt. Only accounts
// passed through update are written back.
type working struct {
	accounts map[int64]*account.Account
	dirty    map[int64]struct{}
}

func (w *working) get(id int64) *account.Account {
	return w.accounts[id]
}

func (w *working) update(id int64, fn func(*account.Account) error) error {
	if err := fn(w.accounts[id]); err != nil {
		return err
	}
	w.dirty[id] = struct{}{}
	return nil
}

type mutation func(w *working, now time.Time) error

// lockOrder deduplicates ids and sorts them ascending. Every multi-account
// operation visits accounts in this order regardless of caller order.
func lockOrder(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (l *Ledger) callOptions(calls []CallOption) callOptions {
	co := callOptions{strategy: l.opts.Strategy, maxAttempts: l.opts.MaxAttempts}
	for _, c := range calls {
		c(&co)
	}
	return co
}

func (l *Ledger) retryPolicy(ctx context.Context, attempts int) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.opts.BaseBackoff
	b.MaxInterval = l.opts.MaxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case apperrors.IsRetryable(err):
		return "conflict"
	case errors.Is(err, apperrors.ErrInsufficientFunds),
		errors.Is(err, apperrors.ErrInvalidState),
		errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrInvalidAmount),
		errors.Is(err, apperrors.ErrInvalidArgument):
		return "rejected"
	default:
		return "error"
	}
}

// run executes fn against the accounts named by ids and returns them as
// committed. Inside an already active transaction scope only one attempt is
// made, since the enclosing snapshot cannot be refreshed.
func (l *Ledger) run(ctx context.Context, op string, ids []int64, calls []CallOption, fn mutation) (*working, error) {
	co := l.callOptions(calls)
	ordered := lockOrder(ids)
	attempts := co.maxAttempts
	if txscope.Active(ctx) {
		attempts = 1
	}

	log := l.logger.With(slog.String("operation", op), slog.Any("accountIDs", ordered), slog.String("strategy", co.strategy.String()))
	start := time.Now()

	var (
		result  *working
		lastErr error
		tries   int
	)
	operation := func() error {
		tries++
		w, err := l.attempt(ctx, co.strategy, ordered, fn)
		if err == nil {
			result = w
			return nil
		}
		lastErr = err
		if !apperrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		monitoring.RecordConflictRetry(op)
		log.DebugContext(ctx, "Version conflict, retrying", slog.Int("attempt", tries), slog.Duration("backoff", wait), slog.Any("error", err))
	}

	err := backoff.RetryNotify(operation, l.retryPolicy(ctx, attempts), notify)
	if err != nil && lastErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		err = lastErr
	}
	if err != nil && apperrors.IsRetryable(err) {
		err = fmt.Errorf("%s gave up after %d attempts: %w", op, tries, err)
	}

	outcome := outcomeLabel(err)
	monitoring.RecordLedgerOperation(op, co.strategy.String(), outcome, time.Since(start))
	switch outcome {
	case "success":
		log.DebugContext(ctx, "Ledger operation committed", slog.Int("attempts", tries), slog.Duration("duration", time.Since(start)))
	case "rejected":
		log.InfoContext(ctx, "Ledger operation rejected", slog.Any("error", err))
	case "conflict":
		log.WarnContext(ctx, "Ledger operation exhausted conflict retries", slog.Int("attempts", tries), slog.Any("error", err))
	default:
		log.ErrorContext(ctx, "Ledger operation failed", slog.Any("error", err))
	}
	return result, err
}

// isolationFor returns the level an attempt runs at. Pessimistic attempts
// read each account after its lock is granted, and a repeatable read
// snapshot would already start at the first lock statement.
func isolationFor(strategy Strategy) txscope.Isolation {
	if strategy == Pessimistic {
		return txscope.ReadCommitted
	}
	return txscope.RepeatableRead
}

func (l *Ledger) attempt(ctx context.Context, strategy Strategy, ids []int64, fn mutation) (*working, error) {
	// Locks live on the attempt's own transaction and are released only
	// after it has committed or rolled back.
	var releases []account.Release
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()

	var out *working
	err := txscope.Run(ctx, l.repo, txscope.Required, isolationFor(strategy), func(ctx context.Context) error {
		if strategy == Pessimistic {
			for _, id := range ids {
				release, err := l.repo.LockForUpdate(ctx, id)
				if err != nil {
					return err
				}
				releases = append(releases, release)
			}
		}

		w := &working{accounts: make(map[int64]*account.Account, len(ids)), dirty: make(map[int64]struct{}, len(ids))}
		read := make(map[int64]int64, len(ids))
		for _, id := range ids {
			acc, err := l.repo.Load(ctx, id)
			if err != nil {
				return err
			}
			w.accounts[id] = acc
			read[id] = acc.Version
		}

		if err := fn(w, l.now()); err != nil {
			return err
		}

		writes := make([]account.VersionedWrite, 0, len(w.dirty))
		for _, id := range ids {
			if _, ok := w.dirty[id]; ok {
				writes = append(writes, account.VersionedWrite{Account: w.accounts[id], ExpectedVersion: read[id]})
			}
		}
		switch len(writes) {
		case 0:
		case 1:
			if _, err := l.repo.SaveIfVersionMatches(ctx, writes[0].Account, writes[0].ExpectedVersion); err != nil {
				return err
			}
		default:
			if err := l.repo.SaveAll(ctx, writes); err != nil {
				return err
			}
		}
		out = w
		return nil
	})
	return out, err
}

func (l *Ledger) publish(ctx context.Context, t event.Type, acc *account.Account, counterparty int64, amount decimal.Decimal, reason string) {
	e := event.New(t)
	e.AccountID = acc.ID
	e.CounterpartyID = counterparty
	if !amount.IsZero() {
		e.Amount = amount.StringFixed(account.MoneyPlaces)
	}
	e.Balance = acc.Balance.StringFixed(account.MoneyPlaces)
	e.Reason = reason
	l.notifier.Notify(ctx, e)
}

func (l *Ledger) Deposit(ctx context.Context, accountID int64, amount decimal.Decimal, opts ...CallOption) (decimal.Decimal, error) {
	if err := validation.ValidateAccountID("accountId", accountID); err != nil {
		return decimal.Zero, err
	}
	if err := validation.ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}

	w, err := l.run(ctx, "deposit", []int64{accountID}, opts, func(w *working, now time.Time) error {
		return w.update(accountID, func(acc *account.Account) error { return acc.Credit(amount, now) })
	})
	if err != nil {
		return decimal.Zero, err
	}

	acc := w.get(accountID)
	l.publish(ctx, event.TypeDeposited, acc, 0, amount, "")
	return acc.Balance, nil
}

func (l *Ledger) Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal, opts ...CallOption) (decimal.Decimal, error) {
	if err := validation.ValidateAccountID("accountId", accountID); err != nil {
		return decimal.Zero, err
	}
	if err := validation.ValidateAmount(amount); err != nil {
		return decimal.Zero, err
	}

	w, err := l.run(ctx, "withdraw", []int64{accountID}, opts, func(w *working, now time.Time) error {
		return w.update(accountID, func(acc *account.Account) error { return acc.Debit(amount, now) })
	})
	if err != nil {
		return decimal.Zero, err
	}

	acc := w.get(accountID)
	l.publish(ctx, event.TypeWithdrawn, acc, 0, amount, "")
	return acc.Balance, nil
}

// Transfer moves amount between two accounts atomically. Both accounts are
// read and written in ascending id order whichever direction the money flows.
func (l *Ledger) Transfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal, opts ...CallOption) error {
	if err := validation.ValidateTransferRequest(fromID, toID, amount); err != nil {
		return err
	}

	w, err := l.run(ctx, "transfer", []int64{fromID, toID}, opts, func(w *working, now time.Time) error {
		if err := w.update(fromID, func(acc *account.Account) error { return acc.Debit(amount, now) }); err != nil {
			return err
		}
		return w.update(toID, func(acc *account.Account) error { return acc.Credit(amount, now) })
	})
	if err != nil {
		return err
	}

	l.publish(ctx, event.TypeTransferred, w.get(fromID), toID, amount, "")
	return nil
}

// Get reads an account at read-committed isolation.
func (l *Ledger) Get(ctx context.Context, accountID int64) (*account.Account, error) {
	var acc *account.Account
	err := txscope.Run(ctx, l.repo, txscope.Required, txscope.ReadCommitted, func(ctx context.Context) error {
		var err error
		acc, err = l.repo.Load(ctx, accountID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (l *Ledger) Balance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	acc, err := l.Get(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return acc.Balance, nil
}

type OpenRequest struct {
	Type           account.Type
	Currency       string
	InterestRate   *decimal.Decimal
	OverdraftLimit decimal.Decimal
}

// OpenAccount stores a new account in PENDING_APPROVAL.
func (l *Ledger) OpenAccount(ctx context.Context, req OpenRequest) (*account.Account, error) {
	if err := validation.ValidateAccountType(req.Type); err != nil {
		return nil, err
	}
	if req.OverdraftLimit.IsNegative() {
		return nil, apperrors.NewValidationError(apperrors.ErrInvalidAmount, "overdraftLimit", "overdraft limit cannot be negative")
	}
	if req.InterestRate != nil && req.InterestRate.IsNegative() {
		return nil, apperrors.NewValidationError(apperrors.ErrInvalidArgument, "interestRate", "interest rate cannot be negative")
	}

	acc := account.New(newAccountNumber(req.Type), req.Type, strings.ToUpper(req.Currency))
	acc.OverdraftLimit = req.OverdraftLimit
	if req.InterestRate != nil {
		rate := *req.InterestRate
		acc.InterestRate = &rate
	}

	err := txscope.Run(ctx, l.repo, txscope.Required, txscope.ReadCommitted, func(ctx context.Context) error {
		return l.repo.Create(ctx, acc)
	})
	if err != nil {
		l.logger.ErrorContext(ctx, "Failed to create account", slog.String("type", string(req.Type)), slog.Any("error", err))
		return nil, err
	}

	l.logger.InfoContext(ctx, "Account opened", slog.Int64("accountID", acc.ID), slog.String("number", acc.Number), slog.String("type", string(acc.Type)))
	l.publish(ctx, event.TypeAccountOpened, acc, 0, decimal.Zero, string(acc.Type))
	return acc, nil
}

func newAccountNumber(t account.Type) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("%s-%s", string(t)[:3], id[:16])
}

func (l *Ledger) transition(ctx context.Context, op string, accountID int64, t event.Type, apply func(*account.Account, time.Time) error, opts []CallOption) (*account.Account, error) {
	if err := validation.ValidateAccountID("accountId", accountID); err != nil {
		return nil, err
	}

	changed := false
	w, err := l.run(ctx, op, []int64{accountID}, opts, func(w *working, now time.Time) error {
		before := w.get(accountID).Status
		trial := w.get(accountID).Clone()
		if err := apply(trial, now); err != nil {
			return err
		}
		changed = trial.Status != before
		if !changed {
			return nil
		}
		return w.update(accountID, func(acc *account.Account) error { return apply(acc, now) })
	})
	if err != nil {
		return nil, err
	}

	acc := w.get(accountID)
	if changed {
		l.publish(ctx, t, acc, 0, decimal.Zero, string(acc.Status))
	}
	return acc, nil
}

func (l *Ledger) Activate(ctx context.Context, accountID int64, opts ...CallOption) (*account.Account, error) {
	return l.transition(ctx, "activate", accountID, event.TypeAccountActivated, (*account.Account).Activate, opts)
}

func (l *Ledger) Freeze(ctx context.Context, accountID int64, opts ...CallOption) (*account.Account, error) {
	return l.transition(ctx, "freeze", accountID, event.TypeAccountFrozen, (*account.Account).Freeze, opts)
}

// Unfreeze only applies to frozen accounts.
func (l *Ledger) Unfreeze(ctx context.Context, accountID int64, opts ...CallOption) (*account.Account, error) {
	return l.transition(ctx, "unfreeze", accountID, event.TypeAccountActivated, func(acc *account.Account, now time.Time) error {
		if acc.Status != account.StatusFrozen {
			return fmt.Errorf("%w: account %d is %s, not frozen", apperrors.ErrInvalidState, acc.ID, acc.Status)
		}
		return acc.Activate(now)
	}, opts)
}

// Close requires a zero balance.
func (l *Ledger) Close(ctx context.Context, accountID int64, opts ...CallOption) (*account.Account, error) {
	return l.transition(ctx, "close", accountID, event.TypeAccountClosed, (*account.Account).Close, opts)
}

func validatePeriod(period string) error {
	if _, err := time.Parse(periodLayout, period); err != nil {
		return apperrors.NewValidationError(apperrors.ErrInvalidArgument, "period",
			fmt.Sprintf("period %q is not in YYYY-MM form", period))
	}
	return nil
}

// Period formats t as an interest period key.
func Period(t time.Time) string {
	return t.Format(periodLayout)
}

// accrue credits one month of interest and stamps the period. It reports
// false when the account is not eligible, was already credited for period, or
// the interest rounds to zero or less.
func accrue(acc *account.Account, period string, now time.Time) (decimal.Decimal, bool, error) {
	if !acc.EligibleForInterest() || acc.LastInterestPeriod == period {
		return decimal.Zero, false, nil
	}
	interest := acc.MonthlyInterest()
	if !interest.IsPositive() {
		return decimal.Zero, false, nil
	}
	if err := acc.Credit(interest, now); err != nil {
		return decimal.Zero, false, err
	}
	acc.LastInterestPeriod = period
	return interest, true, nil
}

// CreditInterest applies one month of interest to a single account. Re-running
// it for the same period is a no-op.
func (l *Ledger) CreditInterest(ctx context.Context, accountID int64, period string, opts ...CallOption) (decimal.Decimal, bool, error) {
	if err := validatePeriod(period); err != nil {
		return decimal.Zero, false, err
	}

	var (
		credited decimal.Decimal
		applied  bool
	)
	w, err := l.run(ctx, "credit_interest", []int64{accountID}, opts, func(w *working, now time.Time) error {
		credited, applied = decimal.Zero, false
		trial := w.get(accountID).Clone()
		interest, ok, err := accrue(trial, period, now)
		if err != nil || !ok {
			return err
		}
		credited, applied = interest, true
		return w.update(accountID, func(acc *account.Account) error {
			_, _, err := accrue(acc, period, now)
			return err
		})
	})
	if err != nil {
		return decimal.Zero, false, err
	}

	if applied {
		l.publish(ctx, event.TypeInterestCredited, w.get(accountID), 0, credited, period)
	}
	return credited, applied, nil
}

// CreditInterestAll applies interest to every listed account in one atomic
// write. Any failure leaves all accounts untouched.
func (l *Ledger) CreditInterestAll(ctx context.Context, accountIDs []int64, period string, opts ...CallOption) (map[int64]decimal.Decimal, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	for _, id := range accountIDs {
		if err := validation.ValidateAccountID("accountId", id); err != nil {
			return nil, err
		}
	}
	if len(accountIDs) == 0 {
		return map[int64]decimal.Decimal{}, nil
	}

	var credited map[int64]decimal.Decimal
	w, err := l.run(ctx, "credit_interest_all", accountIDs, opts, func(w *working, now time.Time) error {
		credited = make(map[int64]decimal.Decimal)
		for id := range w.accounts {
			trial := w.get(id).Clone()
			interest, ok, err := accrue(trial, period, now)
			if err != nil {
				return fmt.Errorf("account %d: %w", id, err)
			}
			if !ok {
				continue
			}
			if err := w.update(id, func(acc *account.Account) error {
				_, _, err := accrue(acc, period, now)
				return err
			}); err != nil {
				return err
			}
			credited[id] = interest
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for id, amount := range credited {
		l.publish(ctx, event.TypeInterestCredited, w.get(id), 0, amount, period)
	}
	return credited, nil
}
