// Package memory is an in-process Ledger Store. It honours the same version
// and locking contract as the postgres store and backs the tests and the
// storage.driver=memory mode.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/pkg/apperrors"
	"ledger-engine/internal/pkg/txscope"
)

type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[int64]*record
	byNumber map[string]int64
	nextID   int64

	locks  sync.Map // int64 -> chan struct{}
	logger *slog.Logger
}

// record guards one account. Writers hold mu for the compare-and-set.
type record struct {
	mu  sync.Mutex
	acc *account.Account
}

var _ account.Repository = (*AccountRepository)(nil)

func NewAccountRepository(logger *slog.Logger) *AccountRepository {
	return &AccountRepository{
		accounts: make(map[int64]*record),
		byNumber: make(map[string]int64),
		logger:   logger.With("component", "memory.AccountRepository"),
	}
}

type noopTx struct{}

func (noopTx) Commit(context.Context) error   { return nil }
func (noopTx) Rollback(context.Context) error { return nil }

// BeginScope returns a scope without rollback. Atomicity of multi-account
// writes is provided by SaveAll.
func (r *AccountRepository) BeginScope(_ context.Context, _ txscope.Isolation) (txscope.Tx, error) {
	return noopTx{}, nil
}

func (r *AccountRepository) Create(_ context.Context, acc *account.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byNumber[acc.Number]; taken {
		return fmt.Errorf("%w: account number %s", apperrors.ErrAlreadyExists, acc.Number)
	}
	r.nextID++
	acc.ID = r.nextID
	acc.Version = 1
	r.accounts[acc.ID] = &record{acc: acc.Clone()}
	r.byNumber[acc.Number] = acc.ID
	return nil
}

func (r *AccountRepository) get(id int64) (*record, error) {
	r.mu.RLock()
	rec, ok := r.accounts[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: id %d", apperrors.ErrAccountNotFound, id)
	}
	return rec, nil
}

func (r *AccountRepository) Load(_ context.Context, id int64) (*account.Account, error) {
	rec, err := r.get(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.acc.Clone(), nil
}

func (r *AccountRepository) LoadByNumber(ctx context.Context, number string) (*account.Account, error) {
	r.mu.RLock()
	id, ok := r.byNumber[number]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: number %s", apperrors.ErrAccountNotFound, number)
	}
	return r.Load(ctx, id)
}

func (r *AccountRepository) SaveIfVersionMatches(ctx context.Context, acc *account.Account, expectedVersion int64) (int64, error) {
	if err := r.SaveAll(ctx, []account.VersionedWrite{{Account: acc, ExpectedVersion: expectedVersion}}); err != nil {
		return 0, err
	}
	return acc.Version, nil
}

// SaveAll locks the touched records in ascending id order, checks every
// version and only then applies the writes.
func (r *AccountRepository) SaveAll(_ context.Context, writes []account.VersionedWrite) error {
	sorted := make([]account.VersionedWrite, len(writes))
	copy(sorted, writes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Account.ID < sorted[j].Account.ID })

	recs := make([]*record, len(sorted))
	for i, w := range sorted {
		if i > 0 && sorted[i-1].Account.ID == w.Account.ID {
			return fmt.Errorf("%w: account %d written twice in one batch", apperrors.ErrInvalidArgument, w.Account.ID)
		}
		rec, err := r.get(w.Account.ID)
		if err != nil {
			return err
		}
		recs[i] = rec
	}

	for _, rec := range recs {
		rec.mu.Lock()
		defer rec.mu.Unlock()
	}

	for i, w := range sorted {
		if stored := recs[i].acc.Version; stored != w.ExpectedVersion {
			return fmt.Errorf("%w: account %d is at version %d, expected %d",
				apperrors.ErrConcurrentModification, w.Account.ID, stored, w.ExpectedVersion)
		}
	}

	now := time.Now()
	for i, w := range sorted {
		w.Account.Version = w.ExpectedVersion + 1
		w.Account.UpdatedAt = now
		recs[i].acc = w.Account.Clone()
	}
	return nil
}

func (r *AccountRepository) lockChan(id int64) chan struct{} {
	ch, _ := r.locks.LoadOrStore(id, make(chan struct{}, 1))
	return ch.(chan struct{})
}

// LockForUpdate blocks until the account's lock is free or ctx is done.
func (r *AccountRepository) LockForUpdate(ctx context.Context, id int64) (account.Release, error) {
	if _, err := r.get(id); err != nil {
		return nil, err
	}
	ch := r.lockChan(id)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for lock on account %d: %w", apperrors.ErrTimeout, id, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}, nil
}

func (r *AccountRepository) ListInterestEligible(_ context.Context) ([]*account.Account, error) {
	r.mu.RLock()
	recs := make([]*record, 0, len(r.accounts))
	for _, rec := range r.accounts {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	var out []*account.Account
	for _, rec := range recs {
		rec.mu.Lock()
		if rec.acc.EligibleForInterest() {
			out = append(out, rec.acc.Clone())
		}
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
