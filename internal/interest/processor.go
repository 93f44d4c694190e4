// Package interest runs monthly interest accrual over batches of accounts.
package interest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/infrastructure/monitoring"
	"ledger-engine/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"
)

// Crediter is the slice of the ledger the processor needs.
type Crediter interface {
	CreditInterest(ctx context.Context, accountID int64, period string, opts ...ledger.CallOption) (decimal.Decimal, bool, error)
	CreditInterestAll(ctx context.Context, accountIDs []int64, period string, opts ...ledger.CallOption) (map[int64]decimal.Decimal, error)
}

var _ Crediter = (*ledger.Ledger)(nil)

type Failure struct {
	AccountID int64  `json:"accountId"`
	Reason    string `json:"reason"`
	Err       error  `json:"-"`
}

type BatchResult struct {
	Period       string          `json:"period"`
	SuccessCount int             `json:"successCount"`
	FailureCount int             `json:"failureCount"`
	SkippedCount int             `json:"skippedCount"`
	Failures     []Failure       `json:"failures,omitempty"`
	Credited     decimal.Decimal `json:"credited"`
}

// FailedIDs lists the accounts to feed into a retry run.
func (r BatchResult) FailedIDs() []int64 {
	ids := make([]int64, 0, len(r.Failures))
	for _, f := range r.Failures {
		ids = append(ids, f.AccountID)
	}
	return ids
}

type Processor struct {
	ledger      Crediter
	concurrency int
	clock       func() time.Time
	logger      *slog.Logger
}

func NewProcessor(l Crediter, concurrency int, logger *slog.Logger) *Processor {
	if l == nil {
		panic("interest processor requires a ledger")
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Processor{
		ledger:      l,
		concurrency: concurrency,
		clock:       time.Now,
		logger:      logger.With("component", "InterestProcessor"),
	}
}

func eligibleIDs(accounts []*account.Account) (ids []int64, skipped int) {
	seen := make(map[int64]struct{}, len(accounts))
	for _, acc := range accounts {
		if acc == nil {
			continue
		}
		if _, dup := seen[acc.ID]; dup {
			continue
		}
		seen[acc.ID] = struct{}{}
		if !acc.EligibleForInterest() {
			skipped++
			continue
		}
		ids = append(ids, acc.ID)
	}
	return ids, skipped
}

// ApplyMonthlyInterest credits the current month's interest to every eligible
// account. One account failing never stops the others; the result lists each
// failure with its account id.
func (p *Processor) ApplyMonthlyInterest(ctx context.Context, accounts []*account.Account) BatchResult {
	return p.ApplyForPeriod(ctx, accounts, ledger.Period(p.clock()))
}

func (p *Processor) ApplyForPeriod(ctx context.Context, accounts []*account.Account, period string) BatchResult {
	start := time.Now()
	ids, skipped := eligibleIDs(accounts)
	result := BatchResult{Period: period, SkippedCount: skipped, Credited: decimal.Zero}

	var mu sync.Mutex
	workers := pool.New().WithMaxGoroutines(p.concurrency)
	for _, id := range ids {
		workers.Go(func() {
			if err := ctx.Err(); err != nil {
				mu.Lock()
				result.Failures = append(result.Failures, Failure{AccountID: id, Reason: fmt.Sprintf("not attempted: %v", err), Err: err})
				mu.Unlock()
				return
			}

			amount, applied, err := p.ledger.CreditInterest(ctx, id, period)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				p.logger.WarnContext(ctx, "Interest credit failed", slog.Int64("accountID", id), slog.String("period", period), slog.Any("error", err))
				result.Failures = append(result.Failures, Failure{AccountID: id, Reason: err.Error(), Err: err})
			case applied:
				result.SuccessCount++
				result.Credited = result.Credited.Add(amount)
			default:
				result.SkippedCount++
			}
		})
	}
	workers.Wait()

	sort.Slice(result.Failures, func(i, j int) bool { return result.Failures[i].AccountID < result.Failures[j].AccountID })
	result.FailureCount = len(result.Failures)

	monitoring.RecordInterestResult("success", result.SuccessCount)
	monitoring.RecordInterestResult("failure", result.FailureCount)
	monitoring.RecordInterestResult("skipped", result.SkippedCount)

	p.logger.InfoContext(ctx, "Interest batch finished",
		slog.String("period", period),
		slog.Int("eligible", len(ids)),
		slog.Int("succeeded", result.SuccessCount),
		slog.Int("failed", result.FailureCount),
		slog.Int("skipped", result.SkippedCount),
		slog.String("credited", result.Credited.StringFixed(account.MoneyPlaces)),
		slog.Duration("duration", time.Since(start)),
	)
	return result
}

// ApplyMonthlyInterestAtomic credits every eligible account in one write.
// Either all credits land or none do.
func (p *Processor) ApplyMonthlyInterestAtomic(ctx context.Context, accounts []*account.Account) (BatchResult, error) {
	period := ledger.Period(p.clock())
	ids, skipped := eligibleIDs(accounts)
	result := BatchResult{Period: period, SkippedCount: skipped, Credited: decimal.Zero}

	credited, err := p.ledger.CreditInterestAll(ctx, ids, period)
	if err != nil {
		p.logger.ErrorContext(ctx, "Atomic interest batch aborted", slog.String("period", period), slog.Int("eligible", len(ids)), slog.Any("error", err))
		monitoring.RecordInterestResult("failure", len(ids))
		return BatchResult{Period: period}, fmt.Errorf("atomic interest batch for %s aborted: %w", period, err)
	}

	for _, amount := range credited {
		result.Credited = result.Credited.Add(amount)
	}
	result.SuccessCount = len(credited)
	result.SkippedCount += len(ids) - len(credited)

	monitoring.RecordInterestResult("success", result.SuccessCount)
	monitoring.RecordInterestResult("skipped", result.SkippedCount)
	p.logger.InfoContext(ctx, "Atomic interest batch committed",
		slog.String("period", period),
		slog.Int("succeeded", result.SuccessCount),
		slog.String("credited", result.Credited.StringFixed(account.MoneyPlaces)),
	)
	return result, nil
}
