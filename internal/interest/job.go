package interest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ledger-engine/internal/domain/account"
)

type AccountLister interface {
	ListInterestEligible(ctx context.Context) ([]*account.Account, error)
}

// MonthlyInterestJob is the scheduled entry point for the best-effort batch.
type MonthlyInterestJob struct {
	accounts  AccountLister
	processor *Processor
	logger    *slog.Logger
}

func NewMonthlyInterestJob(accounts AccountLister, processor *Processor, logger *slog.Logger) *MonthlyInterestJob {
	if accounts == nil || processor == nil || logger == nil {
		panic("MonthlyInterestJob dependencies cannot be nil")
	}
	return &MonthlyInterestJob{
		accounts:  accounts,
		processor: processor,
		logger:    logger.With("job", "MonthlyInterest"),
	}
}

func (j *MonthlyInterestJob) Run(ctx context.Context) (BatchResult, error) {
	startTime := time.Now()
	j.logger.InfoContext(ctx, "Starting monthly interest job.")

	eligible, err := j.accounts.ListInterestEligible(ctx)
	if err != nil {
		j.logger.ErrorContext(ctx, "Failed to list interest-eligible accounts, aborting job.", slog.Any("error", err))
		return BatchResult{}, fmt.Errorf("cannot run job, failed to list eligible accounts: %w", err)
	}
	j.logger.InfoContext(ctx, "Fetched interest-eligible accounts.", slog.Int("count", len(eligible)))

	result := j.processor.ApplyMonthlyInterest(ctx, eligible)

	summaryLog := j.logger.With(
		slog.Duration("duration", time.Since(startTime)),
		slog.String("period", result.Period),
		slog.Int("accounts_credited", result.SuccessCount),
		slog.Int("accounts_skipped", result.SkippedCount),
		slog.Int("errors_encountered", result.FailureCount),
		slog.Any("failed_account_ids", result.FailedIDs()),
	)
	if result.FailureCount > 0 {
		summaryLog.WarnContext(ctx, "Monthly interest job finished with errors.")
		return result, fmt.Errorf("job completed with %d errors", result.FailureCount)
	}
	summaryLog.InfoContext(ctx, "Monthly interest job finished successfully.")
	return result, nil
}
