package onboarding_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"ledger-engine/internal/config"
	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/domain/customer"
	"ledger-engine/internal/event"
	"ledger-engine/internal/infrastructure/memory"
	"ledger-engine/internal/ledger"
	"ledger-engine/internal/onboarding"
	"ledger-engine/internal/pkg/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type harness struct {
	accounts  *memory.AccountRepository
	customers customer.CustomerService
	ledger    *ledger.Ledger
	events    *event.Recorder
}

func newHarness() *harness {
	accounts := memory.NewAccountRepository(testLogger)
	events := &event.Recorder{}
	return &harness{
		accounts:  accounts,
		customers: customer.NewCustomerService(memory.NewCustomerRepository(accounts, testLogger), events, testLogger),
		ledger:    ledger.New(accounts, events, ledger.DefaultOptions(), testLogger),
		events:    events,
	}
}

func (h *harness) register(t *testing.T, email string, verified bool) *customer.Customer {
	t.Helper()
	ctx := context.Background()
	c, err := h.customers.Register(ctx, "Ada Lovelace", email)
	require.NoError(t, err)
	if verified {
		_, err = h.customers.CompleteKYC(ctx, c.ID, customer.Identity{
			TaxID:       "TX-1815",
			Nationality: "GB",
			DateOfBirth: time.Date(1985, 12, 10, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
	}
	return c
}

func (h *harness) orchestrator(credit onboarding.CreditBureau, risk onboarding.RiskEngine, cfg onboarding.Config) *onboarding.Orchestrator {
	return onboarding.NewOrchestrator(h.customers, h.ledger, credit, risk, h.events, cfg, testLogger)
}

var defaultConfig = onboarding.Config{CreditThreshold: 700, Timeout: 2 * time.Second}

func TestEvaluate_Approved(t *testing.T) {
	h := newHarness()
	c := h.register(t, "ada@example.com", true)
	o := h.orchestrator(onboarding.StaticCreditBureau{Score: 720}, onboarding.StaticRiskEngine{Rating: onboarding.RiskLow}, defaultConfig)

	d, err := o.Evaluate(context.Background(), onboarding.Request{CustomerID: c.ID})

	require.NoError(t, err)
	assert.Equal(t, onboarding.StateApproved, d.State)
	assert.NotEmpty(t, d.RequestID)
	assert.Equal(t, 720, d.Credit.Score)
	assert.Equal(t, onboarding.RiskLow, d.Risk.Rating)
	assert.NoError(t, d.Err())
	assert.Len(t, h.events.OfType(event.TypeOnboardingApproved), 1)
}

func TestEvaluate_Declined(t *testing.T) {
	tests := []struct {
		name     string
		verified bool
		score    int
		rating   onboarding.RiskRating
		source   string
		reason   string
	}{
		{"credit score below threshold", true, 650, onboarding.RiskLow, onboarding.SourceCreditScore, "credit score 650 below threshold 700"},
		{"kyc not verified", false, 800, onboarding.RiskLow, onboarding.SourceProfile, "KYC status is PENDING, VERIFIED required"},
		{"high risk", true, 800, onboarding.RiskHigh, onboarding.SourceRiskRating, "risk rating is HIGH"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			c := h.register(t, "grace@example.com", tt.verified)
			o := h.orchestrator(onboarding.StaticCreditBureau{Score: tt.score}, onboarding.StaticRiskEngine{Rating: tt.rating}, defaultConfig)

			d, err := o.Evaluate(context.Background(), onboarding.Request{CustomerID: c.ID})

			require.NoError(t, err)
			assert.Equal(t, onboarding.StateDeclined, d.State)
			assert.Equal(t, tt.source, d.Source)
			assert.Equal(t, tt.reason, d.Reason)

			var cf *apperrors.CheckFailedError
			require.ErrorAs(t, d.Err(), &cf)
			assert.Equal(t, tt.source, cf.Source)
			assert.ErrorIs(t, d.Err(), apperrors.ErrCheckFailed)
		})
	}
}

func TestOpenAccount_DeclinedCreatesNothing(t *testing.T) {
	h := newHarness()
	c := h.register(t, "alan@example.com", true)
	o := h.orchestrator(onboarding.StaticCreditBureau{Score: 650}, onboarding.StaticRiskEngine{Rating: onboarding.RiskLow}, defaultConfig)

	acc, err := o.OpenAccount(context.Background(), onboarding.Request{CustomerID: c.ID, AccountType: account.TypeChecking})

	assert.Nil(t, acc)
	var cf *apperrors.CheckFailedError
	require.ErrorAs(t, err, &cf)
	assert.Equal(t, onboarding.SourceCreditScore, cf.Source)

	ids, err := h.customers.ListAccounts(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestOpenAccount_Approved(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	c := h.register(t, "barbara@example.com", true)
	o := h.orchestrator(onboarding.StaticCreditBureau{Score: 700}, onboarding.StaticRiskEngine{Rating: onboarding.RiskMedium}, defaultConfig)

	acc, err := o.OpenAccount(ctx, onboarding.Request{CustomerID: c.ID, AccountType: account.TypeChecking, Currency: "eur"})

	require.NoError(t, err)
	assert.Equal(t, account.StatusActive, acc.Status)
	assert.Equal(t, "EUR", acc.Currency)

	ids, err := h.customers.ListAccounts(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{acc.ID}, ids)

	got, err := h.customers.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, customer.StatusActive, got.Status)
}

func TestEvaluate_CustomerChecks(t *testing.T) {
	ctx := context.Background()
	o := func(h *harness) *onboarding.Orchestrator {
		return h.orchestrator(onboarding.StaticCreditBureau{Score: 800}, onboarding.StaticRiskEngine{Rating: onboarding.RiskLow}, defaultConfig)
	}

	t.Run("Unknown customer", func(t *testing.T) {
		h := newHarness()
		d, err := o(h).Evaluate(ctx, onboarding.Request{CustomerID: 999})
		require.NoError(t, err)
		assert.Equal(t, onboarding.StateDeclined, d.State)
		assert.Contains(t, []string{onboarding.SourceCustomer, onboarding.SourceProfile}, d.Source)
		assert.ErrorIs(t, d.Err(), apperrors.ErrCustomerNotFound)
	})

	t.Run("Frozen customer", func(t *testing.T) {
		h := newHarness()
		c := h.register(t, "frozen@example.com", true)
		require.NoError(t, h.customers.Activate(ctx, c.ID))
		require.NoError(t, h.customers.Freeze(ctx, c.ID))

		d, err := o(h).Evaluate(ctx, onboarding.Request{CustomerID: c.ID})
		require.NoError(t, err)
		assert.Equal(t, onboarding.StateDeclined, d.State)
		assert.Equal(t, onboarding.SourceCustomer, d.Source)
		assert.ErrorIs(t, d.Err(), apperrors.ErrInvalidState)
	})

	t.Run("Invalid id", func(t *testing.T) {
		_, err := o(newHarness()).Evaluate(ctx, onboarding.Request{CustomerID: 0})
		assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
	})
}

// profileless hides every profile without reporting an error.
type profileless struct {
	customer.CustomerService
}

func (profileless) GetProfile(context.Context, int64) (*customer.Profile, error) {
	return nil, nil
}

func TestEvaluate_NilProfileIsDeclined(t *testing.T) {
	h := newHarness()
	c := h.register(t, "noprofile@example.com", true)
	o := onboarding.NewOrchestrator(profileless{h.customers}, h.ledger,
		onboarding.StaticCreditBureau{Score: 800}, onboarding.StaticRiskEngine{Rating: onboarding.RiskLow},
		h.events, defaultConfig, testLogger)

	var d *onboarding.Decision
	var err error
	require.NotPanics(t, func() {
		d, err = o.Evaluate(context.Background(), onboarding.Request{CustomerID: c.ID})
	})
	require.NoError(t, err)
	assert.Equal(t, onboarding.StateDeclined, d.State)
	assert.Equal(t, onboarding.SourceProfile, d.Source)
	assert.ErrorIs(t, d.Err(), apperrors.ErrProfileNotFound)
}

func TestEvaluate_Timeout(t *testing.T) {
	h := newHarness()
	c := h.register(t, "slow@example.com", true)
	slowRisk := onboarding.RiskEngineFunc(func(ctx context.Context, _ int64) (onboarding.RiskAssessment, error) {
		// Ignores ctx on purpose; the join must still honour the deadline.
		time.Sleep(2 * time.Second)
		return onboarding.RiskAssessment{Rating: onboarding.RiskLow}, nil
	})
	cfg := onboarding.Config{CreditThreshold: 700, Timeout: 50 * time.Millisecond}
	o := h.orchestrator(onboarding.StaticCreditBureau{Score: 720}, slowRisk, cfg)

	start := time.Now()
	d, err := o.Evaluate(context.Background(), onboarding.Request{CustomerID: c.ID})
	elapsed := time.Since(start)

	assert.Nil(t, d)
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.Less(t, elapsed, time.Second)

	var te *apperrors.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, []string{onboarding.SourceRiskRating}, te.Pending)
	assert.Len(t, te.Completed, 3)
	assert.Contains(t, te.Completed, onboarding.SourceCustomer)
	assert.Contains(t, te.Completed, onboarding.SourceProfile)
	assert.Contains(t, te.Completed, onboarding.SourceCreditScore)
}

func TestEvaluate_CancelledByCaller(t *testing.T) {
	h := newHarness()
	c := h.register(t, "cancel@example.com", true)
	o := h.orchestrator(onboarding.StaticCreditBureau{Score: 720}, onboarding.StaticRiskEngine{Rating: onboarding.RiskLow}, defaultConfig)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Evaluate(ctx, onboarding.Request{CustomerID: c.ID})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluate_DegradedMode(t *testing.T) {
	ctx := context.Background()
	unavailable := errors.New("bureau unavailable")
	failingCredit := onboarding.CreditBureauFunc(func(context.Context, int64) (onboarding.CreditReport, error) {
		return onboarding.CreditReport{}, unavailable
	})

	t.Run("Disabled declines", func(t *testing.T) {
		h := newHarness()
		c := h.register(t, "strict@example.com", true)
		o := h.orchestrator(failingCredit, onboarding.StaticRiskEngine{Rating: onboarding.RiskLow}, defaultConfig)

		d, err := o.Evaluate(ctx, onboarding.Request{CustomerID: c.ID})
		require.NoError(t, err)
		assert.Equal(t, onboarding.StateDeclined, d.State)
		assert.Equal(t, onboarding.SourceCreditScore, d.Source)
		assert.ErrorIs(t, d.Err(), unavailable)
	})

	t.Run("Enabled opens pending account", func(t *testing.T) {
		h := newHarness()
		c := h.register(t, "lenient@example.com", true)
		o := h.orchestrator(failingCredit, onboarding.StaticRiskEngine{Rating: onboarding.RiskLow}, defaultConfig)

		d, err := o.Onboard(ctx, onboarding.Request{CustomerID: c.ID, AccountType: account.TypeSavings, AllowDegraded: true})
		require.NoError(t, err)
		assert.Equal(t, onboarding.StateDegraded, d.State)
		assert.Equal(t, "checks unavailable: credit_score", d.Reason)
		require.Len(t, d.Failures, 1)
		assert.ErrorIs(t, d.Failures[0], unavailable)

		require.NotNil(t, d.Account)
		assert.Equal(t, account.StatusPendingApproval, d.Account.Status)
		assert.Len(t, h.events.OfType(event.TypeOnboardingDegraded), 1)
	})

	t.Run("Available rules still decline", func(t *testing.T) {
		h := newHarness()
		c := h.register(t, "risky@example.com", true)
		cfg := defaultConfig
		cfg.DegradedMode = true
		o := h.orchestrator(failingCredit, onboarding.StaticRiskEngine{Rating: onboarding.RiskHigh}, cfg)

		d, err := o.Evaluate(ctx, onboarding.Request{CustomerID: c.ID})
		require.NoError(t, err)
		assert.Equal(t, onboarding.StateDeclined, d.State)
		assert.Equal(t, onboarding.SourceRiskRating, d.Source)
	})
}

func TestCreatePremiumAccountWithFallback(t *testing.T) {
	ctx := context.Background()

	t.Run("Premium when checks pass", func(t *testing.T) {
		h := newHarness()
		c := h.register(t, "vip@example.com", true)
		o := h.orchestrator(onboarding.StaticCreditBureau{Score: 810}, onboarding.StaticRiskEngine{Rating: onboarding.RiskLow}, defaultConfig)

		res, err := o.CreatePremiumAccountWithFallback(ctx, onboarding.Request{CustomerID: c.ID})
		require.NoError(t, err)
		assert.True(t, res.Premium)
		assert.Equal(t, account.TypeInvestment, res.Account.Type)
		assert.Empty(t, h.events.OfType(event.TypeOnboardingFallback))
	})

	t.Run("Risk failure falls back to savings", func(t *testing.T) {
		h := newHarness()
		c := h.register(t, "fallback@example.com", true)
		riskDown := onboarding.RiskEngineFunc(func(context.Context, int64) (onboarding.RiskAssessment, error) {
			return onboarding.RiskAssessment{}, errors.New("risk engine down")
		})
		o := h.orchestrator(onboarding.StaticCreditBureau{Score: 810}, riskDown, defaultConfig)

		res, err := o.CreatePremiumAccountWithFallback(ctx, onboarding.Request{CustomerID: c.ID})
		require.NoError(t, err)
		assert.False(t, res.Premium)
		assert.Equal(t, account.TypeSavings, res.Account.Type)
		assert.Equal(t, account.StatusActive, res.Account.Status)
		assert.ErrorIs(t, res.FallbackReason, apperrors.ErrCheckFailed)

		ids, err := h.customers.ListAccounts(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, []int64{res.Account.ID}, ids)
		assert.Len(t, h.events.OfType(event.TypeOnboardingFallback), 1)
	})

	t.Run("Timeout falls back to savings", func(t *testing.T) {
		h := newHarness()
		c := h.register(t, "timeout@example.com", true)
		slow := onboarding.CreditBureauFunc(func(ctx context.Context, _ int64) (onboarding.CreditReport, error) {
			<-ctx.Done()
			return onboarding.CreditReport{}, ctx.Err()
		})
		cfg := onboarding.Config{CreditThreshold: 700, Timeout: 30 * time.Millisecond}
		o := h.orchestrator(slow, onboarding.StaticRiskEngine{Rating: onboarding.RiskLow}, cfg)

		res, err := o.CreatePremiumAccountWithFallback(ctx, onboarding.Request{CustomerID: c.ID})
		require.NoError(t, err)
		assert.False(t, res.Premium)
		assert.ErrorIs(t, res.FallbackReason, apperrors.ErrTimeout)
	})

	t.Run("Unknown customer does not fall back", func(t *testing.T) {
		h := newHarness()
		o := h.orchestrator(onboarding.StaticCreditBureau{Score: 810}, onboarding.StaticRiskEngine{Rating: onboarding.RiskLow}, defaultConfig)

		res, err := o.CreatePremiumAccountWithFallback(ctx, onboarding.Request{CustomerID: 4242})
		assert.Nil(t, res)
		assert.ErrorIs(t, err, apperrors.ErrCustomerNotFound)
		assert.Empty(t, h.events.OfType(event.TypeOnboardingFallback))
	})
}

func TestConfigFrom(t *testing.T) {
	cfg := onboarding.ConfigFrom(config.OnboardingConfig{})
	assert.Equal(t, 700, cfg.CreditThreshold)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.False(t, cfg.DegradedMode)
}
