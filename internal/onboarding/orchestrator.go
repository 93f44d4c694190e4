// Package onboarding decides whether a customer may open an account. It runs
// the customer, profile, credit and risk checks concurrently, joins them
// under a deadline and applies the approval rule to the combined results.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"ledger-engine/internal/config"
	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/domain/customer"
	"ledger-engine/internal/event"
	"ledger-engine/internal/infrastructure/monitoring"
	"ledger-engine/internal/ledger"
	"ledger-engine/internal/pkg/apperrors"
	"ledger-engine/internal/validation"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type State string

const (
	StateStarted        State = "STARTED"
	StateChecksInFlight State = "CHECKS_IN_FLIGHT"
	StateApproved       State = "APPROVED"
	StateDeclined       State = "DECLINED"
	StateDegraded       State = "DEGRADED"
)

// Branch names, also used as CheckFailedError.Source.
const (
	SourceCustomer    = "customer"
	SourceProfile     = "profile"
	SourceCreditScore = "credit_score"
	SourceRiskRating  = "risk_rating"
)

var allSources = []string{SourceCustomer, SourceProfile, SourceCreditScore, SourceRiskRating}

type Customers interface {
	Get(ctx context.Context, customerID int64) (*customer.Customer, error)
	GetProfile(ctx context.Context, customerID int64) (*customer.Profile, error)
	Activate(ctx context.Context, customerID int64) error
	AddAccountToCustomer(ctx context.Context, customerID, accountID int64) error
}

type Accounts interface {
	OpenAccount(ctx context.Context, req ledger.OpenRequest) (*account.Account, error)
	Activate(ctx context.Context, accountID int64, opts ...ledger.CallOption) (*account.Account, error)
}

var (
	_ Customers = (customer.CustomerService)(nil)
	_ Accounts  = (*ledger.Ledger)(nil)
)

type Config struct {
	CreditThreshold int
	Timeout         time.Duration
	DegradedMode    bool
}

func ConfigFrom(cfg config.OnboardingConfig) Config {
	c := Config{CreditThreshold: cfg.CreditThreshold, Timeout: cfg.Timeout, DegradedMode: cfg.DegradedMode}
	if c.CreditThreshold <= 0 {
		c.CreditThreshold = 700
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	return c
}

type Request struct {
	CustomerID     int64
	AccountType    account.Type
	Currency       string
	InterestRate   *decimal.Decimal
	OverdraftLimit decimal.Decimal
	// AllowDegraded lets credit and risk failures produce a DEGRADED decision
	// instead of DECLINED. Config.DegradedMode enables it for every request.
	AllowDegraded bool
}

// Decision is the outcome of one onboarding request.
type Decision struct {
	RequestID  string             `json:"requestId"`
	CustomerID int64              `json:"customerId"`
	State      State              `json:"state"`
	Reason     string             `json:"reason,omitempty"`
	Source     string             `json:"source,omitempty"`
	Customer   *customer.Customer `json:"-"`
	Profile    *customer.Profile  `json:"-"`
	Credit     *CreditReport      `json:"credit,omitempty"`
	Risk       *RiskAssessment    `json:"risk,omitempty"`
	Failures   []error            `json:"-"`
	Account    *account.Account   `json:"-"`

	cause error
}

// Err returns the CheckFailedError behind a DECLINED decision.
func (d *Decision) Err() error {
	if d.State != StateDeclined {
		return nil
	}
	return apperrors.NewCheckFailed(d.Source, d.Reason, d.cause)
}

type Orchestrator struct {
	customers Customers
	accounts  Accounts
	credit    CreditBureau
	risk      RiskEngine
	notifier  event.Notifier
	cfg       Config
	logger    *slog.Logger
}

func NewOrchestrator(customers Customers, accounts Accounts, credit CreditBureau, risk RiskEngine, notifier event.Notifier, cfg Config, logger *slog.Logger) *Orchestrator {
	if customers == nil || accounts == nil || credit == nil || risk == nil {
		panic("onboarding orchestrator dependencies cannot be nil")
	}
	if notifier == nil {
		notifier = event.Nop{}
	}
	return &Orchestrator{
		customers: customers,
		accounts:  accounts,
		credit:    credit,
		risk:      risk,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With("component", "OnboardingOrchestrator"),
	}
}

// await runs fn on its own goroutine and stops waiting once ctx is done, so a
// collaborator that ignores cancellation cannot hold the join past the deadline.
func await[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// fanIn collects branch results as they complete.
type fanIn struct {
	mu        sync.Mutex
	completed map[string]any
	failures  map[string]error
}

func (f *fanIn) done(source string, v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed[source] = v
}

func (f *fanIn) fail(source string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[source] = err
}

func (f *fanIn) snapshot() (map[string]any, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	completed := make(map[string]any, len(f.completed))
	for k, v := range f.completed {
		completed[k] = v
	}
	var pending []string
	for _, s := range allSources {
		if _, ok := completed[s]; !ok {
			pending = append(pending, s)
		}
	}
	return completed, pending
}

func branchFailure(source string, err error) error {
	var cf *apperrors.CheckFailedError
	if errors.As(err, &cf) {
		return err
	}
	return apperrors.NewCheckFailed(source, "", err)
}

// Evaluate runs the four checks and decides. It returns an error only when
// the deadline expires or ctx is cancelled; a failed check yields a DECLINED
// decision.
func (o *Orchestrator) Evaluate(ctx context.Context, req Request) (*Decision, error) {
	d := &Decision{RequestID: uuid.NewString(), CustomerID: req.CustomerID, State: StateStarted}
	log := o.logger.With(slog.String("requestID", d.RequestID), slog.Int64("customerID", req.CustomerID))

	if err := validation.ValidateAccountID("customerId", req.CustomerID); err != nil {
		return nil, err
	}

	degraded := req.AllowDegraded || o.cfg.DegradedMode
	d.State = StateChecksInFlight
	log.InfoContext(ctx, "Onboarding checks started", slog.Bool("degradedMode", degraded), slog.Duration("timeout", o.cfg.Timeout))

	tctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	results := &fanIn{completed: map[string]any{}, failures: map[string]error{}}
	g, gctx := errgroup.WithContext(tctx)

	g.Go(func() error {
		c, err := await(gctx, func(ctx context.Context) (*customer.Customer, error) {
			c, err := o.customers.Get(ctx, req.CustomerID)
			if err != nil {
				return nil, err
			}
			if c == nil {
				return nil, fmt.Errorf("%w: id %d", apperrors.ErrCustomerNotFound, req.CustomerID)
			}
			if err := validation.ValidateCustomerState(c); err != nil {
				return nil, apperrors.NewCheckFailed(SourceCustomer, fmt.Sprintf("customer is %s", c.Status), err)
			}
			return c, nil
		})
		if err != nil {
			return branchFailure(SourceCustomer, err)
		}
		results.done(SourceCustomer, c)
		return nil
	})

	g.Go(func() error {
		p, err := await(gctx, func(ctx context.Context) (*customer.Profile, error) {
			p, err := o.customers.GetProfile(ctx, req.CustomerID)
			if err == nil && p == nil {
				err = fmt.Errorf("%w: customer %d", apperrors.ErrProfileNotFound, req.CustomerID)
			}
			return p, err
		})
		if err != nil {
			return branchFailure(SourceProfile, err)
		}
		results.done(SourceProfile, p)
		return nil
	})

	g.Go(func() error {
		report, err := await(gctx, func(ctx context.Context) (CreditReport, error) {
			return o.credit.Check(ctx, req.CustomerID)
		})
		if err != nil {
			err = branchFailure(SourceCreditScore, err)
			if degraded && tctx.Err() == nil {
				results.fail(SourceCreditScore, err)
				return nil
			}
			return err
		}
		results.done(SourceCreditScore, report)
		return nil
	})

	g.Go(func() error {
		assessment, err := await(gctx, func(ctx context.Context) (RiskAssessment, error) {
			return o.risk.Check(ctx, req.CustomerID)
		})
		if err != nil {
			err = branchFailure(SourceRiskRating, err)
			if degraded && tctx.Err() == nil {
				results.fail(SourceRiskRating, err)
				return nil
			}
			return err
		}
		results.done(SourceRiskRating, assessment)
		return nil
	})

	groupErr := g.Wait()

	completed, pending := results.snapshot()
	for source := range results.failures {
		pending = removeSource(pending, source)
	}
	if errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && len(pending) > 0 {
		terr := &apperrors.TimeoutError{Deadline: o.cfg.Timeout, Completed: completed, Pending: pending}
		log.WarnContext(ctx, "Onboarding checks timed out", slog.Any("completed", sortedKeys(completed)), slog.Any("pending", pending))
		monitoring.RecordOnboardingDecision("TIMEOUT")
		return nil, terr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.fill(d, results)
	if groupErr != nil {
		var cf *apperrors.CheckFailedError
		if errors.As(groupErr, &cf) {
			o.decline(d, cf.Source, failureReason(cf), groupErr)
		} else {
			o.decline(d, "", groupErr.Error(), groupErr)
		}
	} else {
		o.decide(d, results.failures)
	}

	o.record(ctx, log, d)
	return d, nil
}

func (o *Orchestrator) fill(d *Decision, r *fanIn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.completed[SourceCustomer].(*customer.Customer); ok {
		d.Customer = c
	}
	if p, ok := r.completed[SourceProfile].(*customer.Profile); ok {
		d.Profile = p
	}
	if c, ok := r.completed[SourceCreditScore].(CreditReport); ok {
		d.Credit = &c
	}
	if a, ok := r.completed[SourceRiskRating].(RiskAssessment); ok {
		d.Risk = &a
	}
}

func failureReason(cf *apperrors.CheckFailedError) string {
	if cf.Reason != "" {
		return cf.Reason
	}
	if cf.Cause != nil {
		return cf.Cause.Error()
	}
	return "check failed"
}

func (o *Orchestrator) decline(d *Decision, source, reason string, cause error) {
	d.State = StateDeclined
	d.Source = source
	d.Reason = reason
	d.cause = cause
}

// decide applies the approval rule: KYC verified, credit score at or above
// the threshold and a risk rating other than HIGH. Missing credit or risk
// results, which only happens in degraded mode, turn an otherwise passing
// request into DEGRADED.
func (o *Orchestrator) decide(d *Decision, failures map[string]error) {
	if !d.Profile.Verified() {
		o.decline(d, SourceProfile, fmt.Sprintf("KYC status is %s, %s required", d.Profile.KYCStatus, customer.KYCVerified), nil)
		return
	}
	if d.Credit != nil && d.Credit.Score < o.cfg.CreditThreshold {
		o.decline(d, SourceCreditScore, fmt.Sprintf("credit score %d below threshold %d", d.Credit.Score, o.cfg.CreditThreshold), nil)
		return
	}
	if d.Risk != nil && d.Risk.Rating == RiskHigh {
		o.decline(d, SourceRiskRating, fmt.Sprintf("risk rating is %s", d.Risk.Rating), nil)
		return
	}
	if len(failures) > 0 {
		sources := make([]string, 0, len(failures))
		for s := range failures {
			sources = append(sources, s)
		}
		sort.Strings(sources)
		for _, s := range sources {
			d.Failures = append(d.Failures, failures[s])
		}
		d.State = StateDegraded
		d.Reason = fmt.Sprintf("checks unavailable: %s", strings.Join(sources, ", "))
		return
	}
	d.State = StateApproved
}

func (o *Orchestrator) record(ctx context.Context, log *slog.Logger, d *Decision) {
	monitoring.RecordOnboardingDecision(string(d.State))

	e := event.New(event.TypeOnboardingApproved)
	e.CustomerID = d.CustomerID
	e.Reason = d.Reason
	switch d.State {
	case StateApproved:
		log.InfoContext(ctx, "Onboarding approved")
	case StateDegraded:
		e.Type = event.TypeOnboardingDegraded
		log.WarnContext(ctx, "Onboarding degraded", slog.String("reason", d.Reason), slog.Any("failures", d.Failures))
	case StateDeclined:
		e.Type = event.TypeOnboardingDeclined
		log.InfoContext(ctx, "Onboarding declined", slog.String("source", d.Source), slog.String("reason", d.Reason))
	}
	o.notifier.Notify(ctx, e)
}

// Onboard evaluates the request and, unless it is declined, opens the
// account. Approved accounts are activated and the customer with them;
// degraded ones stay PENDING_APPROVAL for manual review.
func (o *Orchestrator) Onboard(ctx context.Context, req Request) (*Decision, error) {
	if req.AccountType == "" {
		req.AccountType = account.TypeChecking
	}
	if err := validation.ValidateAccountType(req.AccountType); err != nil {
		return nil, err
	}

	d, err := o.Evaluate(ctx, req)
	if err != nil {
		return nil, err
	}
	if d.State == StateDeclined {
		return d, nil
	}

	acc, err := o.provision(ctx, req, d.State == StateApproved)
	if err != nil {
		return nil, err
	}
	d.Account = acc
	return d, nil
}

// OpenAccount is Onboard for callers that only want the account: a declined
// request comes back as a CheckFailedError naming the failing check.
func (o *Orchestrator) OpenAccount(ctx context.Context, req Request) (*account.Account, error) {
	d, err := o.Onboard(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return d.Account, nil
}

func (o *Orchestrator) provision(ctx context.Context, req Request, activate bool) (*account.Account, error) {
	log := o.logger.With(slog.Int64("customerID", req.CustomerID), slog.String("type", string(req.AccountType)))

	acc, err := o.accounts.OpenAccount(ctx, ledger.OpenRequest{
		Type:           req.AccountType,
		Currency:       req.Currency,
		InterestRate:   req.InterestRate,
		OverdraftLimit: req.OverdraftLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s account for customer %d: %w", req.AccountType, req.CustomerID, err)
	}

	if err := o.customers.AddAccountToCustomer(ctx, req.CustomerID, acc.ID); err != nil {
		log.ErrorContext(ctx, "Account opened but not linked to customer", slog.Int64("accountID", acc.ID), slog.Any("error", err))
		return nil, err
	}

	if !activate {
		log.InfoContext(ctx, "Account left pending approval", slog.Int64("accountID", acc.ID))
		return acc, nil
	}

	if acc, err = o.accounts.Activate(ctx, acc.ID); err != nil {
		log.ErrorContext(ctx, "Failed to activate approved account", slog.Any("error", err))
		return nil, err
	}
	if err := o.customers.Activate(ctx, req.CustomerID); err != nil {
		log.ErrorContext(ctx, "Failed to activate customer", slog.Any("error", err))
		return nil, err
	}
	log.InfoContext(ctx, "Account provisioned", slog.Int64("accountID", acc.ID), slog.String("number", acc.Number))
	return acc, nil
}

type FallbackResult struct {
	Account *account.Account
	// Premium is false when the savings fallback was taken.
	Premium        bool
	FallbackReason error
}

// CreatePremiumAccountWithFallback tries to open an INVESTMENT account and,
// when a check fails or the checks time out, opens an active SAVINGS account
// instead. Missing or blocked customers are not eligible for the fallback.
func (o *Orchestrator) CreatePremiumAccountWithFallback(ctx context.Context, req Request) (*FallbackResult, error) {
	premium := req
	premium.AccountType = account.TypeInvestment

	acc, err := o.OpenAccount(ctx, premium)
	if err == nil {
		return &FallbackResult{Account: acc, Premium: true}, nil
	}

	if !errors.Is(err, apperrors.ErrCheckFailed) && !errors.Is(err, apperrors.ErrTimeout) {
		return nil, err
	}
	if errors.Is(err, apperrors.ErrCustomerNotFound) || errors.Is(err, apperrors.ErrInvalidState) {
		return nil, err
	}

	log := o.logger.With(slog.Int64("customerID", req.CustomerID))
	log.WarnContext(ctx, "Premium account checks failed, falling back to savings account", slog.Any("reason", err))
	monitoring.RecordOnboardingFallback()

	e := event.New(event.TypeOnboardingFallback)
	e.CustomerID = req.CustomerID
	e.Reason = err.Error()
	o.notifier.Notify(ctx, e)

	savings := req
	savings.AccountType = account.TypeSavings
	acc, perr := o.provision(ctx, savings, true)
	if perr != nil {
		return nil, fmt.Errorf("savings fallback after %v failed: %w", err, perr)
	}
	return &FallbackResult{Account: acc, Premium: false, FallbackReason: err}, nil
}

func removeSource(list []string, source string) []string {
	out := list[:0]
	for _, s := range list {
		if s != source {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
