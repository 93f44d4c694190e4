package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"ledger-engine/internal/api/handler/dto"
	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/onboarding"
	"ledger-engine/internal/pkg/apperrors"
	"ledger-engine/internal/rates"

	"github.com/go-chi/chi/v5"
)

type Onboarder interface {
	Onboard(ctx context.Context, req onboarding.Request) (*onboarding.Decision, error)
	CreatePremiumAccountWithFallback(ctx context.Context, req onboarding.Request) (*onboarding.FallbackResult, error)
}

type Quoter interface {
	Quote(ctx context.Context, from, to string) (rates.Quote, error)
}

var (
	_ Onboarder = (*onboarding.Orchestrator)(nil)
	_ Quoter    = (*rates.Service)(nil)
)

type OnboardingHandler struct {
	onboarder Onboarder
	quoter    Quoter
	logger    *slog.Logger
}

func NewOnboardingHandler(o Onboarder, q Quoter, l *slog.Logger) *OnboardingHandler {
	if o == nil {
		panic("onboarder cannot be nil")
	}
	if q == nil {
		panic("quoter cannot be nil")
	}
	return &OnboardingHandler{
		onboarder: o,
		quoter:    q,
		logger:    l.With("component", "OnboardingHandler"),
	}
}

func (h *OnboardingHandler) readRequest(r *http.Request) (onboarding.Request, error) {
	customerID, err := idFromURL(r, "customerID")
	if err != nil {
		return onboarding.Request{}, err
	}
	var body dto.OnboardingRequest
	if err := decodeJSON(r, &body); err != nil {
		return onboarding.Request{}, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err)
	}
	return onboarding.Request{
		CustomerID:     customerID,
		AccountType:    account.Type(strings.ToUpper(strings.TrimSpace(body.AccountType))),
		Currency:       body.Currency,
		InterestRate:   body.InterestRate,
		OverdraftLimit: body.OverdraftLimit,
		AllowDegraded:  body.AllowDegraded,
	}, nil
}

// Onboard handles POST /onboarding/{customerID}/accounts. A declined
// decision is answered with 422 and the decision body.
func (h *OnboardingHandler) Onboard(w http.ResponseWriter, r *http.Request) {
	req, err := h.readRequest(r)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Invalid onboarding request", slog.Any("error", err))
		respondError(w, err)
		return
	}

	decision, err := h.onboarder.Onboard(r.Context(), req)
	if err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Onboarding failed", slog.Int64("customerID", req.CustomerID), slog.Any("error", err))
		respondError(w, err)
		return
	}

	status := http.StatusCreated
	switch decision.State {
	case onboarding.StateDeclined:
		status = http.StatusUnprocessableEntity
	case onboarding.StateDegraded:
		status = http.StatusAccepted
	}
	respondJSON(w, status, dto.NewDecisionResponse(decision))
}

// OnboardPremium handles POST /onboarding/{customerID}/premium
func (h *OnboardingHandler) OnboardPremium(w http.ResponseWriter, r *http.Request) {
	req, err := h.readRequest(r)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Invalid premium onboarding request", slog.Any("error", err))
		respondError(w, err)
		return
	}

	result, err := h.onboarder.CreatePremiumAccountWithFallback(r.Context(), req)
	if err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Premium onboarding failed", slog.Int64("customerID", req.CustomerID), slog.Any("error", err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, dto.NewPremiumAccountResponse(result))
}

// GetRate handles GET /rates/{from}/{to}
func (h *OnboardingHandler) GetRate(w http.ResponseWriter, r *http.Request) {
	from, to := chi.URLParam(r, "from"), chi.URLParam(r, "to")
	quote, err := h.quoter.Quote(r.Context(), from, to)
	if err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Rate lookup failed", slog.String("pair", from+"/"+to), slog.Any("error", err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewQuoteResponse(quote))
}
