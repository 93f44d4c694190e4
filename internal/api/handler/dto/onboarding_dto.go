package dto

import (
	"strconv"
	"time"

	"ledger-engine/internal/onboarding"
	"ledger-engine/internal/rates"

	"github.com/shopspring/decimal"
)

type OnboardingRequest struct {
	AccountType    string           `json:"accountType"`
	Currency       string           `json:"currency"`
	InterestRate   *decimal.Decimal `json:"interestRate,omitempty"`
	OverdraftLimit decimal.Decimal  `json:"overdraftLimit"`
	AllowDegraded  bool             `json:"allowDegraded"`
}

type DecisionResponse struct {
	RequestID   string           `json:"requestId"`
	CustomerID  string           `json:"customerId"`
	State       string           `json:"state"`
	Reason      string           `json:"reason,omitempty"`
	Source      string           `json:"source,omitempty"`
	CreditScore *int             `json:"creditScore,omitempty"`
	RiskRating  string           `json:"riskRating,omitempty"`
	Unavailable []string         `json:"unavailable,omitempty"`
	Account     *AccountResponse `json:"account,omitempty"`
}

func NewDecisionResponse(d *onboarding.Decision) DecisionResponse {
	if d == nil {
		return DecisionResponse{}
	}
	resp := DecisionResponse{
		RequestID:  d.RequestID,
		CustomerID: strconv.FormatInt(d.CustomerID, 10),
		State:      string(d.State),
		Reason:     d.Reason,
		Source:     d.Source,
	}
	if d.Credit != nil {
		score := d.Credit.Score
		resp.CreditScore = &score
	}
	if d.Risk != nil {
		resp.RiskRating = string(d.Risk.Rating)
	}
	for _, f := range d.Failures {
		resp.Unavailable = append(resp.Unavailable, f.Error())
	}
	if d.Account != nil {
		acc := NewAccountResponse(d.Account)
		resp.Account = &acc
	}
	return resp
}

type PremiumAccountResponse struct {
	Account        AccountResponse `json:"account"`
	Premium        bool            `json:"premium"`
	FallbackReason string          `json:"fallbackReason,omitempty"`
}

func NewPremiumAccountResponse(r *onboarding.FallbackResult) PremiumAccountResponse {
	if r == nil {
		return PremiumAccountResponse{}
	}
	resp := PremiumAccountResponse{
		Account: NewAccountResponse(r.Account),
		Premium: r.Premium,
	}
	if r.FallbackReason != nil {
		resp.FallbackReason = r.FallbackReason.Error()
	}
	return resp
}

type QuoteResponse struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Rate      string    `json:"rate"`
	Provider  string    `json:"provider"`
	FetchedAt time.Time `json:"fetchedAt"`
}

func NewQuoteResponse(q rates.Quote) QuoteResponse {
	return QuoteResponse{
		From:      q.From,
		To:        q.To,
		Rate:      q.Rate.String(),
		Provider:  q.Provider,
		FetchedAt: q.FetchedAt,
	}
}
