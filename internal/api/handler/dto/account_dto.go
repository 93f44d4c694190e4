package dto

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ledger-engine/internal/domain/account"

	"github.com/shopspring/decimal"
)

type OpenAccountRequest struct {
	Type           string           `json:"type"`
	Currency       string           `json:"currency"`
	InterestRate   *decimal.Decimal `json:"interestRate,omitempty"`
	OverdraftLimit decimal.Decimal  `json:"overdraftLimit"`
}

func (r *OpenAccountRequest) Validate() error {
	if strings.TrimSpace(r.Type) == "" {
		return fmt.Errorf("type cannot be empty")
	}
	if r.Currency != "" && len(strings.TrimSpace(r.Currency)) != 3 {
		return fmt.Errorf("currency must be a 3-letter code")
	}
	return nil
}

// AmountRequest is the body of deposits and withdrawals. Amount accepts a JSON
// number or a decimal string.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type TransferRequest struct {
	FromAccountID int64           `json:"fromAccountId"`
	ToAccountID   int64           `json:"toAccountId"`
	Amount        decimal.Decimal `json:"amount"`
}

func (r *TransferRequest) Validate() error {
	if r.FromAccountID <= 0 || r.ToAccountID <= 0 {
		return fmt.Errorf("fromAccountId and toAccountId must be positive numbers")
	}
	return nil
}

type AccountResponse struct {
	ID                 string    `json:"id"`
	Number             string    `json:"number"`
	Type               string    `json:"type"`
	Status             string    `json:"status"`
	Currency           string    `json:"currency"`
	Balance            string    `json:"balance"`
	InterestRate       *string   `json:"interestRate,omitempty"`
	OverdraftLimit     string    `json:"overdraftLimit"`
	LastInterestPeriod string    `json:"lastInterestPeriod,omitempty"`
	Version            int64     `json:"version"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func NewAccountResponse(acc *account.Account) AccountResponse {
	if acc == nil {
		return AccountResponse{}
	}

	var rate *string
	if acc.InterestRate != nil {
		s := acc.InterestRate.String()
		rate = &s
	}

	return AccountResponse{
		ID:                 strconv.FormatInt(acc.ID, 10),
		Number:             acc.Number,
		Type:               string(acc.Type),
		Status:             string(acc.Status),
		Currency:           acc.Currency,
		Balance:            acc.Balance.StringFixed(account.MoneyPlaces),
		InterestRate:       rate,
		OverdraftLimit:     acc.OverdraftLimit.StringFixed(account.MoneyPlaces),
		LastInterestPeriod: acc.LastInterestPeriod,
		Version:            acc.Version,
		CreatedAt:          acc.CreatedAt,
		UpdatedAt:          acc.UpdatedAt,
	}
}

type BalanceResponse struct {
	AccountID string `json:"accountId"`
	Balance   string `json:"balance"`
}

func NewBalanceResponse(accountID int64, balance decimal.Decimal) BalanceResponse {
	return BalanceResponse{
		AccountID: strconv.FormatInt(accountID, 10),
		Balance:   balance.StringFixed(account.MoneyPlaces),
	}
}
