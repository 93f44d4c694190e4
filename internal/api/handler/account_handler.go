package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"ledger-engine/internal/api/handler/dto"
	"ledger-engine/internal/domain/account"
	"ledger-engine/internal/ledger"
	"ledger-engine/internal/pkg/apperrors"

	"github.com/shopspring/decimal"
)

type AccountService interface {
	Deposit(ctx context.Context, accountID int64, amount decimal.Decimal, opts ...ledger.CallOption) (decimal.Decimal, error)
	Withdraw(ctx context.Context, accountID int64, amount decimal.Decimal, opts ...ledger.CallOption) (decimal.Decimal, error)
	Transfer(ctx context.Context, fromID, toID int64, amount decimal.Decimal, opts ...ledger.CallOption) error
	Get(ctx context.Context, accountID int64) (*account.Account, error)
	OpenAccount(ctx context.Context, req ledger.OpenRequest) (*account.Account, error)
	Activate(ctx context.Context, accountID int64, opts ...ledger.CallOption) (*account.Account, error)
	Freeze(ctx context.Context, accountID int64, opts ...ledger.CallOption) (*account.Account, error)
	Unfreeze(ctx context.Context, accountID int64, opts ...ledger.CallOption) (*account.Account, error)
	Close(ctx context.Context, accountID int64, opts ...ledger.CallOption) (*account.Account, error)
}

var _ AccountService = (*ledger.Ledger)(nil)

type AccountHandler struct {
	service AccountService
	logger  *slog.Logger
}

func NewAccountHandler(s AccountService, l *slog.Logger) *AccountHandler {
	if s == nil {
		panic("account service cannot be nil")
	}
	if l == nil {
		panic("logger cannot be nil")
	}
	return &AccountHandler{
		service: s,
		logger:  l.With("component", "AccountHandler"),
	}
}

// callOptions reads the optional ?strategy= override.
func callOptions(r *http.Request) ([]ledger.CallOption, error) {
	raw := r.URL.Query().Get("strategy")
	if raw == "" {
		return nil, nil
	}
	s, err := ledger.ParseStrategy(raw)
	if err != nil {
		return nil, err
	}
	return []ledger.CallOption{ledger.WithStrategy(s)}, nil
}

// OpenAccount handles POST /accounts
func (h *AccountHandler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req dto.OpenAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	acc, err := h.service.OpenAccount(r.Context(), ledger.OpenRequest{
		Type:           account.Type(strings.ToUpper(strings.TrimSpace(req.Type))),
		Currency:       req.Currency,
		InterestRate:   req.InterestRate,
		OverdraftLimit: req.OverdraftLimit,
	})
	if err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Service failed to open account", slog.Any("error", err))
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Account opened", slog.Int64("accountID", acc.ID))
	respondJSON(w, http.StatusCreated, dto.NewAccountResponse(acc))
}

// GetAccount handles GET /accounts/{accountID}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := idFromURL(r, "accountID")
	if err != nil {
		respondError(w, err)
		return
	}

	acc, err := h.service.Get(r.Context(), accountID)
	if err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Service failed to get account", slog.Int64("accountID", accountID), slog.Any("error", err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewAccountResponse(acc))
}

type balanceOp func(ctx context.Context, accountID int64, amount decimal.Decimal, opts ...ledger.CallOption) (decimal.Decimal, error)

func (h *AccountHandler) moveMoney(w http.ResponseWriter, r *http.Request, name string, op balanceOp) {
	accountID, err := idFromURL(r, "accountID")
	if err != nil {
		respondError(w, err)
		return
	}
	opts, err := callOptions(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req dto.AmountRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	balance, err := op(r.Context(), accountID, req.Amount, opts...)
	if err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Service failed to "+name, slog.Int64("accountID", accountID), slog.Any("error", err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewBalanceResponse(accountID, balance))
}

// Deposit handles POST /accounts/{accountID}/deposits
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.moveMoney(w, r, "deposit", h.service.Deposit)
}

// Withdraw handles POST /accounts/{accountID}/withdrawals
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.moveMoney(w, r, "withdraw", h.service.Withdraw)
}

// Transfer handles POST /transfers
func (h *AccountHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	opts, err := callOptions(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req dto.TransferRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	if err := h.service.Transfer(r.Context(), req.FromAccountID, req.ToAccountID, req.Amount, opts...); err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Service failed to transfer",
			slog.Int64("fromAccountID", req.FromAccountID), slog.Int64("toAccountID", req.ToAccountID), slog.Any("error", err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

type lifecycleOp func(ctx context.Context, accountID int64, opts ...ledger.CallOption) (*account.Account, error)

func (h *AccountHandler) lifecycle(op lifecycleOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := idFromURL(r, "accountID")
		if err != nil {
			respondError(w, err)
			return
		}
		acc, err := op(r.Context(), accountID)
		if err != nil {
			h.logger.Log(r.Context(), logLevelFor(err), "Account status change failed", slog.Int64("accountID", accountID), slog.Any("error", err))
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, dto.NewAccountResponse(acc))
	}
}

// Activate handles POST /accounts/{accountID}/activate
func (h *AccountHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(h.service.Activate)(w, r)
}

// Freeze handles POST /accounts/{accountID}/freeze
func (h *AccountHandler) Freeze(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(h.service.Freeze)(w, r)
}

// Unfreeze handles POST /accounts/{accountID}/unfreeze
func (h *AccountHandler) Unfreeze(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(h.service.Unfreeze)(w, r)
}

// Close handles POST /accounts/{accountID}/close
func (h *AccountHandler) Close(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(h.service.Close)(w, r)
}
