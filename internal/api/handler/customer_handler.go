package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"ledger-engine/internal/api/handler/dto"
	"ledger-engine/internal/domain/customer"
	"ledger-engine/internal/pkg/apperrors"
)

type CustomerHandler struct {
	service customer.CustomerService
	logger  *slog.Logger
}

func NewCustomerHandler(s customer.CustomerService, l *slog.Logger) *CustomerHandler {
	if s == nil {
		panic("customer service cannot be nil")
	}
	if l == nil {
		panic("logger cannot be nil")
	}
	return &CustomerHandler{
		service: s,
		logger:  l.With("component", "CustomerHandler"),
	}
}

// RegisterCustomer handles POST /customers
func (h *CustomerHandler) RegisterCustomer(w http.ResponseWriter, r *http.Request) {
	h.logger.DebugContext(r.Context(), "Received register customer request")

	var req dto.RegisterCustomerRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	if err := req.Validate(); err != nil {
		h.logger.WarnContext(r.Context(), "Validation failed", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	created, err := h.service.Register(r.Context(), req.Name, req.Email)
	if err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Service failed to register customer", slog.Any("error", err))
		respondError(w, err)
		return
	}

	resp := dto.NewCustomerResponse(created)
	h.logger.InfoContext(r.Context(), "Customer registered successfully", slog.String("customerID", resp.CustomerID))
	respondJSON(w, http.StatusCreated, resp)
}

// GetCustomer handles GET /customers/{customerID}
func (h *CustomerHandler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	customerID, err := idFromURL(r, "customerID")
	if err != nil {
		h.logger.WarnContext(r.Context(), "Failed to get customer ID from URL", slog.Any("error", err))
		respondError(w, err)
		return
	}

	found, err := h.service.Get(r.Context(), customerID)
	if err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Service failed to get customer", slog.Any("error", err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewCustomerResponse(found))
}

// GetProfile handles GET /customers/{customerID}/profile
func (h *CustomerHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	customerID, err := idFromURL(r, "customerID")
	if err != nil {
		respondError(w, err)
		return
	}

	profile, err := h.service.GetProfile(r.Context(), customerID)
	if err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Service failed to get profile", slog.Any("error", err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewProfileResponse(profile))
}

// CompleteKYC handles POST /customers/{customerID}/kyc
func (h *CustomerHandler) CompleteKYC(w http.ResponseWriter, r *http.Request) {
	customerID, err := idFromURL(r, "customerID")
	if err != nil {
		respondError(w, err)
		return
	}

	var req dto.CompleteKYCRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	identity, err := req.Identity()
	if err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	profile, err := h.service.CompleteKYC(r.Context(), customerID, identity)
	if err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Service failed to complete KYC", slog.Int64("customerID", customerID), slog.Any("error", err))
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "KYC completed", slog.Int64("customerID", customerID))
	respondJSON(w, http.StatusOK, dto.NewProfileResponse(profile))
}

// UpdateContact handles PATCH /customers/{customerID}/contact
func (h *CustomerHandler) UpdateContact(w http.ResponseWriter, r *http.Request) {
	customerID, err := idFromURL(r, "customerID")
	if err != nil {
		respondError(w, err)
		return
	}

	var req dto.UpdateContactRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	if err := h.service.UpdateContact(r.Context(), customerID, req.Phone); err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Service failed to update contact", slog.Any("error", err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

type customerOp func(h *CustomerHandler, r *http.Request, customerID int64) error

func (h *CustomerHandler) statusChange(name string, op customerOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		customerID, err := idFromURL(r, "customerID")
		if err != nil {
			respondError(w, err)
			return
		}
		if err := op(h, r, customerID); err != nil {
			h.logger.Log(r.Context(), logLevelFor(err), "Service failed to "+name+" customer", slog.Int64("customerID", customerID), slog.Any("error", err))
			respondError(w, err)
			return
		}
		h.logger.InfoContext(r.Context(), "Customer "+name+" succeeded", slog.Int64("customerID", customerID))
		respondJSON(w, http.StatusNoContent, nil)
	}
}

// ActivateCustomer handles POST /customers/{customerID}/activate
func (h *CustomerHandler) ActivateCustomer(w http.ResponseWriter, r *http.Request) {
	h.statusChange("activate", func(h *CustomerHandler, r *http.Request, id int64) error {
		return h.service.Activate(r.Context(), id)
	})(w, r)
}

// FreezeCustomer handles POST /customers/{customerID}/freeze
func (h *CustomerHandler) FreezeCustomer(w http.ResponseWriter, r *http.Request) {
	h.statusChange("freeze", func(h *CustomerHandler, r *http.Request, id int64) error {
		return h.service.Freeze(r.Context(), id)
	})(w, r)
}

// DeleteCustomer handles DELETE /customers/{customerID}
func (h *CustomerHandler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	h.statusChange("delete", func(h *CustomerHandler, r *http.Request, id int64) error {
		return h.service.SoftDelete(r.Context(), id)
	})(w, r)
}

// LinkAccount handles POST /customers/{customerID}/accounts
func (h *CustomerHandler) LinkAccount(w http.ResponseWriter, r *http.Request) {
	customerID, err := idFromURL(r, "customerID")
	if err != nil {
		respondError(w, err)
		return
	}

	var req dto.LinkAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	if err := h.service.AddAccountToCustomer(r.Context(), customerID, req.AccountID); err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Service failed to link account", slog.Any("error", err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

// UnlinkAccount handles DELETE /customers/{customerID}/accounts/{accountID}
func (h *CustomerHandler) UnlinkAccount(w http.ResponseWriter, r *http.Request) {
	customerID, err := idFromURL(r, "customerID")
	if err != nil {
		respondError(w, err)
		return
	}
	accountID, err := idFromURL(r, "accountID")
	if err != nil {
		respondError(w, err)
		return
	}

	if err := h.service.RemoveAccountFromCustomer(r.Context(), customerID, accountID); err != nil {
		h.logger.Log(r.Context(), logLevelFor(err), "Service failed to unlink account", slog.Any("error", err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}
