package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"ledger-engine/internal/api/handler/dto"
	"ledger-engine/internal/pkg/apperrors"

	"github.com/go-chi/chi/v5"
)

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("no request body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	response, err := json.Marshal(payload)
	if err != nil {
		slog.Default().Error("Failed to marshal JSON response", "error", err)
		http.Error(w, `{"error":{"message":"Internal server error"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

// errorStatus maps the error taxonomy onto HTTP. Order matters: a
// ValidationError wraps a sentinel, and the field is only reported from it.
func errorStatus(err error) (int, dto.ErrorDetail) {
	var (
		validationErr *apperrors.ValidationError
		checkErr      *apperrors.CheckFailedError
		appErr        *apperrors.AppError
	)

	switch {
	case errors.As(err, &validationErr):
		status := http.StatusBadRequest
		code := "VALIDATION_FAILED"
		if errors.Is(err, apperrors.ErrInvalidState) {
			status, code = http.StatusConflict, "INVALID_STATE"
		}
		return status, dto.ErrorDetail{Code: code, Message: validationErr.Message, Field: validationErr.Field}
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, dto.ErrorDetail{Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, apperrors.ErrInvalidArgument), errors.Is(err, apperrors.ErrValidation), errors.Is(err, apperrors.ErrInvalidAmount):
		return http.StatusBadRequest, dto.ErrorDetail{Code: "INVALID_ARGUMENT", Message: err.Error()}
	case errors.Is(err, apperrors.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, dto.ErrorDetail{Code: "INSUFFICIENT_FUNDS", Message: err.Error()}
	case errors.Is(err, apperrors.ErrInvalidState):
		return http.StatusConflict, dto.ErrorDetail{Code: "INVALID_STATE", Message: err.Error()}
	case errors.Is(err, apperrors.ErrConcurrentModification):
		return http.StatusConflict, dto.ErrorDetail{Code: "CONCURRENT_MODIFICATION", Message: err.Error()}
	case errors.Is(err, apperrors.ErrAlreadyExists):
		return http.StatusConflict, dto.ErrorDetail{Code: "ALREADY_EXISTS", Message: err.Error()}
	case errors.As(err, &checkErr):
		return http.StatusUnprocessableEntity, dto.ErrorDetail{Code: "CHECK_FAILED", Message: err.Error(), Field: checkErr.Source}
	case errors.Is(err, apperrors.ErrTimeout):
		return http.StatusGatewayTimeout, dto.ErrorDetail{Code: "TIMEOUT", Message: err.Error()}
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized, dto.ErrorDetail{Code: "UNAUTHORIZED", Message: "Unauthorized"}
	case errors.As(err, &appErr):
		return http.StatusInternalServerError, dto.ErrorDetail{Code: appErr.Code, Message: "An unexpected error occurred."}
	default:
		return http.StatusInternalServerError, dto.ErrorDetail{Code: "INTERNAL", Message: "An unexpected error occurred."}
	}
}

func respondError(w http.ResponseWriter, err error) {
	status, detail := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.Default().Error("Unhandled internal error", "error", err)
	}
	respondJSON(w, status, dto.ErrorResponse{Error: detail})
}

// logLevelFor keeps client mistakes out of the error log.
func logLevelFor(err error) slog.Level {
	status, _ := errorStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout {
		return slog.LevelError
	}
	return slog.LevelWarn
}

func idFromURL(r *http.Request, param string) (int64, error) {
	idStr := chi.URLParam(r, param)
	if idStr == "" {
		return 0, fmt.Errorf("%w: %s not found in URL path", apperrors.ErrInvalidArgument, param)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s format in URL path: %s", apperrors.ErrInvalidArgument, param, idStr)
	}
	return id, nil
}
