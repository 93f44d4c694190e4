package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"ledger-engine/internal/api/handler/dto"
	"ledger-engine/internal/config"
	"ledger-engine/internal/pkg/apperrors"

	"github.com/golang-jwt/jwt/v5"
)

const tokenTTL = 24 * time.Hour

type AuthHandler struct {
	cfg    config.AuthConfig
	now    func() time.Time
	logger *slog.Logger
}

func NewAuthHandler(cfg config.AuthConfig, l *slog.Logger) *AuthHandler {
	return &AuthHandler{
		cfg:    cfg,
		now:    time.Now,
		logger: l.With("component", "AuthHandler"),
	}
}

// GenerateBearerToken handles POST /auth/token. It signs an HS256 token for
// the given username with the configured secret.
func (h *AuthHandler) GenerateBearerToken(w http.ResponseWriter, r *http.Request) {
	var req dto.TokenRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		h.logger.WarnContext(r.Context(), "Username is required")
		respondError(w, apperrors.NewValidationError(apperrors.ErrInvalidArgument, "username", "username is required"))
		return
	}
	if h.cfg.JWTSecret == "" {
		h.logger.ErrorContext(r.Context(), "JWT secret is not configured")
		respondError(w, &apperrors.AppError{Code: "AUTH_MISCONFIGURED", Message: "token signing is not configured"})
		return
	}

	expiresAt := h.now().Add(tokenTTL)
	claims := jwt.MapClaims{
		"username": username,
		"iat":      h.now().Unix(),
		"exp":      expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(h.cfg.JWTSecret))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to sign token", slog.Any("error", err))
		respondError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Bearer token issued", slog.String("username", username))
	respondJSON(w, http.StatusOK, dto.TokenResponse{
		Token:     "Bearer " + tokenString,
		ExpiresAt: expiresAt.Unix(),
	})
}
