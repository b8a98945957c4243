package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/identity"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError converts service errors to HTTP status codes.
func handleServiceError(w http.ResponseWriter, err error) {
	var status int
	var code string

	switch {
	case errors.Is(err, domain.ErrProductNotFound) && !errors.Is(err, domain.ErrValidation):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrValidation):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrEmptyCart):
		status, code = http.StatusBadRequest, "empty_cart"
	case errors.Is(err, domain.ErrNotAuthenticated):
		status, code = http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, identity.ErrInvalidToken):
		status, code = http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, identity.ErrSignerNotConfigured):
		status, code = http.StatusServiceUnavailable, "auth_unavailable"
	case errors.Is(err, domain.ErrRemoteUnavailable):
		status, code = http.StatusServiceUnavailable, "service_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "timeout"
	default:
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondError(w, status, code, err.Error())
}
