package http

import (
	"encoding/json"
	"net/http"
	"strings"
)

type AuthHandler struct{}

func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

type SignInRequestDTO struct {
	Token string `json:"token"`
}

// POST /api/v1/auth/signin
//
// The token may come in the body or as a bearer Authorization header. A
// successful sign in switches the session to the user's remote cart.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	s := sessionFromContext(r.Context())
	if s == nil {
		respondError(w, http.StatusBadRequest, "missing_session", "missing session")
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		var req SignInRequestDTO
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
		token = req.Token
	}
	if token == "" {
		respondError(w, http.StatusBadRequest, "missing_token", "token is required")
		return
	}

	if _, err := s.Identity.SignIn(token); err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, cartResponse(s.Cart))
}

// POST /api/v1/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	s := sessionFromContext(r.Context())
	if s == nil {
		respondError(w, http.StatusBadRequest, "missing_session", "missing session")
		return
	}

	s.Identity.SignOut()
	respondJSON(w, http.StatusOK, cartResponse(s.Cart))
}
