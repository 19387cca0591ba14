package httpapi

import (
	"errors"
	"net/http"

	"logpipe/internal/auth"
	"logpipe/internal/utils"
)

// AdminAuthHandler issues admin API tokens
type AdminAuthHandler struct {
	auth   *auth.Authenticator
	logger *utils.Logger
}

// NewAdminAuthHandler creates a new admin auth handler
func NewAdminAuthHandler(a *auth.Authenticator, logger *utils.Logger) *AdminAuthHandler {
	return &AdminAuthHandler{auth: a, logger: logger}
}

// TokenRequest is the body of POST /admin/auth/token
type TokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse carries an issued token and its unix expiry
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Token handles POST /admin/auth/token
func (h *AdminAuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := utils.DecodeJSONBody(r, &req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if req.Username == "" || req.Password == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	token, exp, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.Warn("Rejected admin login", "username", req.Username)
			utils.RespondWithError(w, http.StatusUnauthorized, "Invalid username or password")
			return
		}
		h.logger.Error("Failed to issue token", "username", req.Username, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, TokenResponse{Token: token, ExpiresAt: exp})
}
