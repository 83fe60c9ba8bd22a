package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/taskpump/internal/api/shared"
	"github.com/phrazzld/taskpump/internal/service/auth"
)

// AdminLogin exchanges the admin password for an access token.
type AdminLogin interface {
	Login(ctx context.Context, password string) (*auth.Token, error)
}

// AuthHandler handles authentication-related API requests.
type AuthHandler struct {
	login  AdminLogin
	logger *slog.Logger
}

// NewAuthHandler creates a new AuthHandler with the given dependencies.
func NewAuthHandler(login AdminLogin, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		login:  login,
		logger: logger.With("component", "auth_handler"),
	}
}

// IssueToken handles POST /api/auth/token.
func (h *AuthHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	token, err := h.login.Login(r.Context(), req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "Invalid credentials", err,
				shared.WithElevatedLogLevel())
		case errors.Is(err, auth.ErrLoginDisabled):
			shared.RespondWithErrorAndLog(w, r, http.StatusForbidden, "Admin login is disabled", err)
		default:
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError,
				"Failed to generate authentication token", err)
		}
		return
	}

	h.logger.InfoContext(r.Context(), "admin token issued", "expires_at", token.ExpiresAt)
	shared.RespondWithJSON(w, r, http.StatusOK, TokenResponse{
		AccessToken: token.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   token.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
