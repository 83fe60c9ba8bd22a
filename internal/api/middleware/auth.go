package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/phrazzld/taskpump/internal/api/shared"
	"github.com/phrazzld/taskpump/internal/service/auth"
)

// AuthMiddleware provides JWT authentication for the admin routes.
type AuthMiddleware struct {
	jwtService auth.JWTService
}

// NewAuthMiddleware creates a new AuthMiddleware with the given dependencies.
func NewAuthMiddleware(jwtService auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
	}
}

// Authenticate validates the bearer token in the Authorization header and
// adds its subject to the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization header required")
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" || strings.Contains(token, " ") {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		claims, err := m.jwtService.ValidateToken(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrExpiredToken):
				shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "Token expired", err)
			case errors.Is(err, auth.ErrInvalidToken),
				errors.Is(err, auth.ErrWrongTokenType),
				errors.Is(err, auth.ErrTokenNotYetValid),
				errors.Is(err, auth.ErrMissingToken):
				shared.RespondWithErrorAndLog(w, r, http.StatusUnauthorized, "Invalid token", err,
					shared.WithElevatedLogLevel())
			default:
				shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Authentication error", err)
			}
			return
		}

		next.ServeHTTP(w, r.WithContext(shared.SetSubject(r.Context(), claims.Subject)))
	})
}

// GetSubject returns the authenticated subject of r.
func GetSubject(r *http.Request) (string, bool) {
	return shared.GetSubject(r.Context())
}
