package auth

import (
	"context"
	"time"
)

// Token claims fixed for every admin token.
const (
	TokenTypeAccess = "access"
	TokenIssuer     = "taskpump"
)

// JWTService issues and checks the bearer tokens guarding the admin API.
type JWTService interface {
	GenerateToken(ctx context.Context, subject string) (string, error)

	// ValidateToken returns ErrMissingToken, ErrExpiredToken,
	// ErrTokenNotYetValid, ErrWrongTokenType or ErrInvalidToken on failure.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)

	TokenLifetime() time.Duration
}

// Claims is the decoded content of a valid admin token.
type Claims struct {
	TokenType string
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}
