package auth

import (
	"context"
	"errors"
	"time"

	"github.com/phrazzld/taskpump/internal/platform/logger"
	"golang.org/x/crypto/bcrypt"
)

// AdminSubject is the JWT subject of admin tokens.
const AdminSubject = "admin"

// Token is an issued access token.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// AdminAuthenticator exchanges the admin password for an access token.
type AdminAuthenticator struct {
	passwordHash string
	verifier     PasswordVerifier
	jwt          JWTService
	now          func() time.Time
}

// NewAdminAuthenticator creates an AdminAuthenticator. An empty passwordHash
// disables login.
func NewAdminAuthenticator(passwordHash string, verifier PasswordVerifier, jwtService JWTService) *AdminAuthenticator {
	return &AdminAuthenticator{
		passwordHash: passwordHash,
		verifier:     verifier,
		jwt:          jwtService,
		now:          time.Now,
	}
}

// Login checks password against the admin hash and issues a token.
func (a *AdminAuthenticator) Login(ctx context.Context, password string) (*Token, error) {
	log := logger.FromContext(ctx)
	if a.passwordHash == "" {
		return nil, ErrLoginDisabled
	}

	if err := a.verifier.Compare(a.passwordHash, password); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			log.Warn("admin login rejected")
		} else {
			log.Error("admin password comparison failed", "error", err)
		}
		return nil, ErrInvalidCredentials
	}

	issuedAt := a.now()
	token, err := a.jwt.GenerateToken(ctx, AdminSubject)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: token, ExpiresAt: issuedAt.Add(a.jwt.TokenLifetime())}, nil
}
