package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/taskpump/internal/config"
	"github.com/phrazzld/taskpump/internal/platform/logger"
)

const (
	minSecretLength = 32
	clockSkew       = 2 * time.Minute
)

var signingMethod = jwt.SigningMethodHS256

// hmacJWTService signs admin tokens with a shared HS256 secret.
type hmacJWTService struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

type tokenClaims struct {
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

var _ JWTService = (*hmacJWTService)(nil)

// NewJWTService builds the admin token service from the auth section of the
// configuration.
func NewJWTService(cfg config.AuthConfig) (JWTService, error) {
	return newHMACJWTService(cfg, time.Now)
}

func newHMACJWTService(cfg config.AuthConfig, now func() time.Time) (*hmacJWTService, error) {
	if len(cfg.JWTSecret) < minSecretLength {
		return nil, fmt.Errorf("jwt secret must be at least %d characters", minSecretLength)
	}
	if cfg.TokenLifetimeMinutes <= 0 {
		return nil, errors.New("token lifetime must be positive")
	}
	return &hmacJWTService{
		secret:   []byte(cfg.JWTSecret),
		lifetime: time.Duration(cfg.TokenLifetimeMinutes) * time.Minute,
		now:      now,
	}, nil
}

func (s *hmacJWTService) TokenLifetime() time.Duration {
	return s.lifetime
}

func (s *hmacJWTService) GenerateToken(ctx context.Context, subject string) (string, error) {
	issued := s.now()
	claims := tokenClaims{
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issued),
			NotBefore: jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(s.lifetime)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString(s.secret)
	if err != nil {
		logger.FromContext(ctx).Error("failed to sign admin token", "error", err, "subject", subject)
		return "", fmt.Errorf("failed to sign admin token: %w", err)
	}
	return signed, nil
}

func (s *hmacJWTService) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	log := logger.FromContext(ctx)

	checkedAt := s.now()
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(TokenIssuer),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(func() time.Time { return checkedAt }),
	)
	if err != nil {
		mapped := classifyParseError(err)
		log.Debug("admin token rejected", "reason", mapped.Error(), "error", err)
		return nil, mapped
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != TokenTypeAccess {
		log.Debug("admin token rejected", "reason", ErrWrongTokenType.Error(), "type", claims.TokenType)
		return nil, ErrWrongTokenType
	}

	return &Claims{
		TokenType: claims.TokenType,
		Subject:   claims.Subject,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		ID:        claims.ID,
	}, nil
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrTokenNotYetValid
	default:
		return ErrInvalidToken
	}
}
