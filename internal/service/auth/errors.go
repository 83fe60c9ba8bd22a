package auth

import "errors"

// Token validation failures.
var (
	ErrInvalidToken     = errors.New("invalid authentication token")
	ErrExpiredToken     = errors.New("authentication token has expired")
	ErrTokenNotYetValid = errors.New("authentication token not yet valid")
	ErrMissingToken     = errors.New("authentication token is missing")
	ErrWrongTokenType   = errors.New("wrong authentication token type")
)

// Login failures.
var (
	// ErrInvalidCredentials means the admin password did not match.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrLoginDisabled means no admin password hash is configured.
	ErrLoginDisabled = errors.New("admin login is disabled")
)
