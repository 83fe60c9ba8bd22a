package auth

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordVerifier compares the configured admin hash with a login attempt.
type PasswordVerifier interface {
	// Compare returns nil when password matches hashedPassword.
	Compare(hashedPassword, password string) error
}

// BcryptVerifier is the PasswordVerifier for bcrypt hashes.
type BcryptVerifier struct{}

// NewBcryptVerifier creates a BcryptVerifier.
func NewBcryptVerifier() *BcryptVerifier {
	return &BcryptVerifier{}
}

// Compare returns bcrypt.ErrMismatchedHashAndPassword on a wrong password and
// another error when the hash itself is malformed.
func (v *BcryptVerifier) Compare(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// HashPassword returns the bcrypt hash of password for the admin_password_hash
// setting. Passwords longer than 72 bytes are rejected.
func HashPassword(password string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
