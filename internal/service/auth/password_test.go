package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPassword(t *testing.T) {
	t.Parallel()
	v := NewBcryptVerifier()

	hash, err := HashPassword("тест123", bcrypt.MinCost)
	require.NoError(t, err)
	assert.NoError(t, v.Compare(hash, "тест123"))
	assert.ErrorIs(t, v.Compare(hash, "тест124"), bcrypt.ErrMismatchedHashAndPassword)

	_, err = HashPassword(strings.Repeat("x", 73), bcrypt.MinCost)
	assert.ErrorIs(t, err, bcrypt.ErrPasswordTooLong)
}

func TestBcryptVerifier_MalformedHash(t *testing.T) {
	t.Parallel()
	err := NewBcryptVerifier().Compare("not-a-bcrypt-hash", "anything")
	require.Error(t, err)
	assert.NotErrorIs(t, err, bcrypt.ErrMismatchedHashAndPassword)
}
