package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndComparePassword(t *testing.T) {
	hashed, err := HashPassword("s3cret!")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret!", hashed)

	assert.NoError(t, ComparePassword(hashed, "s3cret!"))
	assert.ErrorIs(t, ComparePassword(hashed, "wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, ComparePassword("not-a-hash", "s3cret!"), ErrInvalidCredentials)
}

func TestHashPassword_Empty(t *testing.T) {
	_, err := HashPassword("")
	require.Error(t, err)
}
