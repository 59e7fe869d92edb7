package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned when a username/password pair does not match
var ErrInvalidCredentials = errors.New("email or password is incorrect")

// Identity is what the identity provider knows about a user
type Identity struct {
	Subject string
	IsAdmin bool
}

// CredentialChecker validates a username/password pair against the identity provider
type CredentialChecker interface {
	CheckCredentials(ctx context.Context, username, password string) (Identity, error)
}

// HashPassword returns the bcrypt hash stored for a user
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password is required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// ComparePassword checks password against a stored bcrypt hash
func ComparePassword(hashed, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
