// Package auth covers token validation for the gateway and password
// hashing for the REST register/login flows.
package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Xminent/shiki-server/internal/model"
)

// UserSource resolves a bearer token to a user record.
type UserSource interface {
	UserByToken(ctx context.Context, token string) (*model.User, error)
}

// Validator implements the hub's identity-lookup contract on top of a
// UserSource. Tokens are uuids; anything else is rejected before touching
// the source at all.
type Validator struct {
	source UserSource
}

// NewValidator wraps a user source.
func NewValidator(source UserSource) *Validator {
	return &Validator{source: source}
}

// Validate exchanges a bearer token for its user. Malformed tokens,
// unknown tokens and source failures are all errors; callers collapse
// them to the same client-visible outcome.
func (v *Validator) Validate(ctx context.Context, token string) (*model.User, error) {
	if _, err := uuid.Parse(token); err != nil {
		return nil, fmt.Errorf("malformed token: %w", err)
	}
	return v.source.UserByToken(ctx, token)
}

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks a plaintext password against a stored hash.
func VerifyPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// NewToken mints a fresh bearer token.
func NewToken() string {
	return uuid.NewString()
}
