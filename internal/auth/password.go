// Package auth holds the password hashing and access token handling used by the self-hosted
// backends. The hosted service does both on its own.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password accepted at sign-up.
const MinPasswordLength = 6

const defaultCost = 12

// ErrPasswordTooShort is returned for passwords below MinPasswordLength.
var ErrPasswordTooShort = fmt.Errorf("password should be at least %d characters", MinPasswordLength)

// PasswordService provides bcrypt hashing and verification.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService with the default cost.
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceWithCost creates a PasswordService with a custom cost. Tests use
// bcrypt.MinCost to stay fast.
func NewPasswordServiceWithCost(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash hashes the given plaintext password. bcrypt silently truncates input beyond 72 bytes, so
// such passwords are rejected instead.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	if len(plaintext) > 72 {
		return "", errors.New("password must be 72 bytes or fewer")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify reports whether the plaintext matches the stored hash.
func (p *PasswordService) Verify(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
