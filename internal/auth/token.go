package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gitlab.com/dirk.krummacker/contacts-ui/internal/model"
)

const (
	issuer = "contacts-ui"

	// DefaultTokenLifetime matches the access token lifetime of the hosted service.
	DefaultTokenLifetime = time.Hour
)

// ErrTokenExpired is returned by Validate for tokens past their expiry.
var ErrTokenExpired = errors.New("token expired")

// TokenService issues and checks HS256 access tokens.
type TokenService struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

type claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// NewTokenService creates a TokenService with the given secret, which must be at least 16
// characters long.
func NewTokenService(secret string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("token secret must be at least 16 characters")
	}
	return &TokenService{secret: []byte(secret), lifetime: DefaultTokenLifetime, now: time.Now}, nil
}

// Generate signs a new access token for the identity.
func (s *TokenService) Generate(identity model.Identity) (string, error) {
	now := s.now()
	c := claims{
		Email: identity.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.lifetime)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Validate parses the token and returns the identity it was issued for.
func (s *TokenService) Validate(token string) (model.Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{},
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.Identity{}, ErrTokenExpired
		}
		return model.Identity{}, fmt.Errorf("invalid token: %w", err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.Subject == "" {
		return model.Identity{}, errors.New("invalid token claims")
	}
	return model.Identity{ID: c.Subject, Email: c.Email}, nil
}
