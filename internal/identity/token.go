// internal/identity/token.go
package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"lmscirc/internal/apperr"
	"lmscirc/internal/clock"
)

type claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 bearer tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

// NewTokenIssuer creates an issuer. The secret must not be empty.
func NewTokenIssuer(secret string, ttl time.Duration, c clock.Clock) (*TokenIssuer, error) {
	if secret == "" {
		return nil, errors.New("token secret must not be empty")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, clock: c}, nil
}

// IssueToken returns a signed token for u.
func (t *TokenIssuer) IssueToken(u *User) (string, time.Time, error) {
	now := t.clock.Now()
	expires := now.Add(t.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := tok.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// ParseToken verifies raw and returns the principal it names.
func (t *TokenIssuer) ParseToken(raw string) (Principal, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.clock.Now))
	if err != nil {
		return Principal{}, apperr.ErrUnauthenticated.Wrap("identity.ParseToken", err)
	}

	id, err := uuid.Parse(c.Subject)
	if err != nil || !c.Role.Valid() {
		return Principal{}, apperr.ErrUnauthenticated.With("identity.ParseToken", "malformed claims")
	}
	return Principal{UserID: id, Role: c.Role}, nil
}
