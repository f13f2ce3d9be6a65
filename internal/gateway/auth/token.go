package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/louisbranch/hollowgate/internal/id"
)

const sessionTokenTTL = 24 * time.Hour

// TokenIssuer mints the signed session identifiers returned by
// /account/client_login. World and channel tiers verify them offline with
// the shared signing key.
type TokenIssuer struct {
	key   []byte
	clock func() time.Time
}

// NewTokenIssuer creates a TokenIssuer with the shared signing key.
func NewTokenIssuer(key []byte) *TokenIssuer {
	return &TokenIssuer{key: key, clock: time.Now}
}

// IssueSessionID mints a signed session identifier for a username.
func (t *TokenIssuer) IssueSessionID(username string) (string, error) {
	if t == nil || len(t.key) == 0 {
		return "", fmt.Errorf("token issuer is not configured")
	}

	tokenID, err := id.NewID()
	if err != nil {
		return "", fmt.Errorf("generate token id: %w", err)
	}

	now := t.clock().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		ID:        tokenID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(sessionTokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.key)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// VerifySessionID parses a signed session identifier and returns its
// username.
func (t *TokenIssuer) VerifySessionID(tokenString string) (string, error) {
	if t == nil || len(t.key) == 0 {
		return "", fmt.Errorf("token issuer is not configured")
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.key, nil
	}, jwt.WithTimeFunc(func() time.Time { return t.clock() }))
	if err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", fmt.Errorf("invalid session token")
	}
	return claims.Subject, nil
}
