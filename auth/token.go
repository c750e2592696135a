// Package auth is the identity gate in front of chat sessions. It only
// validates tokens into identities; login, registration and session
// management live with an external collaborator.
package auth

import (
	"fmt"
	"time"

	herderrors "herdchat/errors"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the resolved user a chat session acts for.
type Identity struct {
	UserID string
}

// CustomClaims defines the data stored inside the JWT.
type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Tokens signs and validates session tokens with an HS256 secret.
type Tokens struct {
	key []byte
	ttl time.Duration
}

func NewTokens(secret string, ttl time.Duration) Tokens {
	return Tokens{key: []byte(secret), ttl: ttl}
}

// Generate creates a signed JWT for a user, used by tooling and tests;
// production tokens come from the auth collaborator with the same secret.
func (t Tokens) Generate(userID string) (string, error) {
	claims := &CustomClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "herdchat",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.key)
}

// Validate parses and checks signature and expiry, returning the identity.
// Every failure maps to ErrInvalidToken so callers surface one auth-required
// condition upstream instead of leaking parser details.
func (t Tokens) Validate(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, herderrors.ErrAuthRequired
	}
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return t.key, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", herderrors.ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return Identity{}, herderrors.ErrInvalidToken
	}
	return Identity{UserID: claims.UserID}, nil
}
