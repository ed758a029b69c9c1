// Package auth mints and verifies the bearer tokens a session client presents to the gateway.
// This is a leaf package with no domain dependencies. Used by internal/infra/gateway on both
// the client (per-RPC credentials) and the server (auth interceptors).
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ===== CONSTANTS =====

// DefaultTokenTTL is how long a minted token stays valid.
// Tokens are minted per call, so this only has to cover one RPC plus clock skew.
const DefaultTokenTTL = 5 * time.Minute

// Issuer is stamped into every token this package mints.
const Issuer = "xlmsession"

var (
	ErrEmptySecret = errors.New("auth: signing secret is empty")
	ErrEmptyToken  = errors.New("auth: token is empty")
)

// ===== CONFIG HELPERS =====

// ParseTTL parses a TTL given in seconds.
// Returns DefaultTokenTTL for an empty string, an invalid number or a non-positive value.
func ParseTTL(s string) time.Duration {
	if s == "" {
		return DefaultTokenTTL
	}
	secs, err := strconv.Atoi(s)
	if err != nil || secs <= 0 {
		return DefaultTokenTTL
	}
	return time.Duration(secs) * time.Second
}

// ===== JWT FUNCTIONS =====

// Claims identifies the calling application. Subject is the client name; the session's
// client id is not known until registration, so it is not part of the token.
type Claims struct {
	ClientName string `json:"client_name"`
	jwt.RegisteredClaims
}

// GenerateToken creates an HS256-signed token for clientName valid for ttl.
func GenerateToken(secret []byte, clientName string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	claims := &Claims{
		ClientName: clientName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   clientName,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a token signed with secret and returns its claims.
// Returns an error if the token is empty, expired, malformed or signed with another method.
func ParseToken(secret []byte, tokenString string) (*Claims, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	if tokenString == "" {
		return nil, ErrEmptyToken
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		// Only HMAC is accepted; anything else is an algorithm substitution attempt.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(Issuer))
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: invalid token claims or signature")
	}
	return claims, nil
}
