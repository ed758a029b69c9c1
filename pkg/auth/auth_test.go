package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret-key-32-chars-min!!!")

// ===== TTL TESTS =====

func TestParseTTL(t *testing.T) {
	t.Parallel()

	cases := map[string]time.Duration{
		"":    DefaultTokenTTL,
		"abc": DefaultTokenTTL,
		"0":   DefaultTokenTTL,
		"-5":  DefaultTokenTTL,
		"90":  90 * time.Second,
	}
	for in, want := range cases {
		if got := ParseTTL(in); got != want {
			t.Errorf("ParseTTL(%q) = %v; want %v", in, got, want)
		}
	}
}

// ===== JWT TESTS =====

func TestGenerateToken_ParseToken_Roundtrip(t *testing.T) {
	t.Parallel()

	token, err := GenerateToken(testSecret, "go-client-1", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("expected a three-part JWT, got %q", token)
	}

	claims, err := ParseToken(testSecret, token)
	if err != nil {
		t.Fatalf("ParseToken failed: %v", err)
	}
	if claims.ClientName != "go-client-1" {
		t.Errorf("ClientName = %q; want go-client-1", claims.ClientName)
	}
	if claims.Subject != "go-client-1" {
		t.Errorf("Subject = %q; want go-client-1", claims.Subject)
	}
	if claims.Issuer != Issuer {
		t.Errorf("Issuer = %q; want %q", claims.Issuer, Issuer)
	}
}

func TestGenerateToken_EmptySecret(t *testing.T) {
	t.Parallel()

	if _, err := GenerateToken(nil, "c", time.Minute); !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
}

func TestParseToken_WrongSecret(t *testing.T) {
	t.Parallel()

	token, err := GenerateToken(testSecret, "c", time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	if _, err := ParseToken([]byte("another-secret-another-secret!!"), token); err == nil {
		t.Fatal("expected signature error, got nil")
	}
}

func TestParseToken_Expired(t *testing.T) {
	t.Parallel()

	past := time.Now().Add(-time.Hour)
	claims := &Claims{
		ClientName: "c",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(past),
			IssuedAt:  jwt.NewNumericDate(past.Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseToken(testSecret, token); err == nil {
		t.Fatal("expected expiry error, got nil")
	}
}

func TestParseToken_WrongAlgorithm(t *testing.T) {
	t.Parallel()

	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseToken(testSecret, token); err == nil {
		t.Fatal("expected algorithm error, got nil")
	}
}

func TestParseToken_Empty(t *testing.T) {
	t.Parallel()

	if _, err := ParseToken(testSecret, ""); !errors.Is(err, ErrEmptyToken) {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
}
