package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenSignerRoundTrip(t *testing.T) {
	signer, err := NewTokenSigner([]byte("k"), 8*time.Hour)
	if err != nil {
		t.Fatalf("NewTokenSigner() error: %v", err)
	}
	now := time.Date(2026, 2, 16, 9, 0, 0, 0, time.UTC)

	tok, exp, err := signer.Sign(42, "alice@gmail.com", now)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if !exp.Equal(now.Add(8 * time.Hour)) {
		t.Fatalf("unexpected exp %v", exp)
	}
	claims, err := signer.Verify(tok, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if claims.Subject != "42" || claims.Email != "alice@gmail.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenSignerRejectsOtherSecret(t *testing.T) {
	now := time.Now()
	a, _ := NewTokenSigner([]byte("a"), time.Hour)
	b, _ := NewTokenSigner([]byte("b"), time.Hour)

	tok, _, err := a.Sign(1, "x@gmail.com", now)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if _, err := b.Verify(tok, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenSignerRejectsNoneAlgorithm(t *testing.T) {
	signer, _ := NewTokenSigner([]byte("k"), time.Hour)
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Email: "x@gmail.com",
	})
	raw, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error: %v", err)
	}
	if _, err := signer.Verify(raw, now); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestTokenSignerExpired(t *testing.T) {
	signer, _ := NewTokenSigner([]byte("k"), time.Minute)
	now := time.Date(2026, 2, 16, 9, 0, 0, 0, time.UTC)
	tok, _, _ := signer.Sign(1, "x@gmail.com", now)

	if _, err := signer.Verify(tok, now.Add(2*time.Minute)); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
