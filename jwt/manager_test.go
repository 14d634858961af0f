package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

func newHS256Manager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()

	m, err := NewManager(Config{
		AccessTTL:     ttl,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "otpcore-test",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestCreateAndParseRoundTrip(t *testing.T) {
	m := newHS256Manager(t, time.Hour)

	signed, issued, err := m.CreateAccess(TokenInput{
		CustomerID:   "abc123",
		Audience:     "key_1",
		Scope:        "customer",
		CSRF:         "csrf-token",
		SSOScope:     []string{"key_1", "key_2"},
		DisplayName:  "Alice",
		IsSuperAdmin: false,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if issued.ID == "" {
		t.Fatal("token must carry a jti")
	}

	claims, err := m.ParseAccess(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.CustomerID != "abc123" || claims.Subject != "abc123" {
		t.Fatalf("sub/customerId mismatch: %q vs %q", claims.Subject, claims.CustomerID)
	}
	if !claims.EmailVerified {
		t.Fatal("otp-minted token must be email_verified")
	}
	if len(claims.SSOScope) != 2 {
		t.Fatalf("sso scope lost: %v", claims.SSOScope)
	}
	if claims.CSRF != "csrf-token" || claims.DisplayName != "Alice" {
		t.Fatalf("claims lost: %+v", claims)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	m := newHS256Manager(t, time.Millisecond)

	signed, _, err := m.CreateAccess(TokenInput{CustomerID: "abc123"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	if _, err := m.ParseAccess(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid token, got %v", err)
	}

	// Logout still needs the claims.
	claims, err := m.ParseExpired(signed)
	if err != nil {
		t.Fatalf("parse expired: %v", err)
	}
	if claims.CustomerID != "abc123" {
		t.Fatalf("expired parse lost identity: %+v", claims)
	}
}

func TestParseRejectsForeignSignature(t *testing.T) {
	issuer := newHS256Manager(t, time.Hour)
	verifier, err := NewManager(Config{
		AccessTTL:     time.Hour,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("another-secret-another-secret-xx"),
		Issuer:        "otpcore-test",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	signed, _, err := issuer.CreateAccess(TokenInput{CustomerID: "abc123"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := verifier.ParseAccess(signed); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	m, err := NewManager(Config{
		AccessTTL:     time.Hour,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "otpcore-test",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	signed, _, err := m.CreateAccess(TokenInput{CustomerID: "abc123", IsSuperAdmin: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	claims, err := m.ParseAccess(signed)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !claims.IsSuperAdmin {
		t.Fatal("super admin flag lost")
	}
}

func TestNewManagerRejectsMissingSecret(t *testing.T) {
	if _, err := NewManager(Config{AccessTTL: time.Hour, SigningMethod: MethodHS256}); err == nil {
		t.Fatal("hs256 without key must be rejected")
	}
	if _, err := NewManager(Config{AccessTTL: 0, SigningMethod: MethodHS256, PrivateKey: []byte("x")}); err == nil {
		t.Fatal("zero TTL must be rejected")
	}
}
