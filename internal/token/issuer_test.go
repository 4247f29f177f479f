package token

import (
	"testing"
	"time"

	"email-auth-service/internal/config"
)

func testIssuer(ttl time.Duration) *Issuer {
	return NewIssuer(&config.JWTConfig{
		Secret:   "test-secret",
		Issuer:   "email-auth-service",
		Audience: "email-auth-clients",
		TTL:      ttl,
	})
}

func TestIssueAndValidate(t *testing.T) {
	issuer := testIssuer(time.Hour)

	tok, expiresAt, err := issuer.Issue("id-123", "user@example.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if tok == "" {
		t.Fatal("Issue returned an empty token")
	}
	if remaining := time.Until(expiresAt); remaining < 59*time.Minute || remaining > time.Hour {
		t.Fatalf("unexpected expiry: %v from now", remaining)
	}

	claims, err := issuer.Validate(tok)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if claims.Subject != "id-123" {
		t.Errorf("subject = %q, want %q", claims.Subject, "id-123")
	}
	if claims.Email != "user@example.com" {
		t.Errorf("email = %q, want %q", claims.Email, "user@example.com")
	}
}

func TestValidateRejectsTampering(t *testing.T) {
	issuer := testIssuer(time.Hour)

	tok, _, err := issuer.Issue("id-123", "user@example.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if _, err := issuer.Validate(tok + "x"); err == nil {
		t.Error("Validate accepted a tampered token")
	}

	other := NewIssuer(&config.JWTConfig{
		Secret:   "different-secret",
		Issuer:   "email-auth-service",
		Audience: "email-auth-clients",
		TTL:      time.Hour,
	})
	if _, err := other.Validate(tok); err == nil {
		t.Error("Validate accepted a token signed with a different secret")
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	issuer := testIssuer(-time.Minute)

	tok, _, err := issuer.Issue("id-123", "user@example.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if _, err := issuer.Validate(tok); err == nil {
		t.Error("Validate accepted an expired token")
	}
}
