package auth

import (
	"testing"
	"time"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestIssueAndValidateRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "openspace-auth",
		Audience:      "openspace-api",
		TokenTTL:      time.Hour,
		Clock:         fixedClock(now),
	})

	token, expiresIn, err := issuer.IssueSessionToken("user-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expiresIn != 3600 {
		t.Fatalf("expected 3600s expiry, got %d", expiresIn)
	}

	subject, err := issuer.ValidateToken(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if subject != "user-42" {
		t.Fatalf("unexpected subject %q", subject)
	}
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "openspace-auth",
		Audience:      "openspace-api",
		TokenTTL:      time.Minute,
		Clock:         fixedClock(now),
	})

	token, _, err := issuer.IssueSessionToken("user-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	later := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "openspace-auth",
		Audience:      "openspace-api",
		TokenTTL:      time.Minute,
		Clock:         fixedClock(now.Add(2 * time.Minute)),
	})
	if _, err := later.ValidateToken(token); err == nil {
		t.Fatalf("expected expired token rejected")
	}
}

func TestValidateRejectsForeignTokens(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	issuer := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "openspace-auth",
		Audience:      "openspace-api",
		Clock:         fixedClock(now),
	})
	forged := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("other-secret"),
		Issuer:        "openspace-auth",
		Audience:      "openspace-api",
		Clock:         fixedClock(now),
	})

	token, _, err := forged.IssueSessionToken("user-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := issuer.ValidateToken(token); err == nil {
		t.Fatalf("expected token with wrong secret rejected")
	}

	wrongAudience := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "openspace-auth",
		Audience:      "other-service",
		Clock:         fixedClock(now),
	})
	crossed, _, err := wrongAudience.IssueSessionToken("user-42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := issuer.ValidateToken(crossed); err == nil {
		t.Fatalf("expected token with wrong audience rejected")
	}

	if _, err := issuer.ValidateToken("not-a-token"); err == nil {
		t.Fatalf("expected malformed token rejected")
	}
}

func TestIssueRequiresSecretAndSubject(t *testing.T) {
	issuer := NewTokenIssuer(TokenIssuerConfig{
		Issuer:   "openspace-auth",
		Audience: "openspace-api",
	})
	if _, _, err := issuer.IssueSessionToken("user-42"); err == nil {
		t.Fatalf("expected missing secret rejected")
	}

	withSecret := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        "openspace-auth",
		Audience:      "openspace-api",
	})
	if _, _, err := withSecret.IssueSessionToken(""); err == nil {
		t.Fatalf("expected empty subject rejected")
	}
}
