package auth

import (
	"testing"
	"time"

	"phone-agent/internal/config"
)

func TestIssueAndVerifyAccessToken(t *testing.T) {
	m, err := NewManager(config.AuthConfig{
		JWTSecret:      "secret",
		JWTIssuer:      "issuer",
		JWTAudience:    "aud",
		AccessTokenTTL: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}

	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.IssueAccess(now, "session-1", "operator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if tok.Token == "" {
		t.Fatalf("expected token string")
	}
	if !tok.ExpiresAt.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", tok.ExpiresAt)
	}

	claims, err := m.Verify(tok.Token, now.Add(1*time.Minute))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "session-1" || claims.Role != "operator" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m, _ := NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute})
	now := time.Unix(1700000000, 0).UTC()
	tok, err := m.IssueAccess(now, "s", "operator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(tok.Token, now.Add(5*time.Minute)); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestVerifyRejectsForeignSecretAndAudience(t *testing.T) {
	a, _ := NewManager(config.AuthConfig{JWTSecret: "secret-a", JWTAudience: "dash"})
	b, _ := NewManager(config.AuthConfig{JWTSecret: "secret-b", JWTAudience: "dash"})
	c, _ := NewManager(config.AuthConfig{JWTSecret: "secret-a", JWTAudience: "other"})

	now := time.Now()
	tok, err := a.IssueAccess(now, "s", "operator")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(tok.Token, now); err == nil {
		t.Fatalf("expected signature mismatch")
	}
	if _, err := c.Verify(tok.Token, now); err == nil {
		t.Fatalf("expected audience mismatch")
	}
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager(config.AuthConfig{}); err == nil {
		t.Fatalf("expected error without secret")
	}
}
