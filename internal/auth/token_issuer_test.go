package auth

import (
	"context"
	"testing"
	"time"
)

func TestTokenIssuerRoundTripsThroughValidator(t *testing.T) {
	clockNow := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	issuer, err := NewTokenIssuer(TokenIssuerConfig{
		SigningSecret: []byte(testSessionSigningSecret),
		Issuer:        testSessionIssuer,
		TokenTTL:      2 * time.Hour,
		Clock:         func() time.Time { return clockNow },
	})
	if err != nil {
		t.Fatalf("failed to construct issuer: %v", err)
	}

	token, expiresAt, err := issuer.IssueSessionToken(context.Background(), TokenSubject{
		UserID:      "ci-sync",
		DisplayName: "CI manifest sync",
		Roles:       []string{"sync"},
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if !expiresAt.Equal(clockNow.Add(2 * time.Hour)) {
		t.Fatalf("unexpected expiry %s", expiresAt)
	}

	claims, err := newTestValidator(t, clockNow.Add(time.Hour)).ValidateToken(token)
	if err != nil {
		t.Fatalf("expected minted token to validate: %v", err)
	}
	if claims.UserID != "ci-sync" || claims.Subject != "ci-sync" {
		t.Fatalf("unexpected subject %+v", claims)
	}
	if !claims.HasRole("sync") || claims.HasRole("admin") {
		t.Fatalf("unexpected roles %v", claims.UserRoles)
	}

	if _, err := newTestValidator(t, clockNow.Add(3*time.Hour)).ValidateToken(token); err == nil {
		t.Fatalf("expected token to expire after its ttl")
	}
}

func TestTokenIssuerDefaultsAndValidation(t *testing.T) {
	if _, err := NewTokenIssuer(TokenIssuerConfig{Issuer: testSessionIssuer}); err == nil {
		t.Fatalf("expected missing secret to be rejected")
	}
	if _, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("s")}); err == nil {
		t.Fatalf("expected missing issuer to be rejected")
	}

	issuer, err := NewTokenIssuer(TokenIssuerConfig{SigningSecret: []byte("s"), Issuer: testSessionIssuer})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if issuer.ttl != defaultTokenTTL {
		t.Fatalf("expected default ttl, got %s", issuer.ttl)
	}
	if _, _, err := issuer.IssueSessionToken(context.Background(), TokenSubject{UserID: " "}); err == nil {
		t.Fatalf("expected blank subject to be rejected")
	}
}
