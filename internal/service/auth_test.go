package service

import (
	"context"
	"testing"
	"time"
)

func newTestAuth(t *testing.T) (*AuthService, *APIKeyService) {
	t.Helper()
	keys := NewAPIKeyService(newTestStore(t), Options{})
	auth := NewAuthService(keys, "static-admin-key", "test-secret-key-for-jwt")
	return auth, keys
}

func TestJWTRoundTrip(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	// Issue a token
	token, err := auth.IssueJWT(ctx, "ops@example.com", 1*time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	// Validate the token
	admin, err := auth.ValidateJWT(ctx, token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if admin.Subject != "ops@example.com" {
		t.Errorf("Subject: got %q, want %q", admin.Subject, "ops@example.com")
	}
	if admin.Method != "jwt" {
		t.Errorf("Method: got %q, want %q", admin.Method, "jwt")
	}
}

func TestJWTExpired(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	// Issue a token with negative TTL (already expired)
	token, err := auth.IssueJWT(ctx, "ops@example.com", -1*time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	_, err = auth.ValidateJWT(ctx, token)
	if err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestJWTInvalidToken(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	_, err := auth.ValidateJWT(ctx, "garbage.token.here")
	if err == nil {
		t.Fatal("expected error for invalid token")
	}
}

func TestJWTWrongSecret(t *testing.T) {
	auth, _ := newTestAuth(t)
	other := NewAuthService(nil, "", "a-different-secret")
	ctx := context.Background()

	token, err := other.IssueJWT(ctx, "ops@example.com", time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}
	if _, err := auth.ValidateJWT(ctx, token); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestJWTRequiresSecret(t *testing.T) {
	auth := NewAuthService(nil, "", "")
	if _, err := auth.IssueJWT(context.Background(), "ops", time.Hour); err == nil {
		t.Error("expected IssueJWT to fail without a secret")
	}
}

func TestStaticAdminKey(t *testing.T) {
	auth, _ := newTestAuth(t)
	ctx := context.Background()

	admin, err := auth.ValidateAPIKey(ctx, "static-admin-key")
	if err != nil {
		t.Fatalf("ValidateAPIKey: %v", err)
	}
	if admin.Method != "api_key" {
		t.Errorf("Method: got %q, want %q", admin.Method, "api_key")
	}

	if _, err := auth.ValidateAPIKey(ctx, "wrong_key"); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := auth.ValidateAPIKey(ctx, ""); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials for empty key, got %v", err)
	}
}

func TestAdminServiceKey(t *testing.T) {
	auth, keys := newTestAuth(t)
	ctx := context.Background()

	raw, rec, err := keys.Issue(ctx, AdminService)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	admin, err := auth.ValidateAPIKey(ctx, raw)
	if err != nil {
		t.Fatalf("ValidateAPIKey: %v", err)
	}
	if admin.Subject != rec.KeyPrefix {
		t.Errorf("Subject: got %q, want %q", admin.Subject, rec.KeyPrefix)
	}

	// Keys for other services never grant admin access.
	other, _, _ := keys.Issue(ctx, "billing")
	if _, err := auth.ValidateAPIKey(ctx, other); err != ErrInvalidCredentials {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAdminServiceKeyRevoked(t *testing.T) {
	auth, keys := newTestAuth(t)
	ctx := context.Background()

	raw, _, _ := keys.Issue(ctx, AdminService)
	keys.Revoke(ctx, raw)

	if _, err := auth.ValidateAPIKey(ctx, raw); err != ErrKeyRevoked {
		t.Errorf("expected ErrKeyRevoked, got %v", err)
	}
}
