package service

import (
	"context"
	"errors"
	"testing"

	"github.com/toolboxhq/keygate/internal/config"
)

func newTestAPIKeys(t *testing.T) *APIKeyService {
	t.Helper()
	clk := newTestClock()
	return NewAPIKeyService(newTestStore(t), Options{Now: clk.Now})
}

func TestAPIKeyIssueVerify(t *testing.T) {
	svc := newTestAPIKeys(t)
	ctx := context.Background()

	raw, rec, err := svc.Issue(ctx, "billing")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(raw) != 24 {
		t.Errorf("got raw key length %d, want 24", len(raw))
	}
	if rec.KeyHash != config.HashAPIKey(raw) {
		t.Error("stored hash does not match raw key")
	}
	if rec.KeyPrefix != raw[:8] {
		t.Errorf("got prefix %q, want %q", rec.KeyPrefix, raw[:8])
	}

	got, err := svc.Verify(ctx, raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.Service != "billing" || got.UsageCount != 1 || got.LastUsed == nil {
		t.Errorf("got %+v", got)
	}

	usage, err := svc.Usage(ctx, raw)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if usage.UsageCount != 1 {
		t.Errorf("Usage counted a use: got %d, want 1", usage.UsageCount)
	}
}

func TestAPIKeyIssueRequiresService(t *testing.T) {
	svc := newTestAPIKeys(t)
	if _, _, err := svc.Issue(context.Background(), ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Issue(\"\") = %v, want ErrInvalidInput", err)
	}
}

func TestAPIKeyVerifyFailures(t *testing.T) {
	svc := newTestAPIKeys(t)
	ctx := context.Background()

	if _, err := svc.Verify(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Verify(unknown) = %v, want ErrNotFound", err)
	}

	raw, _, _ := svc.Issue(ctx, "billing")
	if err := svc.Revoke(ctx, raw); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := svc.Revoke(ctx, raw); err != nil {
		t.Errorf("second Revoke = %v, want nil", err)
	}
	if _, err := svc.Verify(ctx, raw); !errors.Is(err, ErrInactive) {
		t.Errorf("Verify(revoked) = %v, want ErrInactive", err)
	}
	usage, _ := svc.Usage(ctx, raw)
	if usage.UsageCount != 0 {
		t.Errorf("failed verification counted: %d", usage.UsageCount)
	}
	if err := svc.Revoke(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Revoke(unknown) = %v, want ErrNotFound", err)
	}
	if _, err := svc.Usage(ctx, "unknown"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Usage(unknown) = %v, want ErrNotFound", err)
	}
}

func TestAPIKeyList(t *testing.T) {
	svc := newTestAPIKeys(t)
	ctx := context.Background()
	svc.Issue(ctx, "billing")
	svc.Issue(ctx, "reports")

	keys, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("got %d keys, want 2", len(keys))
	}
}
