package service

import (
	"context"
	"testing"
)

func TestCollectStats(t *testing.T) {
	store := newTestStore(t)
	clk := newTestClock()
	licenses := NewLicenseService(store, Options{Now: clk.Now})
	keys := NewAPIKeyService(store, Options{Now: clk.Now})
	ctx := context.Background()

	a, _ := licenses.Issue(ctx, "alice@example.com", "Alice", "pro")
	b, _ := licenses.Issue(ctx, "bob@example.com", "Bob", "pro")
	licenses.Verify(ctx, a.Key, "alice@example.com")
	licenses.Verify(ctx, a.Key, "alice@example.com")
	licenses.Revoke(ctx, b.Key)

	raw, _, _ := keys.Issue(ctx, "billing")
	keys.Verify(ctx, raw)

	st, err := CollectStats(ctx, store, clk.Now())
	if err != nil {
		t.Fatalf("CollectStats: %v", err)
	}
	if st.Licenses.Total != 2 || st.Licenses.Active != 1 || st.Licenses.Inactive != 1 {
		t.Errorf("license counts = %+v", st.Licenses)
	}
	if st.APIKeys.Total != 1 || st.APIKeys.Active != 1 || st.APIKeys.Inactive != 0 {
		t.Errorf("api key counts = %+v", st.APIKeys)
	}
	if st.Usage.TotalLicenseUsage != 2 || st.Usage.TotalAPIUsage != 1 {
		t.Errorf("usage = %+v", st.Usage)
	}
	if !st.Timestamp.Equal(clk.Now()) {
		t.Errorf("timestamp = %v", st.Timestamp)
	}
}
