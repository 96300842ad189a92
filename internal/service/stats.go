package service

import (
	"context"
	"time"

	"github.com/toolboxhq/keygate/internal/config"
	"github.com/toolboxhq/keygate/internal/model"
)

// StatsStore is the read-only view CollectStats needs.
type StatsStore interface {
	LicenseLister
	ListAPIKeys(ctx context.Context) ([]model.APIKey, error)
}

// CollectStats counts licenses and API keys by state and sums their usage.
func CollectStats(ctx context.Context, store StatsStore, now time.Time) (model.Stats, error) {
	lics, err := store.ListLicenses(ctx, config.LicenseFilter{})
	if err != nil {
		return model.Stats{}, storeErr("list licenses", err)
	}
	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return model.Stats{}, storeErr("list api keys", err)
	}

	st := model.Stats{Timestamp: now.UTC()}
	for _, l := range lics {
		st.Licenses.Total++
		if l.IsActive {
			st.Licenses.Active++
		}
		st.Usage.TotalLicenseUsage += l.UsageCount
	}
	for _, k := range keys {
		st.APIKeys.Total++
		if k.IsActive {
			st.APIKeys.Active++
		}
		st.Usage.TotalAPIUsage += k.UsageCount
	}
	st.Licenses.Inactive = st.Licenses.Total - st.Licenses.Active
	st.APIKeys.Inactive = st.APIKeys.Total - st.APIKeys.Active
	return st, nil
}
