package model

import "time"

// Stats aggregates counts across both key stores.
type Stats struct {
	Licenses  RecordCounts `json:"licenses"`
	APIKeys   RecordCounts `json:"api_keys"`
	Usage     UsageTotals  `json:"usage"`
	Timestamp time.Time    `json:"timestamp"`
}

type RecordCounts struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

type UsageTotals struct {
	TotalLicenseUsage int64 `json:"total_license_usage"`
	TotalAPIUsage     int64 `json:"total_api_usage"`
}
