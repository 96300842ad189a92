// Package report renders the license and API key stores as an Excel workbook.
package report

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/toolboxhq/keygate/internal/config"
	"github.com/toolboxhq/keygate/internal/model"
	"github.com/toolboxhq/keygate/internal/service"
)

// Sheet names, in workbook order.
const (
	SummarySheet  = "Summary"
	LicensesSheet = "Licenses"
	APIKeysSheet  = "API Keys"
)

const timeLayout = "2006-01-02 15:04:05"

var (
	licenseHeader = []interface{}{
		"License Key", "Email", "Name", "Type", "Created", "Expires",
		"Active", "Expired", "Usage", "Last Used", "Offline",
	}
	apiKeyHeader = []interface{}{
		"Key Prefix", "Service", "Created", "Active", "Usage", "Last Used",
	}
)

// Build renders every license and API key in store into a new workbook. The
// caller closes the returned file.
func Build(ctx context.Context, store service.StatsStore, now time.Time) (*excelize.File, error) {
	lics, err := store.ListLicenses(ctx, config.LicenseFilter{})
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}
	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	st, err := service.CollectStats(ctx, store, now)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	ok := false
	defer func() {
		if !ok {
			f.Close()
		}
	}()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return nil, err
	}
	for _, name := range []string{LicensesSheet, APIKeysSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("add sheet %s: %w", name, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	if err := writeSummary(f, st, countExpired(lics, now), bold); err != nil {
		return nil, err
	}

	rows := make([][]interface{}, len(lics))
	for i, l := range lics {
		rows[i] = []interface{}{
			l.Key, l.Email, l.Name, l.Type,
			l.CreatedAt.UTC().Format(timeLayout),
			l.ExpiresAt.UTC().Format(timeLayout),
			yesNo(l.IsActive), yesNo(l.Expired(now)), l.UsageCount,
			lastUsed(l.LastUsed), yesNo(l.Offline),
		}
	}
	if err := writeTable(f, LicensesSheet, licenseHeader, rows, bold); err != nil {
		return nil, err
	}

	rows = make([][]interface{}, len(keys))
	for i, k := range keys {
		rows[i] = []interface{}{
			k.KeyPrefix, k.Service,
			k.CreatedAt.UTC().Format(timeLayout),
			yesNo(k.IsActive), k.UsageCount, lastUsed(k.LastUsed),
		}
	}
	if err := writeTable(f, APIKeysSheet, apiKeyHeader, rows, bold); err != nil {
		return nil, err
	}

	f.SetActiveSheet(0)
	ok = true
	return f, nil
}

// Write renders the workbook to w.
func Write(ctx context.Context, store service.StatsStore, now time.Time, w io.Writer) error {
	f, err := Build(ctx, store, now)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Save renders the workbook to path.
func Save(ctx context.Context, store service.StatsStore, now time.Time, path string) error {
	f, err := Build(ctx, store, now)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, st model.Stats, expired, bold int) error {
	rows := [][]interface{}{
		{"Generated", st.Timestamp.Format(timeLayout)},
		{},
		{"Licenses", ""},
		{"Total", st.Licenses.Total},
		{"Active", st.Licenses.Active},
		{"Inactive", st.Licenses.Inactive},
		{"Expired", expired},
		{"Total usage", st.Usage.TotalLicenseUsage},
		{},
		{"API Keys", ""},
		{"Total", st.APIKeys.Total},
		{"Active", st.APIKeys.Active},
		{"Inactive", st.APIKeys.Inactive},
		{"Total usage", st.Usage.TotalAPIUsage},
	}
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	for _, r := range []int{3, 10} {
		if err := f.SetRowStyle(SummarySheet, r, r, bold); err != nil {
			return err
		}
	}
	return f.SetColWidth(SummarySheet, "A", "B", 22)
}

// writeTable writes a header row and data rows, freezes the header and adds
// an auto filter.
func writeTable(f *excelize.File, sheet string, header []interface{}, rows [][]interface{}, bold int) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return err
	}
	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+2, err)
		}
	}

	last, _ := excelize.ColumnNumberToName(len(header))
	if err := f.SetColWidth(sheet, "A", last, 18); err != nil {
		return err
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}
	return f.AutoFilter(sheet, fmt.Sprintf("A1:%s%d", last, len(rows)+1), nil)
}

func countExpired(lics []model.License, now time.Time) int {
	n := 0
	for i := range lics {
		if lics[i].Expired(now) {
			n++
		}
	}
	return n
}

func lastUsed(t *time.Time) string {
	if t == nil {
		return "Never"
	}
	return t.UTC().Format(timeLayout)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
