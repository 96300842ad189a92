package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolboxhq/keygate/internal/report"
	"github.com/toolboxhq/keygate/internal/service"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show license and API key counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(newLogger())
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := service.CollectStats(context.Background(), store, time.Now())
			if err != nil {
				return fmt.Errorf("collect stats: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, st)
			}
			fmt.Fprintf(out, "%-10s %8s %8s %8s %10s\n", "", "TOTAL", "ACTIVE", "INACTIVE", "USES")
			fmt.Fprintf(out, "%-10s %8d %8d %8d %10d\n", "licenses",
				st.Licenses.Total, st.Licenses.Active, st.Licenses.Inactive, st.Usage.TotalLicenseUsage)
			fmt.Fprintf(out, "%-10s %8d %8d %8d %10d\n", "api keys",
				st.APIKeys.Total, st.APIKeys.Active, st.APIKeys.Inactive, st.Usage.TotalAPIUsage)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newReportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export an Excel usage report",
		Long:  "Write a workbook with a summary sheet plus one sheet per key store. Raw API keys are never included.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(newLogger())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := report.Save(context.Background(), store, time.Now(), output); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "keygate-report.xlsx", "Output file")

	return cmd
}
