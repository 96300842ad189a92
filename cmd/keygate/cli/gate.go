package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolboxhq/keygate/internal/service"
)

func newGateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Inspect free-tier limits and feature gates",
		Long:  "Derive usage limits from the licenses in the local store. Without --email any active, unexpired paid license unlocks pro limits.",
	}

	cmd.AddCommand(newGateLimitsCmd())
	cmd.AddCommand(newGateCheckCmd())

	return cmd
}

func withGate(fn func(ctx context.Context, g *service.Gate) error) error {
	store, err := openStore(newLogger())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(context.Background(), service.NewGate(store, time.Now))
}

// ---------- gate limits ----------

func newGateLimitsCmd() *cobra.Command {
	var (
		email      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Show the current limits and features",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGate(func(ctx context.Context, g *service.Gate) error {
				limits, err := g.Limits(ctx, email)
				if err != nil {
					return fmt.Errorf("resolve limits: %w", err)
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, map[string]interface{}{
						"limits":   limits,
						"features": limits.Features(),
					})
				}
				printLimits(out, email, limits)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Only consider licenses owned by this email")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- gate check ----------

func newGateCheckCmd() *cobra.Command {
	var (
		email string
		kind  string
		count int
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether an operation fits the current limits",
		Long:  "Check a pending operation against the limits. Exits non-zero when the operation is denied.",
		Example: `  keygate gate check --kind pdf --count 3
  keygate gate check --kind batch --count 50 --email ada@example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGate(func(ctx context.Context, g *service.Gate) error {
				d, err := g.Check(ctx, email, kind, count)
				if err != nil {
					return fmt.Errorf("gate check: %w", err)
				}
				if !d.Allowed {
					return fmt.Errorf("denied: %s", d.Reason)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Allowed: %d %s\n", d.Count, d.Kind)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Only consider licenses owned by this email")
	cmd.Flags().StringVar(&kind, "kind", "", "Operation kind: "+strings.Join(service.Kinds, ", ")+" (required)")
	cmd.Flags().IntVar(&count, "count", 1, "Number of items in the operation")
	cmd.MarkFlagRequired("kind")

	return cmd
}
