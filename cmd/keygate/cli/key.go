package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolboxhq/keygate/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, verify, revoke and inspect service API keys. Keys issued for the \"admin\" service also authenticate against the keygate API.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyVerifyCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyUsageCmd())
	cmd.AddCommand(newKeyListCmd())

	return cmd
}

func withAPIKeys(fn func(ctx context.Context, svc *service.APIKeyService) error) error {
	logger := newLogger()
	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(context.Background(), service.NewAPIKeyService(store, serviceOptions(logger)))
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		svcName    string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate an API key for a service. The raw key is shown once and cannot be retrieved again.",
		Example: `  keygate key create --service pdf-tools
  keygate key create --service admin`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("service", svcName); err != nil {
				return err
			}
			return withAPIKeys(func(ctx context.Context, svc *service.APIKeyService) error {
				raw, rec, err := svc.Issue(ctx, svcName)
				if err != nil {
					return fmt.Errorf("create api key: %w", err)
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, map[string]interface{}{
						"api_key":  raw,
						"key_data": rec,
					})
				}
				fmt.Fprintln(out, "API Key created:")
				fmt.Fprintln(out)
				fmt.Fprintf(out, "  Key:     %s\n", raw)
				fmt.Fprintf(out, "  Service: %s\n", rec.Service)
				fmt.Fprintln(out)
				fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&svcName, "service", "", "Service the key is issued for (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- key verify ----------

func newKeyVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <api-key>",
		Short: "Verify an API key and count the use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAPIKeys(func(ctx context.Context, svc *service.APIKeyService) error {
				rec, err := svc.Verify(ctx, args[0])
				if err != nil {
					return fmt.Errorf("verify api key: %w", err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "API key is valid")
				fmt.Fprintf(out, "  Service: %s\n", rec.Service)
				fmt.Fprintf(out, "  Usage:   %d\n", rec.UsageCount)
				return nil
			})
		},
	}
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <api-key>",
		Short: "Revoke an API key",
		Long:  "Deactivate an API key, preventing any further verification or authenticated requests using it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAPIKeys(func(ctx context.Context, svc *service.APIKeyService) error {
				if err := svc.Revoke(ctx, args[0]); err != nil {
					return fmt.Errorf("revoke api key: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "API key revoked")
				return nil
			})
		},
	}
}

// ---------- key usage ----------

func newKeyUsageCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "usage <api-key>",
		Short: "Show usage for an API key without counting a use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAPIKeys(func(ctx context.Context, svc *service.APIKeyService) error {
				rec, err := svc.Usage(ctx, args[0])
				if err != nil {
					return fmt.Errorf("api key usage: %w", err)
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, rec)
				}
				fmt.Fprintf(out, "  Prefix:    %s\n", rec.KeyPrefix)
				fmt.Fprintf(out, "  Service:   %s\n", rec.Service)
				fmt.Fprintf(out, "  Active:    %s\n", yesNo(rec.IsActive))
				fmt.Fprintf(out, "  Usage:     %d\n", rec.UsageCount)
				fmt.Fprintf(out, "  Created:   %s\n", formatTime(rec.CreatedAt))
				fmt.Fprintf(out, "  Last used: %s\n", rec.LastUsedString())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAPIKeys(func(ctx context.Context, svc *service.APIKeyService) error {
				keys, err := svc.List(ctx)
				if err != nil {
					return fmt.Errorf("list api keys: %w", err)
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, keys)
				}
				if len(keys) == 0 {
					fmt.Fprintln(out, "No API keys issued. Use 'keygate key create' to create one.")
					return nil
				}

				fmt.Fprintf(out, "%-12s %-20s %-8s %-8s %s\n", "PREFIX", "SERVICE", "ACTIVE", "USES", "LAST USED")
				fmt.Fprintf(out, "%-12s %-20s %-8s %-8s %s\n", "------", "-------", "------", "----", "---------")
				for _, k := range keys {
					fmt.Fprintf(out, "%-12s %-20s %-8s %-8d %s\n",
						k.KeyPrefix, k.Service, yesNo(k.IsActive), k.UsageCount, k.LastUsedString())
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
