package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolboxhq/keygate/internal/config"
	"github.com/toolboxhq/keygate/internal/service"
)

func newLicenseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "license",
		Aliases: []string{"lic"},
		Short:   "Manage license keys",
		Long:    "Issue, verify, revoke, inspect, export and import license keys in the local key store.",
	}

	cmd.AddCommand(newLicenseIssueCmd())
	cmd.AddCommand(newLicenseVerifyCmd())
	cmd.AddCommand(newLicenseRevokeCmd())
	cmd.AddCommand(newLicenseInfoCmd())
	cmd.AddCommand(newLicenseListCmd())
	cmd.AddCommand(newLicenseExportCmd())
	cmd.AddCommand(newLicenseImportCmd())

	return cmd
}

// withLicenses opens the store and runs fn against a license service.
func withLicenses(fn func(ctx context.Context, svc *service.LicenseService) error) error {
	logger := newLogger()
	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(context.Background(), service.NewLicenseService(store, serviceOptions(logger)))
}

// ---------- license issue ----------

func newLicenseIssueCmd() *cobra.Command {
	var (
		email      string
		name       string
		tier       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a new license",
		Long:  "Generate a license key for an owner email. The key is valid for license.validity_days from now.",
		Example: `  keygate license issue --email ada@example.com --name "Ada Lovelace"
  keygate license issue --email ops@example.com --type enterprise`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("email", email); err != nil {
				return err
			}
			return withLicenses(func(ctx context.Context, svc *service.LicenseService) error {
				lic, err := svc.Issue(ctx, email, name, tier)
				if err != nil {
					return fmt.Errorf("issue license: %w", err)
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, lic)
				}
				fmt.Fprintln(out, "License issued:")
				fmt.Fprintln(out)
				printLicense(out, lic)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owner email (required)")
	cmd.Flags().StringVar(&name, "name", "", "Owner display name")
	cmd.Flags().StringVar(&tier, "type", "", "License tier (default from license.default_type)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- license verify ----------

func newLicenseVerifyCmd() *cobra.Command {
	var (
		email      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "verify <license-key>",
		Short: "Verify a license against its owner email",
		Long:  "Check that a license exists, is active, belongs to the email and has not expired. A successful check counts as a use.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("email", email); err != nil {
				return err
			}
			return withLicenses(func(ctx context.Context, svc *service.LicenseService) error {
				lic, err := svc.Verify(ctx, args[0], email)
				if err != nil {
					return fmt.Errorf("verify license: %w", err)
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, lic)
				}
				fmt.Fprintln(out, "License is valid")
				fmt.Fprintln(out)
				printLicense(out, lic)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owner email to check against (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- license revoke ----------

func newLicenseRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <license-key>",
		Short: "Revoke a license",
		Long:  "Deactivate a license. The record is kept for auditing; revoking twice is harmless.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLicenses(func(ctx context.Context, svc *service.LicenseService) error {
				if err := svc.Revoke(ctx, args[0]); err != nil {
					return fmt.Errorf("revoke license: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked license %s\n", args[0])
				return nil
			})
		},
	}
}

// ---------- license info ----------

func newLicenseInfoCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info <license-key>",
		Short: "Show a license without counting a use",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLicenses(func(ctx context.Context, svc *service.LicenseService) error {
				lic, err := svc.Info(ctx, args[0])
				if err != nil {
					return fmt.Errorf("license info: %w", err)
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), lic)
				}
				printLicense(cmd.OutOrStdout(), lic)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- license list ----------

func newLicenseListCmd() *cobra.Command {
	var (
		email      string
		activeOnly bool
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List licenses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLicenses(func(ctx context.Context, svc *service.LicenseService) error {
				lics, err := svc.List(ctx, config.LicenseFilter{Email: email, ActiveOnly: activeOnly})
				if err != nil {
					return fmt.Errorf("list licenses: %w", err)
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, lics)
				}
				if len(lics) == 0 {
					fmt.Fprintln(out, "No licenses found. Use 'keygate license issue' to create one.")
					return nil
				}

				fmt.Fprintf(out, "%-36s %-28s %-12s %-8s %-8s %s\n", "KEY", "EMAIL", "TYPE", "ACTIVE", "USES", "EXPIRES")
				fmt.Fprintf(out, "%-36s %-28s %-12s %-8s %-8s %s\n", "---", "-----", "----", "------", "----", "-------")
				for _, l := range lics {
					fmt.Fprintf(out, "%-36s %-28s %-12s %-8s %-8d %s\n",
						l.Key, l.Email, l.Type, yesNo(l.IsActive), l.UsageCount, l.ExpiresAt.Local().Format("2006-01-02"))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Only licenses owned by this email")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only active licenses")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- license export ----------

func newLicenseExportCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <license-key>",
		Short: "Export a license file for offline activation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLicenses(func(ctx context.Context, svc *service.LicenseService) error {
				if output == "" {
					return svc.Export(ctx, args[0], cmd.OutOrStdout())
				}
				f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				if err := svc.Export(ctx, args[0], f); err != nil {
					f.Close()
					return fmt.Errorf("export license: %w", err)
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "License exported to %s\n", output)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")

	return cmd
}

// ---------- license import ----------

func newLicenseImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a license file into the store",
		Long:  "Read a license file written by 'keygate license export' and store it, replacing any record with the same key.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer f.Close()

			return withLicenses(func(ctx context.Context, svc *service.LicenseService) error {
				lic, err := svc.Import(ctx, f)
				if err != nil {
					return fmt.Errorf("import license: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported license %s for %s\n", lic.Key, lic.Email)
				return nil
			})
		},
	}
}
