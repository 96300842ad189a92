package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/toolboxhq/keygate/internal/manager"
	"github.com/toolboxhq/keygate/internal/service"
)

type clientFlags struct {
	mode   string
	apiURL string
	dir    string
}

func newClientCmd() *cobra.Command {
	var cf clientFlags

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage licenses the way a desktop tool does",
		Long: `Run license operations through the embedded license manager. In online mode
every call goes to the server at client.api_url; in offline mode only the local
license cache is used; auto mode tries the server and falls back to the cache
when the server cannot be reached.`,
	}

	cmd.PersistentFlags().StringVar(&cf.mode, "mode", "", "offline, online or auto (default from client.mode)")
	cmd.PersistentFlags().StringVar(&cf.apiURL, "api-url", "", "Server base URL (default from client.api_url)")
	cmd.PersistentFlags().StringVar(&cf.dir, "client-dir", "", "Local license cache (default: <data-dir>/client)")

	cmd.AddCommand(newClientGenerateCmd(&cf))
	cmd.AddCommand(newClientVerifyCmd(&cf))
	cmd.AddCommand(newClientRevokeCmd(&cf))
	cmd.AddCommand(newClientInfoCmd(&cf))
	cmd.AddCommand(newClientListCmd(&cf))
	cmd.AddCommand(newClientImportCmd(&cf))
	cmd.AddCommand(newClientExportCmd(&cf))
	cmd.AddCommand(newClientLimitsCmd(&cf))

	return cmd
}

func (cf *clientFlags) open() (*manager.Manager, error) {
	modeName := cf.mode
	if modeName == "" {
		modeName = viper.GetString("client.mode")
	}
	mode, err := manager.ParseMode(modeName)
	if err != nil {
		return nil, err
	}

	dir := cf.dir
	if dir == "" {
		dir = filepath.Join(resolveDataDir(), "client")
	}

	logger := newLogger()
	cfg := manager.Config{
		Dir:     dir,
		Mode:    mode,
		Options: serviceOptions(logger),
		Logger:  logger,
	}
	if mode != manager.ModeOffline {
		cfg.Remote = newRemoteClient(cf.apiURL)
	}
	return manager.New(cfg)
}

// run opens a manager and reports a Result: its message on success, an error
// carrying the same message otherwise.
func (cf *clientFlags) run(cmd *cobra.Command, fn func(ctx context.Context, m *manager.Manager) manager.Result) error {
	m, err := cf.open()
	if err != nil {
		return err
	}
	res := fn(context.Background(), m)
	if !res.OK {
		if res.Err != nil {
			return fmt.Errorf("%s: %w", res.Message, res.Err)
		}
		return errors.New(res.Message)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s)\n", res.Message, res.Source)
	if res.License != nil {
		printLicense(out, res.License)
	}
	return nil
}

// ---------- client generate ----------

func newClientGenerateCmd(cf *clientFlags) *cobra.Command {
	var email, name, tier string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a license",
		Long:  "Generate a license on the server, or locally (marked offline) when the server is not used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("email", email); err != nil {
				return err
			}
			return cf.run(cmd, func(ctx context.Context, m *manager.Manager) manager.Result {
				return m.Generate(ctx, email, name, tier)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owner email (required)")
	cmd.Flags().StringVar(&name, "name", "", "Owner display name")
	cmd.Flags().StringVar(&tier, "type", "", "License tier (default from license.default_type)")

	return cmd
}

// ---------- client verify ----------

func newClientVerifyCmd(cf *clientFlags) *cobra.Command {
	var email string

	cmd := &cobra.Command{
		Use:   "verify <license-key>",
		Short: "Verify a license",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag("email", email); err != nil {
				return err
			}
			return cf.run(cmd, func(ctx context.Context, m *manager.Manager) manager.Result {
				return m.Verify(ctx, args[0], email)
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owner email (required)")

	return cmd
}

// ---------- client revoke ----------

func newClientRevokeCmd(cf *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <license-key>",
		Short: "Revoke a license",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cf.run(cmd, func(ctx context.Context, m *manager.Manager) manager.Result {
				return m.Revoke(ctx, args[0])
			})
		},
	}
}

// ---------- client info ----------

func newClientInfoCmd(cf *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "info <license-key>",
		Short: "Show a license",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cf.run(cmd, func(ctx context.Context, m *manager.Manager) manager.Result {
				return m.Info(ctx, args[0])
			})
		},
	}
}

// ---------- client list ----------

func newClientListCmd(cf *clientFlags) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List licenses in the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := cf.open()
			if err != nil {
				return err
			}
			lics, err := m.List(context.Background())
			if err != nil {
				return fmt.Errorf("list licenses: %w", err)
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, lics)
			}
			if len(lics) == 0 {
				fmt.Fprintf(out, "No licenses cached in %s\n", m.Dir())
				return nil
			}
			fmt.Fprintf(out, "%-36s %-28s %-12s %-8s %s\n", "KEY", "EMAIL", "TYPE", "ACTIVE", "OFFLINE")
			fmt.Fprintf(out, "%-36s %-28s %-12s %-8s %s\n", "---", "-----", "----", "------", "-------")
			for _, l := range lics {
				fmt.Fprintf(out, "%-36s %-28s %-12s %-8s %s\n", l.Key, l.Email, l.Type, yesNo(l.IsActive), yesNo(l.Offline))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- client import / export ----------

func newClientImportCmd(cf *clientFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import a license file into the local cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cf.run(cmd, func(ctx context.Context, m *manager.Manager) manager.Result {
				return m.Import(ctx, args[0])
			})
		},
	}
}

func newClientExportCmd(cf *clientFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <license-key>",
		Short: "Export a cached license to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = args[0] + ".json"
			}
			return cf.run(cmd, func(ctx context.Context, m *manager.Manager) manager.Result {
				return m.Export(ctx, args[0], output)
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: <license-key>.json)")

	return cmd
}

// ---------- client limits ----------

func newClientLimitsCmd(cf *clientFlags) *cobra.Command {
	var (
		email string
		kind  string
		count int
	)

	cmd := &cobra.Command{
		Use:   "limits",
		Short: "Show limits, or check an operation with --kind",
		Example: `  keygate client limits --email ada@example.com
  keygate client limits --kind image --count 40`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if kind != "" {
				return cf.run(cmd, func(ctx context.Context, m *manager.Manager) manager.Result {
					return m.Check(ctx, email, kind, count)
				})
			}

			m, err := cf.open()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			limits, err := m.Limits(ctx, email)
			if err != nil {
				return fmt.Errorf("%s: %w", manager.Message(err), err)
			}
			printLimits(cmd.OutOrStdout(), email, limits)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Only consider licenses owned by this email")
	cmd.Flags().StringVar(&kind, "kind", "", "Check an operation kind: "+strings.Join(service.Kinds, ", "))
	cmd.Flags().IntVar(&count, "count", 1, "Number of items for --kind")

	return cmd
}
