package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/toolboxhq/keygate/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage keygate configuration",
		Long:  "Initialize a default configuration file or display the current effective configuration.",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

// ---------- config init ----------

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default config.yaml",
		Long:  "Write the default configuration to --config, or to config.yaml in the data directory.",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := cfgFile
			if path == "" {
				path = filepath.Join(resolveDataDir(), "config.yaml")
			}

			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if err := config.WriteDefaultConfig(path); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created %s\n", path)
			fmt.Fprintln(out, "Edit the file to choose a store driver and set auth secrets, then run 'keygate serve'.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config file")

	return cmd
}

// ---------- config show ----------

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if f := viper.ConfigFileUsed(); f != "" {
				if _, err := os.Stat(f); err == nil {
					fmt.Fprintf(out, "Config file: %s\n", f)
				} else {
					fmt.Fprintln(out, "Config file: (none found, using defaults)")
				}
			}
			fmt.Fprintf(out, "Data dir:    %s\n", resolveDataDir())
			fmt.Fprintln(out)

			keys := viper.AllKeys()
			sort.Strings(keys)
			for _, key := range keys {
				value := viper.Get(key)
				if isSecretKey(key) && fmt.Sprint(value) != "" {
					value = "********"
				}
				fmt.Fprintf(out, "  %s: %v\n", key, value)
			}
			return nil
		},
	}
}

func isSecretKey(key string) bool {
	switch key {
	case "auth.jwt_secret", "auth.admin_key", "client.token", "store.dsn":
		return true
	}
	return false
}
