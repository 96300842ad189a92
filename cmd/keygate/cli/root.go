package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/toolboxhq/keygate/internal/config"
)

var (
	cfgFile    string
	logFormat  string
	verbose    bool
	appVersion string // set in Execute, reported by serve, status and telemetry
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	appVersion = version
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygate",
		Short: "Issue and verify license keys and API keys",
		Long: `keygate issues, verifies, revokes and reports on license keys and API keys.

It runs as an HTTP service (keygate serve), manages the key store directly from
the command line, gates free-tier usage limits, and embeds an offline-capable
client for desktop tools (keygate client).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is <data-dir>/config.yaml)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the key store (default: ~/.keygate)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (default from log.format)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newLicenseCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newGateCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newTokenCmd())
	cmd.AddCommand(newClientCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newOpenAPICmd())
	cmd.AddCommand(newMCPCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))

	return cmd
}

// initConfig loads defaults, the optional config file and KEYGATE_*
// environment overrides into viper.
func initConfig() {
	setDefaults(config.DefaultYAMLConfig())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigFile(filepath.Join(resolveDataDir(), "config.yaml"))
	}

	viper.SetEnvPrefix("KEYGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// The default config file is optional; an explicit one must load.
	if err := viper.ReadInConfig(); err != nil && cfgFile != "" {
		fmt.Fprintf(os.Stderr, "warning: cannot read config %s: %v\n", cfgFile, err)
	}
}

func setDefaults(d *config.YAMLConfig) {
	viper.SetDefault("server.host", d.Server.Host)
	viper.SetDefault("server.port", d.Server.Port)
	viper.SetDefault("server.max_body_size", d.Server.MaxBodySize)
	viper.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	viper.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	viper.SetDefault("server.base_url", "")

	viper.SetDefault("store.driver", d.Store.Driver)
	viper.SetDefault("store.dsn", d.Store.DSN)

	viper.SetDefault("license.validity_days", d.License.ValidityDays)
	viper.SetDefault("license.default_type", d.License.DefaultType)

	viper.SetDefault("auth.required", d.Auth.Required)
	viper.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	viper.SetDefault("auth.admin_key", d.Auth.AdminKey)

	viper.SetDefault("ratelimit.verify_per_minute", d.RateLimit.VerifyPerMinute)

	viper.SetDefault("client.api_url", d.Client.APIURL)
	viper.SetDefault("client.mode", d.Client.Mode)
	viper.SetDefault("client.timeout", d.Client.Timeout)
	viper.SetDefault("client.token", d.Client.Token)

	viper.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	viper.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)

	viper.SetDefault("log.level", d.Log.Level)
	viper.SetDefault("log.format", d.Log.Format)
}
