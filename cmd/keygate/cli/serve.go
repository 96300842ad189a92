package cli

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/toolboxhq/keygate/internal/config"
	"github.com/toolboxhq/keygate/internal/metrics"
	"github.com/toolboxhq/keygate/internal/server"
	"github.com/toolboxhq/keygate/internal/service"
	"github.com/toolboxhq/keygate/internal/telemetry"
)

const banner = `
 _                         _
| | _____ _   _  __ _  __ _| |_ ___
| |/ / _ \ | | |/ _' |/ _' | __/ _ \
|   <  __/ |_| | (_| | (_| | ||  __/
|_|\_\___|\__, |\__, |\__,_|\__\___|
          |___/ |___/
`

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the license API server",
		Long: `Start the HTTP server that issues and verifies licenses and API keys.

Verification routes are always open and rate limited per client IP. With
auth.required set, issuance, revocation, info and stats routes need the admin
key, an API key issued for the "admin" service, or a token from 'keygate token'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	cmd.Flags().IntP("port", "p", 8000, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().Bool("auth", false, "Require admin authentication on mutating routes")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("auth.required", cmd.Flags().Lookup("auth"))

	return cmd
}

// serverConfig builds the HTTP server configuration from viper.
func serverConfig() server.Config {
	cfg := server.DefaultConfig()
	cfg.Host = viper.GetString("server.host")
	cfg.Port = viper.GetInt("server.port")
	if d := viper.GetDuration("server.shutdown_timeout"); d > 0 {
		cfg.ShutdownTimeout = d
	}
	if origins := viper.GetStringSlice("server.cors_origins"); len(origins) > 0 {
		cfg.CORSOrigins = origins
	}
	if n := viper.GetInt64("server.max_body_size"); n > 0 {
		cfg.MaxBodySize = n
	}
	cfg.Version = versionString()
	cfg.BaseURL = viper.GetString("server.base_url")
	cfg.AuthRequired = viper.GetBool("auth.required")
	cfg.AdminKey = viper.GetString("auth.admin_key")
	cfg.JWTSecret = viper.GetString("auth.jwt_secret")
	cfg.VerifyPerMinute = viper.GetInt("ratelimit.verify_per_minute")
	return cfg
}

func runServe(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, banner)
	fmt.Fprintln(out)

	logger := newLogger()

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("key store opened", "driver", storeConfig().Driver, "data_dir", resolveDataDir())

	cfg := serverConfig()
	if cfg.AuthRequired && cfg.AdminKey == "" && cfg.JWTSecret == "" {
		logger.Warn("auth.required is set but neither auth.admin_key nor auth.jwt_secret is configured; only admin-service API keys will be accepted")
	}

	tracker := startTelemetry(store, logger)
	defer tracker.Shutdown()

	srv := server.New(cfg, store, serviceOptions(logger), metrics.New(), logger)

	host := cfg.Host
	if host == "0.0.0.0" {
		host = "localhost"
	}
	fmt.Fprintf(out, "→ keygate %s\n", versionString())
	fmt.Fprintf(out, "→ Listening on http://%s:%d\n", host, cfg.Port)
	fmt.Fprintf(out, "→ OpenAPI:    http://%s:%d/openapi.json\n", host, cfg.Port)
	fmt.Fprintf(out, "→ Health:     http://%s:%d/health\n", host, cfg.Port)
	fmt.Fprintf(out, "→ Metrics:    http://%s:%d/metrics\n", host, cfg.Port)
	fmt.Fprintf(out, "→ Auth:       %s\n", map[bool]string{true: "required", false: "open"}[cfg.AuthRequired])
	fmt.Fprintln(out)

	return srv.ListenAndServe()
}

// startTelemetry starts the opt-in heartbeat. The returned tracker may be nil.
func startTelemetry(store config.Backend, logger *slog.Logger) *telemetry.Tracker {
	var settings telemetry.SettingsStore
	if s, ok := store.(*config.Store); ok {
		settings = s
	}

	ctx := context.Background()
	tracker := telemetry.New(ctx, settings, telemetry.Config{
		Enabled:  viper.GetBool("telemetry.enabled"),
		Endpoint: viper.GetString("telemetry.endpoint"),
	}, func() telemetry.Properties {
		props := telemetry.Properties{
			Version:     versionString(),
			GoVersion:   runtime.Version(),
			OS:          runtime.GOOS,
			Arch:        runtime.GOARCH,
			StoreDriver: storeConfig().Driver,
		}
		if viper.GetBool("auth.required") {
			props.Features = append(props.Features, "auth")
		}
		if viper.GetInt("ratelimit.verify_per_minute") > 0 {
			props.Features = append(props.Features, "ratelimit")
		}
		st, err := service.CollectStats(ctx, store, time.Now())
		if err != nil {
			logger.Debug("telemetry stats unavailable", "error", err)
			return props
		}
		props.Licenses = st.Licenses.Total
		props.ActiveLicenses = st.Licenses.Active
		props.APIKeys = st.APIKeys.Total
		return props
	})
	if tracker != nil {
		telemetry.PrintNotice(viper.GetString("telemetry.endpoint"))
		tracker.Start()
	}
	return tracker
}
