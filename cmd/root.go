// Package cmd defines and implements the CLI commands for the archive-ingest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-ingest/internal/api"
	"github.com/JakeFAU/archive-ingest/internal/app"
	"github.com/JakeFAU/archive-ingest/internal/config"
	"github.com/JakeFAU/archive-ingest/internal/logging"
	"github.com/JakeFAU/archive-ingest/internal/runner"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
type App interface {
	Close()
	Config() config.Config
	Logger() *zap.Logger
	Runner() *runner.Runner
	Server() *api.Server
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.NewApp(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "archive-ingest",
		Short: "Rebuilds event catalogs from archived listing pages.",
		Long: `archive-ingest walks the listing and entry pages of historical event
archives, resolving each page through the live site, Wayback snapshots and
read-through proxies, and writes a normalized catalog, local image assets
and an audit summary per source.`,
		SilenceUsage: true,

		// Config is loaded and the App built before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := applyRunFlags(cmd, &cfg); err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSourcesCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// applyRunFlags folds command-specific overrides into cfg before the App is
// built, so run-scoped services see them.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if f := flags.Lookup("refresh"); f != nil && f.Changed {
		refresh, err := flags.GetBool("refresh")
		if err != nil {
			return err
		}
		cfg.Run.Refresh = refresh
	}
	if f := flags.Lookup("concurrency"); f != nil && f.Changed {
		n, err := flags.GetInt("concurrency")
		if err != nil {
			return err
		}
		cfg.Run.Concurrency = n
	}
	if f := flags.Lookup("pushgateway"); f != nil && f.Changed {
		gateway, err := flags.GetString("pushgateway")
		if err != nil {
			return err
		}
		cfg.Metrics.PushgatewayURL = gateway
	}
	return cfg.Validate()
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
