// Package cmd defines and implements the CLI commands for the cwiptvm3 executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CWD273/cwiptvm3/internal/config"
	"github.com/CWD273/cwiptvm3/internal/scanner"
	"github.com/CWD273/cwiptvm3/internal/server"
)

// configKeyType is the key for storing the loaded Config in the context.
type configKeyType string

const configKey configKeyType = "config"

// App is the application surface the commands use. Tests substitute a fake.
type App interface {
	Run(ctx context.Context) error
	Close()
	Logger() *zap.Logger
	Scanner() *scanner.Scanner
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "cwiptvm3",
		Short: "Keeps a working stream URL for every IPTV channel and redirects players to it.",
		Long: `cwiptvm3 periodically probes each channel of an IPTV catalog, falls back to
alternate origin hosts when the advertised stream is down, caches the last
known working URL per channel, and serves redirects to it over HTTP.`,
		SilenceUsage: true,

		// Config is loaded once here; subcommands pull it from the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, &cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml or $HOME/.cwiptvm3/config.yaml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newLookupCmd())
	return cmd
}

func resolveConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(configKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
