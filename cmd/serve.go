package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the scheduler and the redirect API",
		Long: `Loads the persisted cache, schedules scan cycles, and serves the redirect
and operator API until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: runServeCommand,
	}
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	app, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer app.Close()

	if err := app.Run(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run server: %w", err)
	}
	return nil
}
