package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CWD273/cwiptvm3/internal/server"
)

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <channel_id>",
		Short: "Prints the cached working URL for a channel",
		Long:  `Reads the persisted cache directly; no probing happens.`,
		Args:  cobra.ExactArgs(1),
		RunE:  runLookupCommand,
	}
}

func runLookupCommand(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	store, err := server.OpenStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck // read-only use

	snap, err := store.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load cache: %w", err)
	}
	entry, ok := snap[args[0]]
	if !ok {
		return fmt.Errorf("no working stream cached for %q", args[0])
	}
	fmt.Fprintln(cmd.OutOrStdout(), entry.URL)
	return nil
}
