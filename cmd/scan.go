package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/CWD273/cwiptvm3/internal/cache"
	"github.com/CWD273/cwiptvm3/internal/scanner"
)

func newScanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Runs one scan cycle and exits",
		Long: `Loads the persisted cache, resolves every catalog channel once, saves the
result, and prints a summary.`,
		Args: cobra.NoArgs,
		RunE: runScanCommand,
	}
}

func runScanCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd.Context())
	if err != nil {
		return err
	}
	app, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer app.Close()

	if err := app.Scanner().Startup(cmd.Context()); err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	report, err := app.Scanner().RunCycle(cmd.Context())
	printReport(cmd.OutOrStdout(), report)
	if err != nil {
		return fmt.Errorf("scan cycle: %w", err)
	}
	return nil
}

func printReport(w io.Writer, r scanner.Report) {
	fmt.Fprintf(w, "cycle %s: %s in %s\n", r.CycleID, r.Outcome, r.Duration())
	fmt.Fprintf(w, "channels %d, working %d, failed %d, changes %d\n",
		r.Channels, r.Working, r.Failed, len(r.Changes))
	if r.Unresolved > 0 {
		fmt.Fprintf(w, "unresolved %d (kept previous entries)\n", r.Unresolved)
	}
	sources := make([]string, 0, len(r.BySource))
	for s := range r.BySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	for _, s := range sources {
		fmt.Fprintf(w, "  %-10s %d\n", s, r.BySource[s])
	}
	for _, c := range r.Changes {
		switch c.Kind {
		case cache.ChangeRemoved:
			fmt.Fprintf(w, "  - %s %s\n", c.ChannelID, c.OldURL)
		default:
			fmt.Fprintf(w, "  + %s %s\n", c.ChannelID, c.NewURL)
		}
	}
	if r.ArchiveURI != "" {
		fmt.Fprintf(w, "report %s\n", r.ArchiveURI)
	}
}
