package commands

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/vjranagit/patternsearch/pkg/ingest"
)

func newIngestCommand(a *app) *cobra.Command {
	var sources []string

	cmd := &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Load recorded JSON logs into the archive",
		Long: `Load every <source><n>.json log of a directory into the archive.
Files are read in rotation order and the source name is the file name
without its rotation index, so ir_data3.json belongs to ir_data.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			store, err := a.openStore(ctx)
			if err != nil {
				return fmt.Errorf("failed to open storage: %w", err)
			}
			defer store.Close()

			stats, err := ingest.Dir(ctx, store, args[0], sources, a.logger)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d samples from %d files (%d failed, %d records skipped)\n",
				stats.Samples, stats.Files, stats.Failed, stats.Skipped)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&sources, "source", nil, "only ingest this source (repeatable)")
	return cmd
}
