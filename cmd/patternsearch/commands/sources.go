package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSourcesCommand(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List the archived sources and their features",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to open storage: %w", err)
			}
			defer store.Close()

			sources, err := store.Sources(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list sources: %w", err)
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sources)
			}
			renderSources(cmd.OutOrStdout(), sources)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
