package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCleanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clean [release-id]",
		Short: "Remove the persisted state for a release",
		Long: "Remove the persisted state so the next run of the same release id\n" +
			"starts from scratch instead of resuming.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			releaseID := releaseIDFromArgs(cfg, args)
			if err := store.Clear(cmd.Context(), releaseID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared state for release %s\n", releaseID)
			return nil
		},
	}
}
