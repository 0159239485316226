package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lacquer/internal/pipeline"
	"lacquer/internal/release"
)

func newReleaseCommand(ctx *commandContext) *cobra.Command {
	var keepState bool

	cmd := &cobra.Command{
		Use:   "release [release-id]",
		Short: "Run the release pipeline to a notarized, stapled archive",
		Long: "Run the merge, sign, notarize, staple, and archive stages in order.\n" +
			"State is saved after every stage, so rerunning the same release id\n" +
			"resumes where the previous run stopped.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			logger, err := ctx.newLogger()
			if err != nil {
				return err
			}

			runner, err := pipeline.New(cfg, store, pipeline.WithLogger(logger))
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			releaseID := releaseIDFromArgs(cfg, args)
			st, runErr := runner.Run(runCtx, releaseID)
			if runErr != nil {
				var stageErr *pipeline.Error
				if errors.As(runErr, &stageErr) {
					return fmt.Errorf("release %s halted at %s: %w", releaseID, stageErr.Stage, stageErr.Err)
				}
				return runErr
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "release %s completed\n", releaseID)
			fmt.Fprintf(out, "  archive: %s\n", st.Record(release.StageArchive).Artifact)
			if st.Submission != nil {
				fmt.Fprintf(out, "  notarization: %s (%s)\n", st.Submission.ID, st.Submission.Verdict)
			}

			if !keepState {
				if err := store.Clear(cmd.Context(), releaseID); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&keepState, "keep-state", false, "Keep the persisted release state after a successful run")
	return cmd
}
