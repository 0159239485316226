package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"lacquer/internal/release"
	"lacquer/internal/state"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var listAll bool

	cmd := &cobra.Command{
		Use:   "status [release-id]",
		Short: "Show the persisted progress of a release",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := ctx.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if listAll {
				states, err := store.List(cmd.Context())
				if err != nil {
					return err
				}
				renderReleaseList(out, states)
				return nil
			}

			releaseID := releaseIDFromArgs(cfg, args)
			st, err := store.Load(cmd.Context(), releaseID)
			if errors.Is(err, state.ErrNotFound) {
				fmt.Fprintf(out, "no state recorded for release %s\n", releaseID)
				return nil
			}
			if err != nil {
				return err
			}
			renderReleaseStatus(out, st)
			return nil
		},
	}

	cmd.Flags().BoolVar(&listAll, "all", false, "List every release with persisted state")
	return cmd
}

func renderReleaseList(out io.Writer, states []*release.State) {
	if len(states) == 0 {
		fmt.Fprintln(out, "no releases with persisted state")
		return
	}
	rows := make([][]string, 0, len(states))
	for _, st := range states {
		rows = append(rows, []string{st.ReleaseID, releaseProgress(st), humanize.Time(st.UpdatedAt)})
	}
	fmt.Fprintln(out, renderTable([]string{"RELEASE", "PROGRESS", "UPDATED"}, rows))
}

func renderReleaseStatus(out io.Writer, st *release.State) {
	colorize := shouldColorize(out)

	fmt.Fprintf(out, "release %s (%s)\n", st.ReleaseID, releaseProgress(st))

	rows := make([][]string, 0, len(release.Order))
	for _, stage := range release.Order {
		rec := st.Record(stage)
		detail := rec.Artifact
		if rec.LastError != nil {
			detail = fmt.Sprintf("%s: %s", rec.LastError.Kind, rec.LastError.Message)
		}
		rows = append(rows, []string{
			string(stage),
			statusCell(rec.Status, colorize),
			strconv.Itoa(rec.Attempts),
			detail,
		})
	}
	fmt.Fprintln(out, renderTable([]string{"STAGE", "STATUS", "ATTEMPTS", "DETAIL"}, rows))

	if sub := st.Submission; sub != nil && sub.ID != "" {
		fmt.Fprintf(out, "submission %s: %s", sub.ID, sub.Verdict)
		if sub.PollCount > 0 && sub.LastPolledAt != nil {
			fmt.Fprintf(out, " (%d polls, last %s)", sub.PollCount, humanize.Time(*sub.LastPolledAt))
		}
		fmt.Fprintln(out)
	}

	if artifact := st.Record(release.StageArchive).Artifact; artifact != "" {
		if info, err := os.Stat(artifact); err == nil {
			fmt.Fprintf(out, "archive %s (%s)\n", artifact, humanize.IBytes(uint64(info.Size())))
		}
	}
}

func releaseProgress(st *release.State) string {
	completed := 0
	for _, stage := range release.Order {
		if st.Completed(stage) {
			completed++
		}
	}
	return fmt.Sprintf("%d/%d stages", completed, len(release.Order))
}

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

func statusCell(status release.StageStatus, colorize bool) string {
	if !colorize {
		return string(status)
	}
	switch status {
	case release.StatusCompleted:
		return ansiGreen + string(status) + ansiReset
	case release.StatusFailed:
		return ansiRed + string(status) + ansiReset
	case release.StatusInProgress:
		return ansiYellow + string(status) + ansiReset
	default:
		return string(status)
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
