package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/openmined/syftxfer/internal/config"
	"github.com/openmined/syftxfer/internal/history"
	"github.com/openmined/syftxfer/internal/utils"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List recent runs, or the failures of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if prune, _ := cmd.Flags().GetDuration("prune"); prune > 0 {
				n, err := store.Prune(ctx, time.Now().Add(-prune))
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "pruned %d runs older than %s\n", n, prune)
				return nil
			}

			if len(args) == 1 {
				run, err := store.Get(ctx, args[0])
				if err != nil {
					return err
				}
				failures, err := store.Failures(ctx, run.ID)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return writeJSON(out, &jsonReport{Handler: run.Handler, Run: run, Failures: failures})
				}
				printRuns(out, []*history.Run{run})
				printFailures(out, failures)
				return nil
			}

			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := store.Recent(ctx, limit)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, gray("no runs recorded"))
				return nil
			}
			printRuns(out, runs)
			return nil
		},
	}
	cmd.Flags().Int("limit", 10, "number of runs to list")
	cmd.Flags().Duration("prune", 0, "delete runs older than this duration instead of listing")
	return cmd
}

// openHistory only needs the data dir, so the rest of the config is not validated
func openHistory(cmd *cobra.Command) (*history.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.DataDir == "" {
		cfg.DataDir = config.DefaultDataDir
	}
	dataDir, err := utils.ResolvePath(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	cfg.DataDir = dataDir
	return history.Open(cfg.HistoryPath())
}

func printRuns(w io.Writer, runs []*history.Run) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tHANDLER\tSTARTED\tTOOK\tOK\tFAILED\tCANCELLED\tBYTES\tSTATUS")
	for _, r := range runs {
		status := green(r.Status)
		if r.Status != history.RunStatusOK {
			status = red(r.Status)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID,
			r.Handler,
			humanize.Time(r.StartedAt()),
			r.Duration(),
			r.Succeeded,
			r.Failed+r.DependencyFailed,
			r.Cancelled,
			humanize.Bytes(uint64(r.Bytes)),
			status,
		)
	}
	tw.Flush()
}

func printFailures(w io.Writer, failures []*history.Failure) {
	for _, f := range failures {
		fmt.Fprintf(w, "  %s %s %s: %s\n", red(f.Status), f.Op, f.Path, f.Error)
	}
}
