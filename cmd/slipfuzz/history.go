package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/slipfuzz/slipfuzz/internal/config"
)

func historyCmd() *cobra.Command {
	var (
		path  string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List remembered runs, newest first",
		Long: `List the seeds and opponents of previous runs. Any entry can be repeated with
slipfuzz -u user.json -o <opponent> -s <seed>; the newest one with --replay-last.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				state *config.Config
				err   error
			)
			if path == "" {
				state, err = config.Load()
			} else {
				state, err = config.LoadFrom(path)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(state.Runs) == 0 {
				fmt.Fprintln(out, "no runs recorded")
				return nil
			}
			for i, run := range state.Runs {
				if limit > 0 && i >= limit {
					break
				}
				at := "-"
				if !run.At.IsZero() {
					at = run.At.Local().Format(time.DateTime)
				}
				fmt.Fprintf(out, "%-19s  %-20d  %s\n", at, run.Seed, run.Opponent)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "state", "", "State file to read (default ~/.slipfuzz/config.json)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show at most this many runs (0 shows all)")
	return cmd
}
