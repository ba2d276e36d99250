package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/buckleypaul/sdkrun/internal/report"
	"github.com/buckleypaul/sdkrun/internal/store"
	"github.com/buckleypaul/sdkrun/internal/ui"
)

func newHistoryCommand(rootOpts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs, or the summary of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st := store.New(rootOpts.stateDir())
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				rep, err := st.LoadReport(args[0])
				if err != nil {
					return wrapExit(exitCommandError, "load run "+args[0], err)
				}
				fmt.Fprint(out, (&report.Console{}).Render(rep))
				return nil
			}

			runs, err := st.Runs()
			if err != nil {
				return wrapExit(exitCommandError, "load history", err)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded")
				return nil
			}
			if limit > 0 && len(runs) > limit {
				runs = runs[len(runs)-limit:]
			}

			t := ui.Table(false, "RUN", "STARTED", "DURATION", "CASES", "PASSED", "FAILED", "RESULT")
			for i := len(runs) - 1; i >= 0; i-- {
				r := runs[i]
				result := "pass"
				switch {
				case r.Aborted != "":
					result = "aborted"
				case r.Interrupted:
					result = "interrupted"
				case !r.Success && r.AsExpected:
					result = "expected failures"
				case !r.Success:
					result = "fail"
				}
				t.Row(r.RunID, humanize.Time(r.Timestamp), r.Duration,
					strconv.Itoa(r.Cases), strconv.Itoa(r.Passed), strconv.Itoa(r.Failed), result)
			}
			fmt.Fprintln(out, t.Render())
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show, 0 for all")
	return cmd
}
