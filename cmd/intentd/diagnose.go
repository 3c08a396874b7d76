package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/intentkit/intentkit/api"
	"github.com/intentkit/intentkit/manager"
	"github.com/intentkit/intentkit/manager/state/persist"
	"github.com/spf13/cobra"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "List the persisted intents of a stopped manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		stateDir, err := cmd.Flags().GetString("state-dir")
		if err != nil {
			return err
		}
		stateFilter, err := cmd.Flags().GetString("state")
		if err != nil {
			return err
		}
		var filter *api.IntentState
		if stateFilter != "" {
			s, err := api.ParseIntentState(stateFilter)
			if err != nil {
				return err
			}
			filter = &s
		}

		db, err := persist.Open(filepath.Join(stateDir, manager.DBFile))
		if err != nil {
			return err
		}
		defer db.Close()
		records, err := db.Load()
		if err != nil {
			return err
		}
		stuckAfter, err := cmd.Flags().GetDuration("stuck-after")
		if err != nil {
			return err
		}
		printIntents(cmd.OutOrStdout(), records, filter)
		printAttention(cmd.OutOrStdout(), records, stuckAfter, time.Now())
		return nil
	},
}

func init() {
	diagnoseCmd.Flags().String("state", "", "Only list intents in this state")
	diagnoseCmd.Flags().Duration("stuck-after", time.Minute, "Age after which an installing or withdrawing intent is reported as stuck")
}

func printIntents(out io.Writer, records []*api.IntentData, filter *api.IntentState) {
	w := tabwriter.NewWriter(out, 4, 4, 4, ' ', 0)
	defer w.Flush()

	sort.Slice(records, func(i, j int) bool {
		return records[i].Key().String() < records[j].Key().String()
	})
	fmt.Fprintln(w, "KEY\tTYPE\tSTATE\tREQUEST\tVERSION\tUPDATED\tERRORS\tINSTALLABLES")
	for _, d := range records {
		if filter != nil && d.State != *filter {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%d\t%d\n",
			d.Key(),
			d.Intent.Type(),
			d.State,
			d.Request,
			d.Version.Index,
			humanize.Time(d.Version.Timestamp),
			d.ErrorCount,
			len(d.Installables),
		)
	}
}

// needsAttention returns the reason d should be looked at, or "" if it is
// fine.
func needsAttention(d *api.IntentData, stuckAfter time.Duration, now time.Time) string {
	switch d.State {
	case api.IntentStateCorrupt:
		return fmt.Sprintf("installation failed %d time(s)", d.ErrorCount)
	case api.IntentStateFailed:
		return "compilation failed"
	case api.IntentStateInstalling, api.IntentStateWithdrawing:
		if age := now.Sub(d.Version.Timestamp); age >= stuckAfter {
			return fmt.Sprintf("stuck in %s since %s", d.State, humanize.RelTime(d.Version.Timestamp, now, "ago", "from now"))
		}
	}
	return ""
}

func printAttention(out io.Writer, records []*api.IntentData, stuckAfter time.Duration, now time.Time) {
	var count int
	for _, d := range records {
		reason := needsAttention(d, stuckAfter, now)
		if reason == "" {
			continue
		}
		if count == 0 {
			fmt.Fprintln(out, "\nIntents needing attention:")
		}
		count++
		fmt.Fprintf(out, "  %s: %s\n", d.Key(), reason)
	}
	if count == 0 {
		fmt.Fprintln(out, "\nAll intents are in a steady state.")
	}
}
